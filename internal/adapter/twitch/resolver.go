package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
	"golang.org/x/sync/singleflight"
)

const lookupTimeout = 15 * time.Second

// UserStore persists resolved login/id pairs.
type UserStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type userAPI interface {
	Users(ctx context.Context, ids, logins []string) ([]helix.User, error)
}

// UserResolver maps logins to ids and back, caching both directions in the
// settings store. Concurrent lookups of the same key share one API call.
type UserResolver struct {
	api    userAPI
	store  UserStore
	group  singleflight.Group
	logger *slog.Logger
}

func NewUserResolver(client *Client, store UserStore, logger *slog.Logger) *UserResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserResolver{api: client, store: store, logger: logging.WithComponent(logger, "twitch_users")}
}

func loginKey(login string) string { return "twitch.users." + login + ".id" }
func idKey(id string) string       { return "twitch.users." + id + ".login" }

func (r *UserResolver) IDForLogin(ctx context.Context, login string) (string, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return "", domain.ErrUserNotFound
	}
	return r.resolve(ctx, loginKey(login), func(u helix.User) string { return u.ID }, nil, []string{login})
}

func (r *UserResolver) LoginForID(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", domain.ErrUserNotFound
	}
	return r.resolve(ctx, idKey(id), func(u helix.User) string { return u.Login }, []string{id}, nil)
}

func (r *UserResolver) resolve(ctx context.Context, key string, pick func(helix.User) string, ids, logins []string) (string, error) {
	if v, err := r.store.Get(ctx, key); err == nil && v != "" {
		return v, nil
	} else if err != nil && !errors.Is(err, domain.ErrSettingNotFound) {
		r.logger.WarnContext(ctx, "User cache read failed, asking Twitch", "key", key, "error", err)
	}

	// The shared lookup outlives any single caller; each caller only waits
	// as long as its own context allows.
	ch := r.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		users, err := r.api.Users(lookupCtx, ids, logins)
		if err != nil {
			return "", fmt.Errorf("look up twitch user: %w", err)
		}
		if len(users) == 0 {
			return "", domain.ErrUserNotFound
		}
		u := users[0]
		r.remember(lookupCtx, u)
		return pick(u), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *UserResolver) remember(ctx context.Context, u helix.User) {
	login := strings.ToLower(u.Login)
	if err := r.store.Set(ctx, loginKey(login), u.ID); err != nil {
		r.logger.WarnContext(ctx, "Failed to cache user id", "login", login, "error", err)
	}
	if err := r.store.Set(ctx, idKey(u.ID), login); err != nil {
		r.logger.WarnContext(ctx, "Failed to cache user login", "user_id", u.ID, "error", err)
	}
}
