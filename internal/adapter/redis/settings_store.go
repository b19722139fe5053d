package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/pscheid92/streamdvr/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	settingsKey = "streamdvr:settings"
	// maxUpdateAttempts bounds compare-and-set retries under contention.
	maxUpdateAttempts = 16
)

// casScript writes ARGV[4] to field ARGV[1] only if the field still holds the
// value the caller read: absent when ARGV[2] is "0", ARGV[3] otherwise.
// Returns 1 when written, 0 on conflict.
var casScript = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if ARGV[2] == '0' then
	if current then return 0 end
elseif current ~= ARGV[3] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[4])
return 1
`)

// ErrUpdateContention is returned when Update keeps losing races.
var ErrUpdateContention = errors.New("settings update lost too many races")

// SettingsStore keeps all settings as fields of one hash.
type SettingsStore struct {
	rdb goredis.Cmdable
	key string
}

var _ domain.SettingsStore = (*SettingsStore)(nil)

func NewSettingsStore(rdb goredis.Cmdable) *SettingsStore {
	return &SettingsStore{rdb: rdb, key: settingsKey}
}

func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.HGet(ctx, s.key, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", domain.ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get setting %s: %w", key, err)
	}
	return v, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.HSet(ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis set setting %s: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("redis delete setting %s: %w", key, err)
	}
	return nil
}

// Update reads the field, applies fn and writes the result with a
// compare-and-set script, retrying from a fresh read on conflict.
func (s *SettingsStore) Update(ctx context.Context, key string, fn domain.UpdateFunc) (bool, error) {
	for range maxUpdateAttempts {
		current, err := s.Get(ctx, key)
		exists := true
		if errors.Is(err, domain.ErrSettingNotFound) {
			exists = false
		} else if err != nil {
			return false, err
		}

		next, ok := fn(current, exists)
		if !ok {
			return false, nil
		}

		existsArg := "1"
		if !exists {
			existsArg = "0"
		}
		written, err := casScript.Run(ctx, s.rdb, []string{s.key}, key, existsArg, current, next).Int()
		if err != nil {
			return false, fmt.Errorf("redis update setting %s: %w", key, err)
		}
		if written == 1 {
			return true, nil
		}
	}
	return false, fmt.Errorf("redis update setting %s: %w", key, ErrUpdateContention)
}

func (s *SettingsStore) List(ctx context.Context) (map[string]string, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list settings: %w", err)
	}
	return all, nil
}
