package app

import (
	"context"
	"errors"

	"github.com/pscheid92/streamdvr/internal/domain"
)

// --- Mock implementations ---

type mockStreamLookup struct {
	streamsByLoginFn func(ctx context.Context, login string) ([]domain.Stream, error)
	videoByIDFn      func(ctx context.Context, id string) (*domain.Video, error)
}

func (m *mockStreamLookup) StreamsByLogin(ctx context.Context, login string) ([]domain.Stream, error) {
	if m.streamsByLoginFn != nil {
		return m.streamsByLoginFn(ctx, login)
	}
	return nil, nil
}

func (m *mockStreamLookup) VideoByID(ctx context.Context, id string) (*domain.Video, error) {
	if m.videoByIDFn != nil {
		return m.videoByIDFn(ctx, id)
	}
	return nil, nil
}

type mockUserResolver struct {
	ids map[string]string
}

func (m *mockUserResolver) IDForLogin(_ context.Context, login string) (string, error) {
	if id, ok := m.ids[login]; ok {
		return id, nil
	}
	return "", domain.ErrUserNotFound
}

func (m *mockUserResolver) LoginForID(_ context.Context, id string) (string, error) {
	for login, v := range m.ids {
		if v == id {
			return login, nil
		}
	}
	return "", domain.ErrUserNotFound
}

type mockSubscriptions struct {
	subscribeAllFn   func(ctx context.Context, broadcasterID string) ([]domain.Subscription, error)
	unsubscribeAllFn func(ctx context.Context, broadcasterID string) error
	listFn           func(ctx context.Context) ([]domain.Subscription, error)
}

func (m *mockSubscriptions) SubscribeAll(ctx context.Context, broadcasterID string) ([]domain.Subscription, error) {
	if m.subscribeAllFn != nil {
		return m.subscribeAllFn(ctx, broadcasterID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSubscriptions) UnsubscribeAll(ctx context.Context, broadcasterID string) error {
	if m.unsubscribeAllFn != nil {
		return m.unsubscribeAllFn(ctx, broadcasterID)
	}
	return nil
}

func (m *mockSubscriptions) List(ctx context.Context) ([]domain.Subscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []domain.Subscription{}, nil
}
