package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerHook_StaysClosedOnMissingKeys(t *testing.T) {
	hook := NewCircuitBreakerHook(nil, nil)
	s, _ := setupStore(t, hook)

	for range 10 {
		_, err := s.Get(context.Background(), "missing")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_FailsFastWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	m := &recordingMetrics{}
	hook := NewCircuitBreakerHook(nil, m)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	rdb.AddHook(hook)
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewSettingsStore(rdb)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v"))
	mr.Close()

	var opened bool
	for range 10 {
		_, err := s.Get(ctx, "k")
		require.Error(t, err)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			opened = true
			break
		}
	}

	assert.True(t, opened, "breaker should open after repeated failures")
	assert.Equal(t, circuitbreaker.OpenState, hook.State())
	assert.NotEmpty(t, m.states)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "success", status(nil))
	assert.Equal(t, "success", status(goredis.Nil))
	assert.Equal(t, "error", status(errors.New("boom")))
}
