package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pscheid92/streamdvr/internal/domain"
)

const maskedValue = "********"

// SettingsService exposes the settings store to operators. Values of keys
// containing "secret" never leave the process.
type SettingsService struct {
	store domain.SettingsStore
}

var _ domain.SettingsService = (*SettingsService)(nil)

func NewSettingsService(store domain.SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

func (s *SettingsService) All(ctx context.Context) (map[string]string, error) {
	values, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	for key, value := range values {
		values[key] = mask(key, value)
	}
	return values, nil
}

func (s *SettingsService) Get(ctx context.Context, key string) (string, error) {
	value, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return mask(key, value), nil
}

func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("setting key is empty")
	}
	return s.store.Set(ctx, key, value)
}

func mask(key, value string) string {
	if value != "" && strings.Contains(strings.ToLower(key), "secret") {
		return maskedValue
	}
	return value
}

// SeedSettings writes each non-blank value whose stored counterpart is
// absent or blank. Operator edits made through the API are kept.
func SeedSettings(ctx context.Context, store domain.SettingsStore, values map[string]string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for key, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		written, err := store.Update(ctx, key, func(current string, exists bool) (string, bool) {
			if exists && strings.TrimSpace(current) != "" {
				return "", false
			}
			return value, true
		})
		if err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
		if written {
			logger.InfoContext(ctx, "Seeded setting from environment", "key", key)
		}
	}
	return nil
}
