package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/pscheid92/streamdvr/internal/domain"
)

type copyOptions struct {
	// Overwrite replaces destination values; otherwise only absent or blank
	// keys are written.
	Overwrite bool
	DryRun    bool
}

type copySummary struct {
	Scanned int
	Copied  int
	Skipped int
}

func copySettings(ctx context.Context, from, to domain.SettingsStore, opts copyOptions) (copySummary, error) {
	var summary copySummary

	values, err := from.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("list source settings: %w", err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		summary.Scanned++
		value := values[key]

		if opts.DryRun {
			existing, err := to.Get(ctx, key)
			if err == nil && existing != "" && !opts.Overwrite {
				slog.Debug("Would skip existing setting", "key", key)
				summary.Skipped++
				continue
			}
			slog.Debug("Would copy setting", "key", key)
			summary.Copied++
			continue
		}

		written, err := to.Update(ctx, key, func(current string, exists bool) (string, bool) {
			if exists && current != "" && !opts.Overwrite {
				return "", false
			}
			return value, true
		})
		if err != nil {
			return summary, fmt.Errorf("write %s: %w", key, err)
		}
		if !written {
			slog.Debug("Skipped existing setting", "key", key)
			summary.Skipped++
			continue
		}
		slog.Debug("Copied setting", "key", key)
		summary.Copied++
	}

	return summary, nil
}
