package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pscheid92/streamdvr/internal/adapter/postgres"
	"github.com/pscheid92/streamdvr/internal/adapter/redis"
	"github.com/pscheid92/streamdvr/internal/domain"
)

const connectTimeout = 10 * time.Second

type store struct {
	domain.SettingsStore
	close func()
}

func main() {
	var (
		fromURL   = flag.String("from", "", "Source store URL (redis:// or postgres://)")
		toURL     = flag.String("to", "", "Destination store URL (redis:// or postgres://)")
		overwrite = flag.Bool("overwrite", false, "Replace values already present in the destination")
		dryRun    = flag.Bool("dry-run", false, "Dry run mode (don't write to the destination)")
		verbose   = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *fromURL == "" || *toURL == "" {
		log.Fatal("Both --from and --to are required")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx := context.Background()

	from, err := openStore(ctx, *fromURL, false)
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	defer from.close()
	slog.Info("Connected to source", "url", sanitizeURL(*fromURL))

	to, err := openStore(ctx, *toURL, true)
	if err != nil {
		from.close()
		log.Fatalf("Failed to open destination: %v", err)
	}
	defer to.close()
	slog.Info("Connected to destination", "url", sanitizeURL(*toURL))

	start := time.Now()
	summary, err := copySettings(ctx, from, to, copyOptions{Overwrite: *overwrite, DryRun: *dryRun})
	if err != nil {
		to.close()
		from.close()
		log.Fatalf("Migration failed: %v", err)
	}

	slog.Info("Migration summary",
		"dry_run", *dryRun,
		"scanned", summary.Scanned,
		"copied", summary.Copied,
		"skipped", summary.Skipped,
		"duration_ms", time.Since(start).Milliseconds())
}

// openStore picks the adapter from the URL scheme. Postgres destinations are
// migrated first so the settings table exists.
func openStore(ctx context.Context, rawURL string, destination bool) (store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	u, err := url.Parse(rawURL)
	if err != nil {
		return store{}, fmt.Errorf("parse store url: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		rdb, err := redis.NewClient(ctx, rawURL)
		if err != nil {
			return store{}, err
		}
		return store{SettingsStore: redis.NewSettingsStore(rdb), close: func() { _ = rdb.Close() }}, nil
	case "postgres", "postgresql":
		pool, err := postgres.Connect(ctx, rawURL, nil)
		if err != nil {
			return store{}, err
		}
		if destination {
			if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
				pool.Close()
				return store{}, err
			}
		}
		return store{SettingsStore: postgres.NewSettingsStore(pool), close: pool.Close}, nil
	default:
		return store{}, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}

func sanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// never echo something that might carry a password
		if i := strings.LastIndex(rawURL, "@"); i >= 0 {
			return "***" + rawURL[i:]
		}
		return rawURL
	}
	return u.Redacted()
}
