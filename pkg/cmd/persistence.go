// Package cmd provides common initialization helpers for command-line
// binaries: persistence, event bus and registry construction from
// configuration values.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/procflow/procflow/pkg/persistence"
	"github.com/procflow/procflow/pkg/persistence/memory"
	"github.com/procflow/procflow/pkg/persistence/postgresql"
	redispersistence "github.com/procflow/procflow/pkg/persistence/redis"
)

// NewPersistence resolves a backend from the URL scheme: postgres://,
// redis:// or memory://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch provider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)

	case "redis", "rediss":
		opts, err := goredis.ParseURL(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}

		return redispersistence.NewPersistence(goredis.NewClient(opts)), nil

	case "memory":
		return memory.NewPersistence(), nil

	default:
		return nil, fmt.Errorf("unsupported persistence provider in %q", databaseURL)
	}
}

func provider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return scheme
}
