package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/persistence/memory"
	"github.com/dukex/bpmnvm/pkg/persistence/postgresql"
	"github.com/dukex/bpmnvm/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql", "redis", "rediss"}

// NewJobStore opens the job store selected by the scheme of databaseURL.
func NewJobStore(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.JobStore, error) {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		return memory.NewStore(), nil
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger.With("module", "postgresql"), databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	case "redis", "rediss":
		store, err := redis.NewStore(ctx, logger.With("module", "redis"), databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s)", persistence.ErrUnsupportedDatabase, databaseURL,
			strings.Join(supportedPersistenceProviders, ", "))
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return ""
}
