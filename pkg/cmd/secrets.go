package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/flowline/pkg/secrets"
)

// NewSecretStore opens the store behind url. Without a redis:// URL secrets
// live in memory, seeded from namespace.key=value entries.
func NewSecretStore(ctx context.Context, url string, seed []string) (secrets.Store, error) {
	var store secrets.Store

	switch {
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		redisStore, err := secrets.NewRedisStoreFromURL(ctx, url)
		if err != nil {
			return nil, err
		}

		store = redisStore
	case url == "", url == "memory://":
		store = secrets.NewMemoryStore()
	default:
		return nil, fmt.Errorf("%w: secret store %q", ErrUnsupportedProvider, url)
	}

	for _, entry := range seed {
		name, value, found := strings.Cut(entry, "=")
		namespace, key, dotted := strings.Cut(name, ".")

		if !found || !dotted {
			_ = store.Close()

			return nil, fmt.Errorf("invalid secret %q, expected namespace.key=value", name)
		}

		err := store.Put(ctx, namespace, key, value)
		if err != nil {
			_ = store.Close()

			return nil, fmt.Errorf("failed to seed secret %s: %w", name, err)
		}
	}

	return store, nil
}
