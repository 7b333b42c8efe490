// internal/cache/ristretto.go
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Ristretto is an in-process Cache. Its contents are lost on restart.
type Ristretto struct {
	cache  *ristretto.Cache[string, string]
	logger *slog.Logger
}

func NewRistretto(logger *slog.Logger) (*Ristretto, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1e6,     // number of keys to track frequency of (1M).
		MaxCost:     1 << 26, // maximum cost of cache (64MB).
		BufferItems: 64,      // number of keys per Get buffer.
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &Ristretto{cache: c, logger: logger}, nil
}

func (r *Ristretto) Get(_ context.Context, key string) (string, bool) {
	return r.cache.Get(key)
}

func (r *Ristretto) Set(_ context.Context, key, value string, ttl time.Duration) {
	if !r.cache.SetWithTTL(key, value, int64(len(key)+len(value)), ttl) {
		r.logger.Warn("Cache write dropped", "key", key)
		return
	}
	// Sets are applied asynchronously; wait so the next Get observes this one.
	r.cache.Wait()
}

func (r *Ristretto) Del(_ context.Context, key string) {
	r.cache.Del(key)
}

func (r *Ristretto) Close() error {
	r.cache.Close()
	return nil
}
