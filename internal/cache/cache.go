// internal/cache/cache.go
package cache

import (
	"context"
	"time"
)

// Cache is a best-effort string key-value store. Implementations log failures instead
// of returning them: a miss or a lost write only costs redundant work.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Del(ctx context.Context, key string)
	Close() error
}

// LastIndexedCommitKey is the key holding the most recently persisted commit url of a
// repository.
func LastIndexedCommitKey(org, repo string) string {
	return "lastIndexedCommit_" + org + "_" + repo
}
