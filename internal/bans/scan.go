package bans

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// pageFunc receives one SCAN page. Returning false stops the walk.
type pageFunc func(ctx context.Context, keys []string) (bool, error)

// scan walks every ban key in pages of ScanPageSize. Cluster clients are
// walked on every master since SCAN cursors are per node.
func (m *Manager) scan(ctx context.Context, fn pageFunc) error {
	match := m.banPrefix() + "*"

	cluster, ok := m.redis.(*redis.ClusterClient)
	if !ok {
		_, err := m.scanNode(ctx, m.redis, match, fn)
		return err
	}

	// ForEachMaster runs nodes concurrently; pages are handed to fn one at a time.
	var (
		mu      sync.Mutex
		stopped bool
	)
	serialized := func(ctx context.Context, keys []string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return false, nil
		}
		more, err := fn(ctx, keys)
		if err != nil || !more {
			stopped = true
		}
		return more, err
	}
	return cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		_, err := m.scanNode(ctx, node, match, serialized)
		return err
	})
}

func (m *Manager) scanNode(ctx context.Context, node redis.Cmdable, match string, fn pageFunc) (bool, error) {
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		pageCtx, cancel := m.withTimeout(ctx)
		keys, next, err := node.Scan(pageCtx, cursor, match, m.config.ScanPageSize).Result()
		cancel()
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		more, err := fn(ctx, keys)
		if err != nil || !more {
			return false, err
		}
		if next == 0 {
			return true, nil
		}
		cursor = next
	}
}
