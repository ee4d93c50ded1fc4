package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ReloadChannel is the Redis pub/sub channel a fleet-wide reload signal
// is published on. Any node (an operator's tool, or another node that
// already reloaded) can publish to it; every subscribed node reloads
// its own local snapshot in response. This replaces per-node-only
// SIGHUP with a fleet-wide broadcast, the same fan-out shape a
// pub/sub-based cache-invalidation channel uses.
const ReloadChannel = "ratelimit:reload"

// Watch subscribes to ReloadChannel and calls r.Reload on every
// message until ctx is cancelled or the subscription channel closes.
// Reload errors are logged and do not stop the watch loop — the node
// keeps serving its last-good snapshot.
func (r *Registry) Watch(ctx context.Context, rdb *redis.Client) {
	sub := rdb.Subscribe(ctx, ReloadChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			slog.Info("registry: reload signal received", "channel", msg.Channel)
			if err := r.Reload(); err != nil {
				slog.Error("registry: reload failed", "error", err)
			}
		}
	}
}

// PublishReload broadcasts a reload signal to every node subscribed to
// ReloadChannel, including the caller's own process if it is watching.
func PublishReload(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Publish(ctx, ReloadChannel, "reload").Err(); err != nil {
		return fmt.Errorf("registry: publish reload: %w", err)
	}
	return nil
}
