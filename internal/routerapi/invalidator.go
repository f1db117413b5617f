package routerapi

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rcabral/switchyard/internal/cache"
)

// Invalidator subscribes to the campaign update channel and drops stale L1
// entries. The next decision for the touched campaign re-reads the fresh
// snapshot from Redis, so routers converge on an edit within one round trip
// instead of waiting out the cache TTL.
type Invalidator struct {
	client *redis.Client
	l1     *cache.MemoryCache
	logger *slog.Logger
}

// NewInvalidator creates the listener. Panics on nil dependencies.
func NewInvalidator(client *redis.Client, l1 *cache.MemoryCache, log *slog.Logger) *Invalidator {
	if client == nil {
		panic("routerapi: redis client cannot be nil")
	}
	if l1 == nil {
		panic("routerapi: l1 cache cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Invalidator{client: client, l1: l1, logger: log}
}

// Run blocks consuming invalidation events until the context is canceled.
// go-redis reconnects the subscription transparently; a dropped connection
// costs at most one stale TTL window, it never stops the router.
func (i *Invalidator) Run(ctx context.Context) error {
	sub := i.client.Subscribe(ctx, cache.UpdateChannel)
	defer sub.Close()

	// Fail early if the subscription could not be established.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	i.logger.Info("cache invalidation listener started",
		slog.String("channel", cache.UpdateChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			i.l1.Del(msg.Payload)
			i.logger.Debug("invalidated campaign snapshot",
				slog.String("campaign_id", msg.Payload))
		}
	}
}
