// Package cache moves campaign snapshots between the control plane and the
// routers. Redis is the shared L2: the syncer writes full snapshots there
// and publishes invalidation events, routers read them back.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces all campaign snapshot keys in Redis.
// Example: "campaign:spring-launch".
const KeyPrefix = "campaign"

// UpdateChannel is the Pub/Sub channel carrying campaign ids whose snapshot
// changed. Routers subscribed to it drop the stale L1 entry.
const UpdateChannel = "switchyard:campaign_updates"

// SnapshotService is the cache contract used by the syncer, the control
// plane and the routers.
type SnapshotService interface {
	// SetCampaign stores the full campaign snapshot.
	SetCampaign(ctx context.Context, c *CampaignSnapshot) error

	// GetCampaign loads a snapshot by campaign id. A missing key returns
	// (nil, nil) so callers can distinguish absence from failure.
	GetCampaign(ctx context.Context, id string) (*CampaignSnapshot, error)

	// DeleteCampaign evicts a snapshot. Deleting an absent key is not an
	// error.
	DeleteCampaign(ctx context.Context, id string) error

	// PublishUpdate notifies subscribers that a campaign changed.
	PublishUpdate(ctx context.Context, id string) error

	// HealthCheck pings the backing store.
	HealthCheck(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Compile-time check.
var _ SnapshotService = (*RedisSnapshots)(nil)

// RedisSnapshots implements SnapshotService on go-redis.
type RedisSnapshots struct {
	client *redis.Client
}

// NewRedisSnapshots wraps an established Redis client.
func NewRedisSnapshots(client *redis.Client) *RedisSnapshots {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RedisSnapshots{client: client}
}

func snapshotKey(id string) string {
	return fmt.Sprintf("%s:%s", KeyPrefix, id)
}

// SetCampaign serializes the snapshot as JSON under campaign:<id>. The value
// is the whole campaign tree: segments, rules, tests and variants travel
// together so a router never observes a half-updated campaign.
func (s *RedisSnapshots) SetCampaign(ctx context.Context, c *CampaignSnapshot) error {
	if c == nil || c.Campaign == nil {
		return fmt.Errorf("cannot store a nil campaign snapshot")
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize campaign %q: %w", c.Campaign.ID, err)
	}

	if err := s.client.Set(ctx, snapshotKey(c.Campaign.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store campaign %q in cache: %w", c.Campaign.ID, err)
	}

	return nil
}

// GetCampaign loads and deserializes a snapshot.
func (s *RedisSnapshots) GetCampaign(ctx context.Context, id string) (*CampaignSnapshot, error) {
	payload, err := s.client.Get(ctx, snapshotKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read campaign %q from cache: %w", id, err)
	}

	var snap CampaignSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to deserialize campaign %q: %w", id, err)
	}

	return &snap, nil
}

// DeleteCampaign removes the snapshot key so routers stop serving a
// campaign that no longer exists.
func (s *RedisSnapshots) DeleteCampaign(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, snapshotKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete campaign %q from cache: %w", id, err)
	}
	return nil
}

// PublishUpdate pushes the campaign id onto the update channel.
func (s *RedisSnapshots) PublishUpdate(ctx context.Context, id string) error {
	if err := s.client.Publish(ctx, UpdateChannel, id).Err(); err != nil {
		return fmt.Errorf("failed to publish update for campaign %q: %w", id, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisSnapshots) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisSnapshots) Close() error {
	return s.client.Close()
}
