package redis

import (
	"context"
	"fmt"
	"time"

	"telegram-bot-manager/internal/infra/metrics"
)

// Deduper remembers transport update ids per bot for a bounded time.
type Deduper struct {
	cli RedisClient
	ttl time.Duration
}

func NewDeduper(cli RedisClient, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{cli: cli, ttl: ttl}
}

func dedupeKey(botID string, updateID int64) string {
	return fmt.Sprintf("dedupe:%s:%d", botID, updateID)
}

// Seen claims the update id and reports whether it had already been claimed.
func (d *Deduper) Seen(ctx context.Context, botID string, updateID int64) (bool, error) {
	fresh, err := d.cli.SetNX(ctx, dedupeKey(botID, updateID), 1, d.ttl)
	if err != nil {
		metrics.IncCacheRequest("dedupe", "error")
		return false, err
	}
	if !fresh {
		metrics.IncCacheRequest("dedupe", "duplicate")
		return true, nil
	}
	metrics.IncCacheRequest("dedupe", "fresh")
	return false, nil
}

// Forget releases a claim so a redelivery of the update is processed again.
func (d *Deduper) Forget(ctx context.Context, botID string, updateID int64) error {
	return d.cli.Del(ctx, dedupeKey(botID, updateID))
}
