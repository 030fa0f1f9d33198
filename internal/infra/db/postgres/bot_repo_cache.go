package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"
	"telegram-bot-manager/internal/infra/metrics"
	red "telegram-bot-manager/internal/infra/redis"
)

var _ repository.BotRepository = (*botRepoCacheDecorator)(nil)

type botRepoCacheDecorator struct {
	inner repository.BotRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

// NewBotRepoCacheDecorator caches registrations by id for read-only views.
// FindByID results never carry the bot token; callers that start sessions must
// read the undecorated repository. Lookups inside a transaction bypass the cache.
func NewBotRepoCacheDecorator(inner repository.BotRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.BotRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := logger.With().Str("component", "BotRepoCache").Logger()
	return &botRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func botKey(id string) string { return "bot:id:" + id }

func (d *botRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error) {
	if tx != nil {
		metrics.IncCacheRequest("bot", "bypass")
		return d.inner.FindByID(ctx, tx, id)
	}
	val, err := d.cache.Get(ctx, botKey(id))
	if err == nil {
		var b model.BotRegistration
		if json.Unmarshal([]byte(val), &b) == nil {
			metrics.IncCacheRequest("bot", "hit")
			return &b, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		d.log.Warn().Err(err).Str("bot_id", id).Msg("cache read failed")
	}

	metrics.IncCacheRequest("bot", "miss")
	b, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	view := withoutToken(b)
	d.store(ctx, view)
	return view, nil
}

// ListByIDs always hits the store.
func (d *botRepoCacheDecorator) ListByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.BotRegistration, error) {
	return d.inner.ListByIDs(ctx, tx, ids)
}

// ListRunnable always hits the store and warms the per-id entries.
func (d *botRepoCacheDecorator) ListRunnable(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error) {
	bots, err := d.inner.ListRunnable(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		for _, b := range bots {
			d.store(ctx, withoutToken(b))
		}
	}
	return bots, nil
}

func (d *botRepoCacheDecorator) ExpireOverdue(ctx context.Context, tx repository.Tx, now time.Time) ([]string, error) {
	ids, err := d.inner.ExpireOverdue(ctx, tx, now)
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = botKey(id)
		}
		if derr := d.cache.Del(ctx, keys...); derr != nil {
			d.log.Warn().Err(derr).Int("count", len(keys)).Msg("cache invalidation failed")
		}
	}
	return ids, err
}

func withoutToken(b *model.BotRegistration) *model.BotRegistration {
	cp := *b
	cp.Token = ""
	return &cp
}

func (d *botRepoCacheDecorator) store(ctx context.Context, b *model.BotRegistration) {
	if b == nil {
		return
	}
	bytes, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, botKey(b.ID), bytes, d.ttl); err != nil {
		d.log.Debug().Err(err).Str("bot_id", b.ID).Msg("cache write failed")
	}
}
