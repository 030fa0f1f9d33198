//go:build !integration

package postgres

import (
	"context"
	"time"

	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"
	red "telegram-bot-manager/internal/infra/redis"
)

// mockInnerBotRepo mocks the database repository that the bot decorator wraps.
type mockInnerBotRepo struct {
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error)
	ListByIDsFunc     func(ctx context.Context, tx repository.Tx, ids []string) ([]*model.BotRegistration, error)
	ListRunnableFunc  func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error)
	ExpireOverdueFunc func(ctx context.Context, tx repository.Tx, now time.Time) ([]string, error)
}

func (m *mockInnerBotRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerBotRepo) ListByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.BotRegistration, error) {
	return m.ListByIDsFunc(ctx, tx, ids)
}
func (m *mockInnerBotRepo) ListRunnable(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error) {
	return m.ListRunnableFunc(ctx, tx, now)
}
func (m *mockInnerBotRepo) ExpireOverdue(ctx context.Context, tx repository.Tx, now time.Time) ([]string, error) {
	return m.ExpireOverdueFunc(ctx, tx, now)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc   func(ctx context.Context, key string) (string, error)
	SetFunc   func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNXFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	DelFunc   func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return m.SetNXFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Close() error                   { return nil }
