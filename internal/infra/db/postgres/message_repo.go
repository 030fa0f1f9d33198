package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"
)

var _ repository.MessageRepository = (*PostgresMessageRepo)(nil)

type PostgresMessageRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageRepo(pool *pgxpool.Pool) *PostgresMessageRepo {
	return &PostgresMessageRepo{pool: pool}
}

func (r *PostgresMessageRepo) Append(ctx context.Context, tx repository.Tx, m *model.ChatMessage) error {
	if m == nil || m.BotID == "" || m.TelegramUserID == "" {
		return domain.ErrInvalidArgument
	}
	// update_id is NULL for outgoing messages so the partial unique index ignores them
	var updateID *int64
	if m.UpdateID != 0 {
		updateID = &m.UpdateID
	}
	const q = `
INSERT INTO messages (id, bot_id, telegram_user_id, direction, content, update_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (bot_id, update_id) WHERE update_id IS NOT NULL DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, m.ID, m.BotID, m.TelegramUserID, string(m.Direction), m.Content, updateID, m.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: update %d of bot %s", domain.ErrAlreadyExists, m.UpdateID, m.BotID)
	}
	return nil
}
