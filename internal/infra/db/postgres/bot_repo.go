package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"
)

var _ repository.BotRepository = (*PostgresBotRepo)(nil)

type PostgresBotRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresBotRepo(pool *pgxpool.Pool) *PostgresBotRepo {
	return &PostgresBotRepo{pool: pool}
}

const botColumns = `id, bot_token, bot_name, developer_id, welcome_message, status, is_authorized, expiry_date, created_at`

func scanBot(row pgx.Row) (*model.BotRegistration, error) {
	var (
		b      model.BotRegistration
		status string
		expiry *time.Time
	)
	if err := row.Scan(&b.ID, &b.Token, &b.Name, &b.DeveloperID, &b.WelcomeMessage, &status, &b.IsAuthorized, &expiry, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Status = model.BotStatus(status)
	b.ExpiresAt = expiry
	return &b, nil
}

func (r *PostgresBotRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error) {
	q := `SELECT ` + botColumns + ` FROM bots WHERE id=$1;`
	b, err := scanBot(pickRow(ctx, r.pool, tx, q, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return b, nil
}

func (r *PostgresBotRepo) ListByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.BotRegistration, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + botColumns + ` FROM bots WHERE id = ANY($1::text[]);`
	return r.list(ctx, tx, q, ids)
}

func (r *PostgresBotRepo) ListRunnable(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error) {
	q := `
SELECT ` + botColumns + `
  FROM bots
 WHERE status='active' AND is_authorized
   AND (expiry_date IS NULL OR expiry_date > $1)
 ORDER BY created_at;`
	return r.list(ctx, tx, q, now)
}

func (r *PostgresBotRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.BotRegistration, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BotRegistration
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, b)
	}
	return out, mapErr(rows.Err())
}

func (r *PostgresBotRepo) ExpireOverdue(ctx context.Context, tx repository.Tx, now time.Time) ([]string, error) {
	const q = `
UPDATE bots
   SET status='expired', is_authorized=false, updated_at=$1
 WHERE status='active' AND expiry_date IS NOT NULL AND expiry_date <= $1
RETURNING id;`
	rows, err := queryRows(ctx, r.pool, tx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr(err)
		}
		ids = append(ids, id)
	}
	return ids, mapErr(rows.Err())
}
