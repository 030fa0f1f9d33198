package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"
)

var _ repository.BotUserRepository = (*PostgresBotUserRepo)(nil)

type PostgresBotUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresBotUserRepo(pool *pgxpool.Pool) *PostgresBotUserRepo {
	return &PostgresBotUserRepo{pool: pool}
}

const botUserColumns = `id, bot_id, telegram_user_id, telegram_username, trial_messages_sent, is_authorized, trial_expired_notified, created_at`

func scanBotUser(row pgx.Row) (*model.UserQuotaRecord, error) {
	var u model.UserQuotaRecord
	if err := row.Scan(&u.ID, &u.BotID, &u.TelegramUserID, &u.TelegramUsername, &u.TrialMessagesSent, &u.IsAuthorized, &u.TrialExpiredNotified, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresBotUserRepo) Find(ctx context.Context, tx repository.Tx, botID, tgUserID string) (*model.UserQuotaRecord, error) {
	q := `SELECT ` + botUserColumns + ` FROM bot_users WHERE bot_id=$1 AND telegram_user_id=$2;`
	u, err := scanBotUser(pickRow(ctx, r.pool, tx, q, botID, tgUserID))
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

// IncrementTrial is a single upsert so concurrent first messages cannot
// create two records.
func (r *PostgresBotUserRepo) IncrementTrial(ctx context.Context, tx repository.Tx, botID, tgUserID, username string) (int, error) {
	const q = `
INSERT INTO bot_users (id, bot_id, telegram_user_id, telegram_username, trial_messages_sent)
VALUES ($1, $2, $3, $4, 1)
ON CONFLICT (bot_id, telegram_user_id) DO UPDATE SET
  trial_messages_sent = bot_users.trial_messages_sent + 1,
  telegram_username   = COALESCE(NULLIF(EXCLUDED.telegram_username, ''), bot_users.telegram_username),
  updated_at          = now()
RETURNING trial_messages_sent;`
	var n int
	if err := pickRow(ctx, r.pool, tx, q, uuid.NewString(), botID, tgUserID, username).Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (r *PostgresBotUserRepo) SetAuthorized(ctx context.Context, tx repository.Tx, botID, tgUserID string, authorized bool) error {
	const q = `
INSERT INTO bot_users (id, bot_id, telegram_user_id, is_authorized)
VALUES ($1, $2, $3, $4)
ON CONFLICT (bot_id, telegram_user_id) DO UPDATE SET
  is_authorized = EXCLUDED.is_authorized,
  updated_at    = now();`
	_, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), botID, tgUserID, authorized)
	return err
}

func (r *PostgresBotUserRepo) ListTrialExhaustedUnnotified(ctx context.Context, tx repository.Tx, trialLimit, batch int) ([]*model.UserQuotaRecord, error) {
	q := `
SELECT ` + botUserColumns + `
  FROM bot_users
 WHERE trial_messages_sent >= $1 AND NOT is_authorized AND NOT trial_expired_notified
 ORDER BY created_at
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, trialLimit, batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.UserQuotaRecord
	for rows.Next() {
		u, err := scanBotUser(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, u)
	}
	return out, mapErr(rows.Err())
}

func (r *PostgresBotUserRepo) MarkTrialNotified(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE bot_users SET trial_expired_notified=true, updated_at=now() WHERE id=$1 AND NOT trial_expired_notified;`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
