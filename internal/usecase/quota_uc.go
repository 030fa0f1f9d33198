// File: internal/usecase/quota_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ QuotaUseCase = (*quotaUC)(nil)

// KeyLocker serializes work per key. Implemented by lock.KeyedMutex.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// QuotaUseCase is the per (bot, user) trial ledger. Callers hold Lock for the
// read-decide-increment sequence so two messages of one user never race.
type QuotaUseCase interface {
	Limit() int
	Lock(ctx context.Context, botID, userID string) (func(), error)
	// Check returns the current record, nil for an unseen user.
	Check(ctx context.Context, tx repository.Tx, botID, userID string) (*model.UserQuotaRecord, error)
	// Record counts one accepted message and returns the new total.
	Record(ctx context.Context, tx repository.Tx, botID, userID, username string) (int, error)
	Authorize(ctx context.Context, botID, userID string, authorized bool) error
}

type quotaUC struct {
	users repository.BotUserRepository
	locks KeyLocker
	limit int
	log   *zerolog.Logger
}

func NewQuotaUseCase(users repository.BotUserRepository, locks KeyLocker, limit int, logger *zerolog.Logger) *quotaUC {
	if limit <= 0 {
		limit = model.DefaultTrialLimit
	}
	l := logger.With().Str("component", "QuotaUseCase").Logger()
	return &quotaUC{users: users, locks: locks, limit: limit, log: &l}
}

func (q *quotaUC) Limit() int { return q.limit }

func quotaKey(botID, userID string) string { return botID + ":" + userID }

func (q *quotaUC) Lock(ctx context.Context, botID, userID string) (func(), error) {
	return q.locks.Lock(ctx, quotaKey(botID, userID))
}

func (q *quotaUC) Check(ctx context.Context, tx repository.Tx, botID, userID string) (*model.UserQuotaRecord, error) {
	rec, err := q.users.Find(ctx, tx, botID, userID)
	if err == nil {
		return rec, nil
	}
	if isNotFound(err) {
		return nil, nil
	}
	return nil, fmt.Errorf("quota check %s: %w", quotaKey(botID, userID), err)
}

func (q *quotaUC) Record(ctx context.Context, tx repository.Tx, botID, userID, username string) (int, error) {
	n, err := q.users.IncrementTrial(ctx, tx, botID, userID, username)
	if err != nil {
		return 0, fmt.Errorf("quota record %s: %w", quotaKey(botID, userID), err)
	}
	if n == q.limit {
		q.log.Info().Str("bot_id", botID).Str("tg_user_id", userID).Int("count", n).Msg("trial limit reached")
	}
	return n, nil
}

// Authorize flips the authorization flag; an authorized user is never capped.
func (q *quotaUC) Authorize(ctx context.Context, botID, userID string, authorized bool) error {
	if strings.TrimSpace(botID) == "" || strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: bot id and user id are required", domain.ErrInvalidArgument)
	}
	unlock, err := q.Lock(ctx, botID, userID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := q.users.SetAuthorized(ctx, repository.NoTX, botID, userID, authorized); err != nil {
		return fmt.Errorf("authorize %s: %w", quotaKey(botID, userID), err)
	}
	q.log.Info().Str("bot_id", botID).Str("tg_user_id", userID).Bool("authorized", authorized).Msg("authorization changed")
	return nil
}
