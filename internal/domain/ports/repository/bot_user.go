package repository

import (
	"context"

	"telegram-bot-manager/internal/domain/model"
)

// BotUserRepository stores per (bot, user) trial quota records.
type BotUserRepository interface {
	Find(ctx context.Context, tx Tx, botID, tgUserID string) (*model.UserQuotaRecord, error)
	// IncrementTrial creates the record with count=1 or increments it, returning the new count.
	IncrementTrial(ctx context.Context, tx Tx, botID, tgUserID, username string) (int, error)
	SetAuthorized(ctx context.Context, tx Tx, botID, tgUserID string, authorized bool) error
	ListTrialExhaustedUnnotified(ctx context.Context, tx Tx, trialLimit, batch int) ([]*model.UserQuotaRecord, error)
	// MarkTrialNotified returns false when the record was already marked.
	MarkTrialNotified(ctx context.Context, tx Tx, id string) (bool, error)
}
