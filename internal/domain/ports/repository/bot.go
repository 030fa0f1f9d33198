package repository

import (
	"context"
	"time"

	"telegram-bot-manager/internal/domain/model"
)

// -----------------------------
// Bot registrations
// -----------------------------

type BotRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.BotRegistration, error)
	// ListByIDs returns the registrations among ids that exist; unknown ids are skipped.
	ListByIDs(ctx context.Context, tx Tx, ids []string) ([]*model.BotRegistration, error)
	// ListRunnable returns active, authorized bots that have not expired at now.
	ListRunnable(ctx context.Context, tx Tx, now time.Time) ([]*model.BotRegistration, error)
	// ExpireOverdue flips active bots whose expiry passed to expired/unauthorized and
	// returns their ids.
	ExpireOverdue(ctx context.Context, tx Tx, now time.Time) ([]string, error)
}
