package model

import "time"

// DefaultTrialLimit is the number of free inbound messages per (bot, user) pair.
const DefaultTrialLimit = 20

type QuotaState string

const (
	QuotaUnseen         QuotaState = "unseen"
	QuotaTrialing       QuotaState = "trialing"
	QuotaTrialExhausted QuotaState = "trial_exhausted"
	QuotaAuthorized     QuotaState = "authorized"
)

// UserQuotaRecord tracks trial usage of one end user talking to one bot.
// Records are created lazily and never deleted; the counter only grows.
type UserQuotaRecord struct {
	ID                   string
	BotID                string
	TelegramUserID       string
	TelegramUsername     string
	TrialMessagesSent    int
	IsAuthorized         bool
	TrialExpiredNotified bool
	CreatedAt            time.Time
}

// State derives the ledger state. A nil record is an unseen user.
func (r *UserQuotaRecord) State(limit int) QuotaState {
	switch {
	case r == nil:
		return QuotaUnseen
	case r.IsAuthorized:
		return QuotaAuthorized
	case r.TrialMessagesSent >= limit:
		return QuotaTrialExhausted
	default:
		return QuotaTrialing
	}
}

// Allows reports whether one more inbound message may be processed.
func (r *UserQuotaRecord) Allows(limit int) bool {
	return r.State(limit) != QuotaTrialExhausted
}

// Count returns the messages-sent counter, zero for an unseen user.
func (r *UserQuotaRecord) Count() int {
	if r == nil {
		return 0
	}
	return r.TrialMessagesSent
}

// Authorized is nil-safe.
func (r *UserQuotaRecord) Authorized() bool {
	return r != nil && r.IsAuthorized
}
