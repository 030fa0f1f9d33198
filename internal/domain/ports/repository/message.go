package repository

import (
	"context"

	"telegram-bot-manager/internal/domain/model"
)

// MessageRepository is append-only. Appending an incoming message whose
// (bot_id, update_id) already exists is a no-op and reports domain.ErrAlreadyExists.
type MessageRepository interface {
	Append(ctx context.Context, tx Tx, m *model.ChatMessage) error
}
