package model

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ChatMessage is an append-only record of one message exchanged between a bot and a user.
type ChatMessage struct {
	ID             string
	BotID          string
	TelegramUserID string
	Direction      Direction
	Content        string
	UpdateID       int64 // transport update id for incoming messages, 0 otherwise
	CreatedAt      time.Time
}

func NewChatMessage(botID, userID string, dir Direction, content string, at time.Time) *ChatMessage {
	if at.IsZero() {
		at = time.Now()
	}
	return &ChatMessage{
		ID:             ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		BotID:          botID,
		TelegramUserID: userID,
		Direction:      dir,
		Content:        content,
		CreatedAt:      at,
	}
}

type InboundKind string

const (
	InboundText     InboundKind = "text"
	InboundPhoto    InboundKind = "photo"
	InboundDocument InboundKind = "document"
)

// InboundMessage is a normalized user message emitted by a bot session.
// Photos carry their caption (or a placeholder) and documents a placeholder in Text.
type InboundMessage struct {
	BotID      string
	UserID     string
	UpdateID   int64
	Kind       InboundKind
	Text       string
	Username   string
	FirstName  string
	ReceivedAt time.Time
}

// DisplayName is the username, then the first name, then fallback.
func (m InboundMessage) DisplayName(fallback string) string {
	if s := strings.TrimSpace(m.Username); s != "" {
		return s
	}
	if s := strings.TrimSpace(m.FirstName); s != "" {
		return s
	}
	return fallback
}
