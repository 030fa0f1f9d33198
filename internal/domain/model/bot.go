package model

import (
	"strings"
	"time"
)

type BotStatus string

const (
	BotStatusActive   BotStatus = "active"
	BotStatusInactive BotStatus = "inactive"
	BotStatusExpired  BotStatus = "expired"
)

// BotRegistration is the persisted record of a developer's bot. The service only reads it
// to decide whether to (re)start a session; status changes to expired are driven by the
// expiry sweep.
type BotRegistration struct {
	ID             string
	Token          string
	Name           string
	DeveloperID    string
	WelcomeMessage string
	Status         BotStatus
	IsAuthorized   bool
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

// Runnable reports whether the bot should have a live session at time now.
func (b *BotRegistration) Runnable(now time.Time) bool {
	if b == nil || b.Status != BotStatusActive || !b.IsAuthorized {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// SessionConfig returns the display configuration handed to a session on start.
func (b *BotRegistration) SessionConfig() SessionConfig {
	return SessionConfig{
		BotName:        b.Name,
		DeveloperID:    b.DeveloperID,
		WelcomeMessage: b.WelcomeMessage,
	}
}

// SessionConfig is the per-bot display configuration carried by a running session.
type SessionConfig struct {
	BotName        string `json:"bot_name,omitempty"`
	DeveloperID    string `json:"developer_id,omitempty"`
	WelcomeMessage string `json:"welcome_message,omitempty"`
}

// DisplayName falls back to the numeric bot id embedded in the token ("123456:ABC...").
func (c SessionConfig) DisplayName(token string) string {
	if name := strings.TrimSpace(c.BotName); name != "" {
		return name
	}
	if i := strings.IndexByte(token, ':'); i > 0 {
		return token[:i]
	}
	return token
}
