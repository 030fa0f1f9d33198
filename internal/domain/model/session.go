package model

import "time"

// SessionInfo is a read-only snapshot of one running bot session.
type SessionInfo struct {
	BotID       string        `json:"bot_id"`
	InstanceID  string        `json:"instance_id"`
	Config      SessionConfig `json:"config"`
	StartedAt   time.Time     `json:"started_at"`
	ActiveUsers int           `json:"active_users"`
	IsRunning   bool          `json:"is_running"`
}

// SessionSummary is the list view of a running bot session.
type SessionSummary struct {
	BotID       string    `json:"bot_id"`
	BotName     string    `json:"bot_name"`
	StartedAt   time.Time `json:"started_at"`
	ActiveUsers int       `json:"active_users"`
}

type SessionEventKind string

const (
	SessionStarted SessionEventKind = "started"
	SessionStopped SessionEventKind = "stopped"
	SessionMessage SessionEventKind = "message"
	SessionError   SessionEventKind = "error"
)

// SessionEvent is published by the session registry for every lifecycle change
// and every inbound user message.
type SessionEvent struct {
	Kind    SessionEventKind
	BotID   string
	BotName string          // SessionStarted
	Message *InboundMessage // SessionMessage
	Err     error           // SessionError
}
