// File: internal/domain/ports/adapter/telegram.go
package adapter

import "context"

type EventKind string

const (
	EventStart    EventKind = "start"
	EventText     EventKind = "text"
	EventPhoto    EventKind = "photo"
	EventDocument EventKind = "document"
)

// InboundEvent is one update received by a bot session, already classified.
type InboundEvent struct {
	Kind      EventKind
	UpdateID  int64
	UserID    string
	ChatID    string
	Username  string
	FirstName string
	Text      string
	Caption   string
}

// Handlers receive the events of one session. Errors returned from OnEvent
// are reported to OnError and never stop the session.
type Handlers struct {
	OnEvent func(ctx context.Context, ev InboundEvent) error
	OnError func(err error)
}

// ChatTransport opens sessions against the chat API, one per bot token.
type ChatTransport interface {
	// Launch validates the token and returns an idle session; no updates are
	// delivered until Listen is called.
	Launch(ctx context.Context, token string) (TransportSession, error)
}

type TransportSession interface {
	Listen(h Handlers)
	Send(ctx context.Context, recipientID, text string) error
	Stop(ctx context.Context) error
}
