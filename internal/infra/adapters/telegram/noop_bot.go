package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-bot-manager/internal/domain/ports/adapter"
)

var _ adapter.ChatTransport = (*NoopTransport)(nil)

// NoopTransport is the dev-mode transport: any token launches, nothing is polled
// and sends are only logged.
type NoopTransport struct {
	log   *zerolog.Logger
	delay time.Duration
}

func NewNoopTransport(logger *zerolog.Logger) *NoopTransport {
	l := logger.With().Str("component", "NoopTransport").Logger()
	return &NoopTransport{log: &l, delay: 100 * time.Millisecond}
}

func (t *NoopTransport) Launch(ctx context.Context, token string) (adapter.TransportSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	botRef := token
	if i := strings.IndexByte(token, ':'); i > 0 {
		botRef = token[:i]
	}
	l := t.log.With().Str("bot_ref", botRef).Logger()
	l.Info().Msg("[noop-telegram] session launched")
	return &noopSession{log: &l, delay: t.delay}, nil
}

type noopSession struct {
	log   *zerolog.Logger
	delay time.Duration

	mu      sync.Mutex
	stopped bool
}

func (s *noopSession) Listen(h adapter.Handlers) {}

// Send simulates a short network round trip and respects ctx.
func (s *noopSession) Send(ctx context.Context, recipientID, text string) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info().Str("to", recipientID).Str("text", text).Msg("[noop-telegram] send")
	return nil
}

func (s *noopSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		s.log.Info().Msg("[noop-telegram] session stopped")
	}
	return nil
}
