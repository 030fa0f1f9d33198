package telegram

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-bot-manager/internal/config"
	"telegram-bot-manager/internal/domain/ports/adapter"
)

var _ adapter.ChatTransport = (*Transport)(nil)

const pollRetryDelay = 3 * time.Second

// Transport opens one long-polling tgbotapi client per bot token.
type Transport struct {
	cfg config.TransportConfig
	log *zerolog.Logger
}

func NewTransport(cfg config.TransportConfig, logger *zerolog.Logger) *Transport {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Duration(cfg.PollTimeout+25) * time.Second
	}
	if cfg.UpdateWorkers <= 0 {
		cfg.UpdateWorkers = 4
	}
	l := logger.With().Str("component", "TelegramTransport").Logger()
	return &Transport{cfg: cfg, log: &l}
}

// Launch validates the token with getMe. The returned session delivers nothing
// until Listen is called.
func (t *Transport) Launch(ctx context.Context, token string) (adapter.TransportSession, error) {
	sctx, cancel := context.WithCancel(context.Background())
	client := &http.Client{
		Timeout:   t.cfg.RequestTimeout,
		Transport: &sessionRoundTripper{ctx: sctx, base: http.DefaultTransport},
	}
	endpoint := t.cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	// abort the getMe call when the caller gives up
	stopAbort := context.AfterFunc(ctx, cancel)
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if !stopAbort() {
		cancel()
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}

	l := t.log.With().Str("bot_username", bot.Self.UserName).Int64("bot_tg_id", bot.Self.ID).Logger()
	l.Info().Msg("bot authorized")
	return &session{
		bot:         bot,
		ctx:         sctx,
		cancel:      cancel,
		pollTimeout: t.cfg.PollTimeout,
		workers:     t.cfg.UpdateWorkers,
		log:         &l,
		done:        make(chan struct{}),
	}, nil
}

// sessionRoundTripper binds every request to the session lifetime so Stop
// aborts an in-flight long poll.
type sessionRoundTripper struct {
	ctx  context.Context
	base http.RoundTripper
}

func (rt *sessionRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	return rt.base.RoundTrip(r.WithContext(rt.ctx))
}

type session struct {
	bot         *tgbotapi.BotAPI
	ctx         context.Context
	cancel      context.CancelFunc
	pollTimeout int
	workers     int
	log         *zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

func (s *session) Listen(h adapter.Handlers) {
	s.startOnce.Do(func() { go s.poll(h) })
}

func (s *session) poll(h adapter.Handlers) {
	defer close(s.done)

	// updates of one user always land on the same worker, in order
	shards := make([]chan adapter.InboundEvent, s.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan adapter.InboundEvent, 64)
		wg.Add(1)
		go func(ch <-chan adapter.InboundEvent) {
			defer wg.Done()
			for ev := range ch {
				s.dispatch(h, ev)
			}
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.pollTimeout
	for {
		if s.ctx.Err() != nil {
			return
		}
		updates, err := s.bot.GetUpdates(u)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			report(h, fmt.Errorf("telegram getUpdates: %w", err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		for _, up := range updates {
			if up.UpdateID < u.Offset {
				continue
			}
			u.Offset = up.UpdateID + 1
			ev, ok := toInboundEvent(up)
			if !ok {
				continue
			}
			select {
			case shards[shardFor(ev.UserID, len(shards))] <- ev:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *session) dispatch(h adapter.Handlers, ev adapter.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Int64("update_id", ev.UpdateID).Msg("update handler panicked")
			report(h, fmt.Errorf("update %d: handler panic: %v", ev.UpdateID, r))
		}
	}()
	if h.OnEvent == nil {
		return
	}
	if err := h.OnEvent(s.ctx, ev); err != nil {
		report(h, err)
	}
}

func report(h adapter.Handlers, err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (s *session) Send(ctx context.Context, recipientID, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", recipientID, err)
	}
	if s.ctx.Err() != nil {
		return errors.New("telegram session stopped")
	}

	// tgbotapi has no context support; the client timeout bounds the call
	res := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(tgbotapi.NewMessage(chatID, text))
		res <- err
	}()
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels polling and waits for in-flight handlers, bounded by ctx.
func (s *session) Stop(ctx context.Context) error {
	s.stopOnce.Do(s.cancel)
	// a session that never listened has nothing to wait for
	s.startOnce.Do(func() { close(s.done) })

	select {
	case <-s.done:
		if c, ok := s.bot.Client.(*http.Client); ok {
			c.CloseIdleConnections()
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram session stop: %w", ctx.Err())
	}
}

// toInboundEvent classifies an update. Only private user messages are relevant:
// /start, photos, documents and plain text.
func toInboundEvent(up tgbotapi.Update) (adapter.InboundEvent, bool) {
	m := up.Message
	if m == nil || m.From == nil || m.From.IsBot {
		return adapter.InboundEvent{}, false
	}
	userID := strconv.FormatInt(m.From.ID, 10)
	chatID := userID
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
	}
	ev := adapter.InboundEvent{
		UpdateID:  int64(up.UpdateID),
		UserID:    userID,
		ChatID:    chatID,
		Username:  m.From.UserName,
		FirstName: m.From.FirstName,
	}
	switch {
	case m.IsCommand() && m.Command() == "start":
		ev.Kind = adapter.EventStart
	case len(m.Photo) > 0:
		ev.Kind = adapter.EventPhoto
		ev.Caption = m.Caption
	case m.Document != nil:
		ev.Kind = adapter.EventDocument
		ev.Caption = m.Caption
	case strings.TrimSpace(m.Text) != "":
		ev.Kind = adapter.EventText
		ev.Text = m.Text
	default:
		return adapter.InboundEvent{}, false
	}
	return ev, true
}

func shardFor(userID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}
