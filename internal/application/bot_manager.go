// File: internal/application/bot_manager.go
package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/adapter"
	"telegram-bot-manager/internal/infra/lock"
	"telegram-bot-manager/internal/infra/logging"
	"telegram-bot-manager/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BotManagerOptions carries the reply texts and sizing of the session registry.
type BotManagerOptions struct {
	WelcomeMessage      string
	PhotoPlaceholder    string
	DocumentPlaceholder string
	ActivityCapacity    int
	EventBuffer         int
	StopTimeout         time.Duration
	Dev                 bool
	Now                 func() time.Time
}

// BotManager owns the running bot sessions, one per bot id. Lifecycle changes and
// inbound user messages are published on Events().
type BotManager struct {
	transport adapter.ChatTransport
	opts      BotManagerOptions
	log       *zerolog.Logger

	locks *lock.KeyedMutex // serializes start/stop per bot id

	mu       sync.RWMutex
	sessions map[string]*botSession
	starting map[string]struct{}

	events    chan model.SessionEvent
	done      chan struct{}
	closeOnce sync.Once
}

type botSession struct {
	botID      string
	instanceID string
	name       string
	config     model.SessionConfig
	startedAt  time.Time
	handle     adapter.TransportSession
	activity   *activityCache
}

func NewBotManager(transport adapter.ChatTransport, opts BotManagerOptions, logger *zerolog.Logger) *BotManager {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1024
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.PhotoPlaceholder == "" {
		opts.PhotoPlaceholder = "[photo]"
	}
	if opts.DocumentPlaceholder == "" {
		opts.DocumentPlaceholder = "[file]"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := logger.With().Str("component", "BotManager").Logger()
	return &BotManager{
		transport: transport,
		opts:      opts,
		log:       &l,
		locks:     lock.NewKeyedMutex(),
		sessions:  make(map[string]*botSession),
		starting:  make(map[string]struct{}),
		events:    make(chan model.SessionEvent, opts.EventBuffer),
		done:      make(chan struct{}),
	}
}

// Events is the stream of session events. It is never closed; use Close to
// release blocked emitters once nobody consumes it anymore.
func (m *BotManager) Events() <-chan model.SessionEvent {
	return m.events
}

// Close stops event delivery. Sessions are not touched; call StopAll first.
func (m *BotManager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// StartSession launches a session for botID, replacing a running one.
// A concurrent start for the same bot fails with domain.ErrAlreadyStarting.
func (m *BotManager) StartSession(ctx context.Context, botID, token string, cfg model.SessionConfig) error {
	botID = strings.TrimSpace(botID)
	token = strings.TrimSpace(token)
	if botID == "" || token == "" {
		return fmt.Errorf("%w: bot id and token are required", domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	if _, busy := m.starting[botID]; busy {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrAlreadyStarting, botID)
	}
	m.starting[botID] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.starting, botID)
		m.mu.Unlock()
	}()

	unlock, err := m.locks.Lock(ctx, botID)
	if err != nil {
		return err
	}
	defer unlock()

	if m.IsRunning(botID) {
		m.log.Info().Str("bot_id", botID).Msg("restarting running session")
		m.stopLocked(ctx, botID)
	}

	handle, err := m.transport.Launch(ctx, token)
	if err != nil {
		launchErr := fmt.Errorf("%w: bot %s: %v", domain.ErrTransportLaunch, botID, err)
		m.log.Error().Err(err).Str("bot_id", botID).Str("token", logging.Redact(token, m.opts.Dev)).Msg("launch failed")
		m.emit(model.SessionEvent{Kind: model.SessionError, BotID: botID, Err: launchErr})
		return launchErr
	}

	s := &botSession{
		botID:      botID,
		instanceID: uuid.NewString(),
		name:       cfg.DisplayName(token),
		config:     cfg,
		startedAt:  m.opts.Now(),
		handle:     handle,
		activity:   newActivityCache(m.opts.ActivityCapacity),
	}

	m.mu.Lock()
	m.sessions[botID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SetSessionsActive(n)

	handle.Listen(adapter.Handlers{
		OnEvent: func(ctx context.Context, ev adapter.InboundEvent) error {
			return m.handleEvent(ctx, s, ev)
		},
		OnError: func(err error) {
			m.log.Warn().Err(err).Str("bot_id", botID).Msg("transport error")
			m.emit(model.SessionEvent{Kind: model.SessionError, BotID: botID, Err: err})
		},
	})

	m.log.Info().Str("bot_id", botID).Str("bot_name", s.name).Str("instance_id", s.instanceID).Msg("session started")
	m.emit(model.SessionEvent{Kind: model.SessionStarted, BotID: botID, BotName: s.name})
	return nil
}

// StopSession stops botID's session. Stopping a bot that is not running is a no-op.
func (m *BotManager) StopSession(ctx context.Context, botID string) error {
	unlock, err := m.locks.Lock(ctx, botID)
	if err != nil {
		return err
	}
	defer unlock()
	m.stopLocked(ctx, botID)
	return nil
}

// stopLocked requires the per-bot lock. The entry is removed before the handle
// is closed so no new sends reach a closing transport.
func (m *BotManager) stopLocked(ctx context.Context, botID string) {
	m.mu.Lock()
	s, ok := m.sessions[botID]
	if ok {
		delete(m.sessions, botID)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}
	metrics.SetSessionsActive(n)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.StopTimeout)
	defer cancel()
	if err := s.handle.Stop(stopCtx); err != nil {
		m.log.Error().Err(err).Str("bot_id", botID).Msg("closing transport failed")
		m.emit(model.SessionEvent{Kind: model.SessionError, BotID: botID, Err: err})
	}

	m.log.Info().Str("bot_id", botID).Str("instance_id", s.instanceID).Msg("session stopped")
	m.emit(model.SessionEvent{Kind: model.SessionStopped, BotID: botID})
}

// StopAll stops every running session concurrently and waits for all of them.
func (m *BotManager) StopAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.StopSession(ctx, id); err != nil {
				m.log.Warn().Err(err).Str("bot_id", id).Msg("stop during shutdown failed")
			}
		}(id)
	}
	wg.Wait()
}

// SendMessage delivers text to userID through botID's own transport handle only.
func (m *BotManager) SendMessage(ctx context.Context, botID, userID, text string) error {
	m.mu.RLock()
	s, ok := m.sessions[botID]
	m.mu.RUnlock()
	if !ok {
		metrics.IncTransportSend("no_session")
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, botID)
	}
	if err := s.handle.Send(ctx, userID, text); err != nil {
		metrics.IncTransportSend("failed")
		return fmt.Errorf("%w: bot %s user %s: %v", domain.ErrDeliveryFailed, botID, userID, err)
	}
	metrics.IncTransportSend("ok")
	s.activity.Touch(userID, m.opts.Now())
	return nil
}

func (m *BotManager) IsRunning(botID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[botID]
	return ok
}

func (m *BotManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetSessionInfo returns domain.ErrSessionNotFound for a bot that is not running.
func (m *BotManager) GetSessionInfo(botID string) (*model.SessionInfo, error) {
	m.mu.RLock()
	s, ok := m.sessions[botID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, botID)
	}
	return &model.SessionInfo{
		BotID:       s.botID,
		InstanceID:  s.instanceID,
		Config:      s.config,
		StartedAt:   s.startedAt,
		ActiveUsers: s.activity.Len(),
		IsRunning:   true,
	}, nil
}

// ListActiveSessions returns summaries ordered by start time.
func (m *BotManager) ListActiveSessions() []model.SessionSummary {
	m.mu.RLock()
	out := make([]model.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, model.SessionSummary{
			BotID:       s.botID,
			BotName:     s.name,
			StartedAt:   s.startedAt,
			ActiveUsers: s.activity.Len(),
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].BotID < out[j].BotID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// EvictInactiveUsers drops activity entries older than maxAge across all sessions.
func (m *BotManager) EvictInactiveUsers(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	cutoff := m.opts.Now().Add(-maxAge)

	m.mu.RLock()
	caches := make([]*activityCache, 0, len(m.sessions))
	for _, s := range m.sessions {
		caches = append(caches, s.activity)
	}
	m.mu.RUnlock()

	removed := 0
	for _, c := range caches {
		removed += c.EvictBefore(cutoff)
	}
	if removed > 0 {
		m.log.Debug().Int("removed", removed).Dur("max_age", maxAge).Msg("evicted inactive users")
	}
	return removed
}

// LastActivity is the last time userID interacted with botID's session.
func (m *BotManager) LastActivity(botID, userID string) (time.Time, bool) {
	m.mu.RLock()
	s, ok := m.sessions[botID]
	m.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return s.activity.LastSeen(userID)
}

func (m *BotManager) handleEvent(ctx context.Context, s *botSession, ev adapter.InboundEvent) error {
	if ev.UserID == "" {
		return nil
	}
	now := m.opts.Now()
	s.activity.Touch(ev.UserID, now)

	var (
		kind model.InboundKind
		text string
	)
	switch ev.Kind {
	case adapter.EventStart:
		welcome := s.config.WelcomeMessage
		if strings.TrimSpace(welcome) == "" {
			welcome = m.opts.WelcomeMessage
		}
		chatID := ev.ChatID
		if chatID == "" {
			chatID = ev.UserID
		}
		if err := s.handle.Send(ctx, chatID, welcome); err != nil {
			metrics.IncTransportSend("failed")
			return fmt.Errorf("%w: welcome to %s: %v", domain.ErrDeliveryFailed, chatID, err)
		}
		metrics.IncTransportSend("ok")
		return nil
	case adapter.EventText:
		kind, text = model.InboundText, ev.Text
	case adapter.EventPhoto:
		kind, text = model.InboundPhoto, ev.Caption
		if strings.TrimSpace(text) == "" {
			text = m.opts.PhotoPlaceholder
		}
	case adapter.EventDocument:
		kind, text = model.InboundDocument, m.opts.DocumentPlaceholder
	default:
		return nil
	}

	m.emit(model.SessionEvent{
		Kind:  model.SessionMessage,
		BotID: s.botID,
		Message: &model.InboundMessage{
			BotID:      s.botID,
			UserID:     ev.UserID,
			UpdateID:   ev.UpdateID,
			Kind:       kind,
			Text:       text,
			Username:   ev.Username,
			FirstName:  ev.FirstName,
			ReceivedAt: now,
		},
	})
	return nil
}

// emit blocks until the event is queued or the manager is closed.
func (m *BotManager) emit(ev model.SessionEvent) {
	select {
	case m.events <- ev:
		metrics.IncSessionEvent(string(ev.Kind))
	case <-m.done:
		m.log.Debug().Str("bot_id", ev.BotID).Str("event", string(ev.Kind)).Msg("event dropped after close")
	}
}
