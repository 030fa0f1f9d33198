//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/adapter"
	"telegram-bot-manager/internal/domain/ports/repository"
	"telegram-bot-manager/internal/infra/lock"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newLocker() *lock.KeyedMutex { return lock.NewKeyedMutex() }

// =============================
// Repositories
// =============================

// ---- In-memory BotUserRepository ----

type MemBotUserRepo struct {
	mu      sync.Mutex
	records map[string]*model.UserQuotaRecord
	seq     int

	FindErr      error
	IncrementErr error
}

var _ repository.BotUserRepository = (*MemBotUserRepo)(nil)

func NewMemBotUserRepo() *MemBotUserRepo {
	return &MemBotUserRepo{records: make(map[string]*model.UserQuotaRecord)}
}

func key(botID, userID string) string { return botID + ":" + userID }

func (r *MemBotUserRepo) Find(ctx context.Context, tx repository.Tx, botID, tgUserID string) (*model.UserQuotaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	rec, ok := r.records[key(botID, tgUserID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *MemBotUserRepo) IncrementTrial(ctx context.Context, tx repository.Tx, botID, tgUserID, username string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.IncrementErr != nil {
		return 0, r.IncrementErr
	}
	rec := r.getOrCreate(botID, tgUserID)
	rec.TrialMessagesSent++
	rec.TelegramUsername = username
	if tt, ok := tx.(*fakeTx); ok {
		tt.onRollback = append(tt.onRollback, func() {
			r.mu.Lock()
			rec.TrialMessagesSent--
			r.mu.Unlock()
		})
	}
	return rec.TrialMessagesSent, nil
}

func (r *MemBotUserRepo) SetAuthorized(ctx context.Context, tx repository.Tx, botID, tgUserID string, authorized bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreate(botID, tgUserID).IsAuthorized = authorized
	return nil
}

func (r *MemBotUserRepo) ListTrialExhaustedUnnotified(ctx context.Context, tx repository.Tx, trialLimit, batch int) ([]*model.UserQuotaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.UserQuotaRecord
	for _, rec := range r.records {
		if !rec.IsAuthorized && !rec.TrialExpiredNotified && rec.TrialMessagesSent >= trialLimit {
			cp := *rec
			out = append(out, &cp)
		}
		if len(out) == batch {
			break
		}
	}
	return out, nil
}

func (r *MemBotUserRepo) MarkTrialNotified(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			if rec.TrialExpiredNotified {
				return false, nil
			}
			rec.TrialExpiredNotified = true
			return true, nil
		}
	}
	return false, domain.ErrNotFound
}

func (r *MemBotUserRepo) getOrCreate(botID, userID string) *model.UserQuotaRecord {
	k := key(botID, userID)
	rec, ok := r.records[k]
	if !ok {
		r.seq++
		rec = &model.UserQuotaRecord{
			ID:             strconv.Itoa(r.seq),
			BotID:          botID,
			TelegramUserID: userID,
			CreatedAt:      time.Now(),
		}
		r.records[k] = rec
	}
	return rec
}

func (r *MemBotUserRepo) count(botID, userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key(botID, userID)]; ok {
		return rec.TrialMessagesSent
	}
	return 0
}

// ---- MockMessageRepo ----

type MockMessageRepo struct {
	mu       sync.Mutex
	Messages []*model.ChatMessage
	updates  map[string]bool

	AppendFunc func(ctx context.Context, tx repository.Tx, m *model.ChatMessage) error
}

var _ repository.MessageRepository = (*MockMessageRepo)(nil)

func (r *MockMessageRepo) Append(ctx context.Context, tx repository.Tx, m *model.ChatMessage) error {
	if r.AppendFunc != nil {
		if err := r.AppendFunc(ctx, tx, m); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.UpdateID != 0 {
		if r.updates == nil {
			r.updates = make(map[string]bool)
		}
		k := m.BotID + ":" + strconv.FormatInt(m.UpdateID, 10)
		if r.updates[k] {
			return domain.ErrAlreadyExists
		}
		r.updates[k] = true
	}
	r.Messages = append(r.Messages, m)
	if tt, ok := tx.(*fakeTx); ok {
		tt.onRollback = append(tt.onRollback, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.Messages = r.Messages[:len(r.Messages)-1]
			if m.UpdateID != 0 {
				delete(r.updates, m.BotID+":"+strconv.FormatInt(m.UpdateID, 10))
			}
		})
	}
	return nil
}

func (r *MockMessageRepo) all() []*model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.ChatMessage(nil), r.Messages...)
}

// ---- MockBotRepo ----

type MockBotRepo struct {
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error)
	ListByIDsFunc     func(ctx context.Context, tx repository.Tx, ids []string) ([]*model.BotRegistration, error)
	ListRunnableFunc  func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error)
	ExpireOverdueFunc func(ctx context.Context, tx repository.Tx, now time.Time) ([]string, error)
}

var _ repository.BotRepository = (*MockBotRepo)(nil)

func (r *MockBotRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	return nil, domain.ErrNotFound
}

func (r *MockBotRepo) ListByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.BotRegistration, error) {
	if r.ListByIDsFunc != nil {
		return r.ListByIDsFunc(ctx, tx, ids)
	}
	return nil, nil
}

func (r *MockBotRepo) ListRunnable(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error) {
	if r.ListRunnableFunc != nil {
		return r.ListRunnableFunc(ctx, tx, now)
	}
	return nil, nil
}

func (r *MockBotRepo) ExpireOverdue(ctx context.Context, tx repository.Tx, now time.Time) ([]string, error) {
	if r.ExpireOverdueFunc != nil {
		return r.ExpireOverdueFunc(ctx, tx, now)
	}
	return nil, nil
}

// ---- fake transaction manager ----

type fakeTx struct {
	onRollback []func()
}

type MockTxManager struct {
	mu         sync.Mutex
	Committed  int
	RolledBack int
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx := &fakeTx{}
	if err := fn(ctx, tx); err != nil {
		for i := len(tx.onRollback) - 1; i >= 0; i-- {
			tx.onRollback[i]()
		}
		m.mu.Lock()
		m.RolledBack++
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.Committed++
	m.mu.Unlock()
	return nil
}

// =============================
// Adapters
// =============================

type sent struct {
	BotID, UserID, Text string
}

// ---- MockSessions implements Replier, SessionController and SessionStopper ----

type MockSessions struct {
	mu      sync.Mutex
	Sent    []sent
	Started []string
	Stopped []string
	running map[string]bool

	StartFunc func(ctx context.Context, botID, token string, cfg model.SessionConfig) error
	SendFunc  func(ctx context.Context, botID, userID, text string) error
	StopFunc  func(ctx context.Context, botID string) error
}

func (s *MockSessions) StartSession(ctx context.Context, botID, token string, cfg model.SessionConfig) error {
	if s.StartFunc != nil {
		if err := s.StartFunc(ctx, botID, token, cfg); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[string]bool)
	}
	s.running[botID] = true
	s.Started = append(s.Started, botID)
	return nil
}

func (s *MockSessions) StopSession(ctx context.Context, botID string) error {
	if s.StopFunc != nil {
		if err := s.StopFunc(ctx, botID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, botID)
	s.Stopped = append(s.Stopped, botID)
	return nil
}

func (s *MockSessions) SendMessage(ctx context.Context, botID, userID, text string) error {
	if s.SendFunc != nil {
		if err := s.SendFunc(ctx, botID, userID, text); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = append(s.Sent, sent{BotID: botID, UserID: userID, Text: text})
	return nil
}

func (s *MockSessions) ListActiveSessions() []model.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SessionSummary, 0, len(s.running))
	for id := range s.running {
		out = append(out, model.SessionSummary{BotID: id})
	}
	return out
}

func (s *MockSessions) stoppedCopy() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Stopped...)
}

func (s *MockSessions) IsRunning(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[botID]
}

func (s *MockSessions) sentCopy() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.Sent...)
}

// ---- MockPublisher ----

type MockPublisher struct {
	mu        sync.Mutex
	Published []model.Notification

	PublishFunc func(n model.Notification) error
}

var _ adapter.ControlPublisher = (*MockPublisher)(nil)

func (p *MockPublisher) Publish(n model.Notification) error {
	if p.PublishFunc != nil {
		if err := p.PublishFunc(n); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Published = append(p.Published, n)
	return nil
}

func (p *MockPublisher) ofType(t string) []model.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Notification
	for _, n := range p.Published {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// ---- MockDeduper ----

type MockDeduper struct {
	mu   sync.Mutex
	seen map[string]bool

	SeenFunc func(ctx context.Context, botID string, updateID int64) (bool, error)

	Forgotten []int64
}

func (d *MockDeduper) Forget(ctx context.Context, botID string, updateID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Forgotten = append(d.Forgotten, updateID)
	delete(d.seen, botID+":"+strconv.FormatInt(updateID, 10))
	return nil
}

func (d *MockDeduper) Seen(ctx context.Context, botID string, updateID int64) (bool, error) {
	if d.SeenFunc != nil {
		return d.SeenFunc(ctx, botID, updateID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	k := botID + ":" + strconv.FormatInt(updateID, 10)
	if d.seen[k] {
		return true, nil
	}
	d.seen[k] = true
	return false, nil
}

// ---- inline dispatcher ----

type inlineDispatcher struct{}

func (inlineDispatcher) Submit(key string, task func(ctx context.Context) error) error {
	return task(context.Background())
}
