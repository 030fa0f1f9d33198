// File: internal/usecase/maintenance_uc.go
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/adapter"
	"telegram-bot-manager/internal/domain/ports/repository"
	"telegram-bot-manager/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ MaintenanceUseCase = (*maintenanceUC)(nil)

// SessionStopper stops a bot's running session; stopping an idle bot is a no-op.
type SessionStopper interface {
	StopSession(ctx context.Context, botID string) error
	ListActiveSessions() []model.SessionSummary
}

// expiredStopTimeout bounds one stop issued by the expiry sweep.
const expiredStopTimeout = 30 * time.Second

// MaintenanceUseCase holds the periodic sweeps.
type MaintenanceUseCase interface {
	// ExpireOverdueBots deauthorizes bots whose expiry passed and stops their sessions.
	ExpireOverdueBots(ctx context.Context) (int, error)
	// MarkTrialExhausted flags users past the trial cap exactly once and
	// notifies the control plane for each of them.
	MarkTrialExhausted(ctx context.Context) (int, error)
}

type maintenanceUC struct {
	bots       repository.BotRepository
	users      repository.BotUserRepository
	sessions   SessionStopper
	publisher  adapter.ControlPublisher
	trialLimit int
	batch      int
	now        func() time.Time
	log        *zerolog.Logger
}

func NewMaintenanceUseCase(
	bots repository.BotRepository,
	users repository.BotUserRepository,
	sessions SessionStopper,
	publisher adapter.ControlPublisher,
	trialLimit, batch int,
	logger *zerolog.Logger,
) *maintenanceUC {
	if trialLimit <= 0 {
		trialLimit = model.DefaultTrialLimit
	}
	if batch <= 0 {
		batch = 500
	}
	l := logger.With().Str("component", "MaintenanceUseCase").Logger()
	return &maintenanceUC{
		bots:       bots,
		users:      users,
		sessions:   sessions,
		publisher:  publisher,
		trialLimit: trialLimit,
		batch:      batch,
		now:        time.Now,
		log:        &l,
	}
}

// ExpireOverdueBots also stops running sessions whose registration is no longer
// runnable, which retries stops that failed on an earlier sweep.
func (m *maintenanceUC) ExpireOverdueBots(ctx context.Context) (int, error) {
	ids, err := m.bots.ExpireOverdue(ctx, repository.NoTX, m.now())
	if err != nil {
		return 0, fmt.Errorf("expire overdue bots: %w", err)
	}
	metrics.IncBotsExpired(len(ids))
	m.stopBots(ctx, ids, "bot expired and stopped")

	stale, err := m.staleSessions(ctx, ids)
	if err != nil {
		m.log.Warn().Err(err).Msg("running sessions not checked against the store")
	}
	m.stopBots(ctx, stale, "non-runnable bot stopped")
	return len(ids), nil
}

// stopBots fans the stops out and waits for them. The stops outlive the
// sweep's own deadline.
func (m *maintenanceUC) stopBots(ctx context.Context, ids []string, msg string) {
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), expiredStopTimeout)
			defer cancel()
			if err := m.sessions.StopSession(sctx, id); err != nil {
				m.log.Error().Err(err).Str("bot_id", id).Msg("failed to stop bot")
				return
			}
			m.log.Info().Str("bot_id", id).Msg(msg)
		}(id)
	}
	wg.Wait()
}

// staleSessions returns running bots, other than skip, whose stored
// registration is not runnable. Bots without a registration are left alone.
func (m *maintenanceUC) staleSessions(ctx context.Context, skip []string) ([]string, error) {
	done := make(map[string]bool, len(skip))
	for _, id := range skip {
		done[id] = true
	}
	var ids []string
	for _, s := range m.sessions.ListActiveSessions() {
		if !done[s.BotID] {
			ids = append(ids, s.BotID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	regs, err := m.bots.ListByIDs(ctx, repository.NoTX, ids)
	if err != nil {
		return nil, fmt.Errorf("load running bots: %w", err)
	}
	now := m.now()
	var stale []string
	for _, reg := range regs {
		if !reg.Runnable(now) {
			stale = append(stale, reg.ID)
		}
	}
	return stale, nil
}

func (m *maintenanceUC) MarkTrialExhausted(ctx context.Context) (int, error) {
	recs, err := m.users.ListTrialExhaustedUnnotified(ctx, repository.NoTX, m.trialLimit, m.batch)
	if err != nil {
		return 0, fmt.Errorf("list trial exhausted users: %w", err)
	}

	marked := 0
	for _, r := range recs {
		if ctx.Err() != nil {
			break
		}
		ok, err := m.users.MarkTrialNotified(ctx, repository.NoTX, r.ID)
		if err != nil {
			m.log.Error().Err(err).Str("bot_id", r.BotID).Str("tg_user_id", r.TelegramUserID).Msg("mark trial notified failed")
			continue
		}
		if !ok {
			// marked concurrently
			continue
		}
		marked++
		m.notify(r)
	}
	metrics.IncTrialExhaustedMarked(marked)
	if marked > 0 {
		m.log.Info().Int("marked", marked).Msg("trial exhausted users marked")
	}
	return marked, nil
}

func (m *maintenanceUC) notify(r *model.UserQuotaRecord) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.Publish(model.Notification{
		Type: model.NotifyTrialExhausted,
		Data: model.TrialExhaustedPayload{
			BotID:          r.BotID,
			TelegramUserID: r.TelegramUserID,
			MessageCount:   r.TrialMessagesSent,
		},
	})
	if err != nil && !isDisconnected(err) {
		m.log.Warn().Err(err).Str("bot_id", r.BotID).Msg("publish trial exhausted failed")
	}
}
