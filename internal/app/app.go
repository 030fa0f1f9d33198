// Package app wires the bot service together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"telegram-bot-manager/internal/application"
	"telegram-bot-manager/internal/config"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/adapter"
	"telegram-bot-manager/internal/domain/ports/repository"
	"telegram-bot-manager/internal/infra/adapters/telegram"
	"telegram-bot-manager/internal/infra/api"
	"telegram-bot-manager/internal/infra/control"
	pg "telegram-bot-manager/internal/infra/db/postgres"
	"telegram-bot-manager/internal/infra/lock"
	red "telegram-bot-manager/internal/infra/redis"
	"telegram-bot-manager/internal/infra/sched"
	"telegram-bot-manager/internal/infra/worker"
	"telegram-bot-manager/internal/usecase"
)

// App is the process-scoped context: every long-lived component hangs off it.
type App struct {
	cfg *config.Config
	log *zerolog.Logger

	db    *pgxpool.Pool
	redis *red.Client

	manager     *application.BotManager
	routerPool  *worker.Pool
	commandPool *worker.Pool
	router      usecase.RouterUseCase
	commands    usecase.CommandUseCase
	maintenance usecase.MaintenanceUseCase
	channel     *control.Channel
	scanner     *sched.Scanner
	ops         *api.Server

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New connects to the stores and builds every component. Only an unreachable
// database is fatal; Redis is optional.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: logger}

	db, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.db = db

	// commands read tokens from the store; the cached view serves the sweep and the ops API
	storeBots := pg.NewPostgresBotRepo(db)
	var bots repository.BotRepository = storeBots
	users := pg.NewPostgresBotUserRepo(db)
	messages := pg.NewPostgresMessageRepo(db)
	tm := pg.NewTxManager(db)

	var dedupe usecase.Deduper
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; running without dedupe and bot cache")
		} else {
			a.redis = rc
			bots = pg.NewBotRepoCacheDecorator(bots, rc, cfg.Redis.TTL, logger)
			dedupe = red.NewDeduper(rc, cfg.Redis.DedupTTL)
		}
	}

	a.manager = application.NewBotManager(newTransport(cfg, logger), application.BotManagerOptions{
		WelcomeMessage:      cfg.Messages.Welcome,
		PhotoPlaceholder:    cfg.Messages.PhotoPlaceholder,
		DocumentPlaceholder: cfg.Messages.DocumentPlaceholder,
		ActivityCapacity:    cfg.Quota.ActivityCapacity,
		EventBuffer:         cfg.Router.QueueSize,
		StopTimeout:         10 * time.Second,
		Dev:                 cfg.Runtime.Dev,
	}, logger)

	a.routerPool = worker.NewPool("router", logger)
	a.commandPool = worker.NewPool("commands", logger)

	// the channel dispatches into the command use case, which publishes back through it
	a.channel = control.NewChannel(cfg.Control, control.HandlerFunc(func(ctx context.Context, env model.Envelope) error {
		return a.commands.Dispatch(ctx, env)
	}), a.commandPool, logger)

	ledger := usecase.NewQuotaUseCase(users, lock.NewKeyedMutex(), cfg.Quota.TrialLimit, logger)
	a.router = usecase.NewRouterUseCase(ledger, messages, tm, a.manager, a.channel, dedupe, a.routerPool,
		usecase.RouterOptions{
			TrialEndedMessage: cfg.Messages.TrialEnded,
			UnknownUsername:   cfg.Messages.UnknownUsername,
		}, logger)
	a.commands = usecase.NewCommandUseCase(a.manager, storeBots, messages, a.channel, logger)
	a.maintenance = usecase.NewMaintenanceUseCase(bots, users, a.manager, a.channel, cfg.Quota.TrialLimit, cfg.Quota.NotifyBatch, logger)

	a.scanner = sched.NewScanner(30*time.Second, logger)
	a.ops = api.NewServer(cfg.Admin.Port, a.manager, ledger, bots, a.channel, cfg.Admin.APIKey, logger)
	return a, nil
}

func newTransport(cfg *config.Config, logger *zerolog.Logger) adapter.ChatTransport {
	if strings.EqualFold(cfg.Transport.Mode, "noop") {
		logger.Warn().Msg("transport.mode=noop: bots will not reach Telegram")
		return telegram.NewNoopTransport(logger)
	}
	return telegram.NewTransport(cfg.Transport, logger)
}

// Start launches the background loops, loads every runnable bot and schedules
// the sweeps.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.routerPool.Start(runCtx)
	a.commandPool.Start(runCtx)

	a.goRun("router", func() error { return a.router.Run(runCtx, a.manager.Events()) })
	a.goRun("control", func() error { return a.channel.Run(runCtx) })

	n, err := a.commands.LoadActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("boot load: %w", err)
	}
	a.log.Info().Int("started", n).Msg("runnable bots loaded")

	jobs := []struct {
		name, spec string
		fn         sched.JobFunc
	}{
		{"bot_expiry", a.cfg.Scheduler.ExpiryCheckCron, a.maintenance.ExpireOverdueBots},
		{"trial_exhausted", a.cfg.Scheduler.TrialCheckCron, a.maintenance.MarkTrialExhausted},
		{"activity_evict", a.cfg.Scheduler.ActivityEvictCron, func(ctx context.Context) (int, error) {
			return a.manager.EvictInactiveUsers(a.cfg.Quota.ActivityMaxAge), nil
		}},
		{"db_pool_stats", a.cfg.Scheduler.PoolStatsCron, func(ctx context.Context) (int, error) {
			pg.ReportPoolStats(a.db)
			return 0, nil
		}},
	}
	for _, j := range jobs {
		if err := a.scanner.Add(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	a.scanner.Start()
	a.ops.Start()
	return nil
}

func (a *App) goRun(name string, fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil {
			a.log.Error().Err(err).Str("loop", name).Msg("background loop exited")
		}
	}()
}

// Shutdown stops every session, then closes the control channel, tolerating
// failures of each step. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.shutdownOnce.Do(func() {
		if err := a.scanner.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.ops.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ops http: %w", err))
		}

		// no new commands may start a session behind StopAll
		a.commandPool.Stop(ctx)
		a.manager.StopAll(ctx)
		// BOT_STOPPED notifications go out before the channel closes
		waitDrained(ctx, a.manager.Events())
		a.routerPool.Stop(ctx)
		if err := a.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("control channel: %w", err))
		}

		if a.cancel != nil {
			a.cancel()
		}
		a.manager.Close()
		a.wg.Wait()

		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}
		a.db.Close()
		a.log.Info().Msg("shutdown complete")
	})
	return errors.Join(errs...)
}

// waitDrained polls until the router has consumed every buffered event.
func waitDrained(ctx context.Context, events <-chan model.SessionEvent) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for len(events) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
