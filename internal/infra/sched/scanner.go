package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"telegram-bot-manager/internal/infra/metrics"
)

// JobFunc performs one sweep and reports how many items it touched.
type JobFunc func(ctx context.Context) (int, error)

// Scanner runs the periodic maintenance sweeps. A run that is still going
// when its next tick fires is skipped, so sweeps never overlap themselves.
type Scanner struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]cron.EntryID
}

func NewScanner(timeout time.Duration, logger *zerolog.Logger) *Scanner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l := logger.With().Str("component", "Scanner").Logger()
	cl := cronLogger{log: &l}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scanner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout: timeout,
		log:     &l,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]cron.EntryID),
	}
}

// Add schedules fn under spec, which is a cron expression or a descriptor
// such as "@every 60s".
func (s *Scanner) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.jobs[name] = id
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return nil
}

func (s *Scanner) run(name string, fn JobFunc) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := fn(ctx)
	if err != nil {
		metrics.IncScheduledJob(name, "failed")
		s.log.Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("scheduled job failed")
		return
	}
	metrics.IncScheduledJob(name, "ok")
	ev := s.log.Debug()
	if n > 0 {
		ev = s.log.Info()
	}
	ev.Str("job", name).Int("count", n).Dur("took", time.Since(start)).Msg("scheduled job done")
}

func (s *Scanner) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them, bounded by ctx.
func (s *Scanner) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scanner stop: %w", ctx.Err())
	}
}

// cronLogger routes robfig/cron's own logging through zerolog.
type cronLogger struct {
	log *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
