package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-bot-manager/internal/config"
	"telegram-bot-manager/internal/infra/metrics"
)

// NewPgxPool opens and pings a pool. Failure here is fatal for the service.
func NewPgxPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.HealthCheckPeriod = 30 * time.Second

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(cctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool connect: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool ping: %w", err)
	}
	return pool, nil
}

// ReportPoolStats samples the pool into the db_pool_stats gauge.
func ReportPoolStats(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	s := pool.Stat()
	metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
}
