package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside a database transaction and hands the
// infra-defined tx handle (pgx.Tx for Postgres) to repositories through Tx.
// Repositories MUST accept a nil Tx and fall back to the pool.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
