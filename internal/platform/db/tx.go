package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const DBTxKey contextKey = "db_tx"

// Transactor runs fn inside a single database transaction. Repositories pick
// the transaction up from ctx via TxFromContext.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txState struct {
	tx     pgx.Tx
	hooks  []func()
	parent *txState
}

func (s *txState) root() *txState {
	for s.parent != nil {
		s = s.parent
	}
	return s
}

type PoolTransactor struct {
	pool *pgxpool.Pool
}

func NewTransactor(pool *pgxpool.Pool) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

// WithinTx begins a transaction, or joins the one already in ctx. On commit
// the hooks registered with AfterCommit run in registration order.
func (t *PoolTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if stateFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	state := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, DBTxKey, state)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, hook := range state.hooks {
		hook()
	}
	return nil
}

func stateFromContext(ctx context.Context) *txState {
	s, _ := ctx.Value(DBTxKey).(*txState)
	return s
}

// TxFromContext returns the innermost transaction (or savepoint) in ctx, or
// nil if there is none.
func TxFromContext(ctx context.Context) pgx.Tx {
	if s := stateFromContext(ctx); s != nil {
		return s.tx
	}
	return nil
}

// AfterCommit defers fn until the outermost transaction in ctx commits. With
// no transaction in ctx fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func()) {
	s := stateFromContext(ctx)
	if s == nil {
		fn()
		return
	}
	root := s.root()
	root.hooks = append(root.hooks, fn)
}

// Savepoint runs fn inside a nested transaction so a failure in fn rolls back
// only its own writes. With no transaction in ctx fn runs directly.
func Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	parent := stateFromContext(ctx)
	if parent == nil {
		return fn(ctx)
	}

	sp, err := parent.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}

	if err := fn(context.WithValue(ctx, DBTxKey, &txState{tx: sp, parent: parent})); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}
