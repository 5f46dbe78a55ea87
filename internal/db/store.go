package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"
)

const txCleanupTimeout = 10 * time.Second

// TxQuerier is a Querier that can also run a group of queries atomically.
type TxQuerier interface {
	Querier
	ExecTx(ctx context.Context, fn func(Querier) error) error
}

// Store provides all functions to execute db queries and transactions.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

var _ TxQuerier = (*Store)(nil)

// NewPool creates a pgx pool with query tracing enabled.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{
		Name: "vodpipe",
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Queries: New(pool),
		pool:    pool,
	}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// ExecTx runs fn inside a transaction. The transaction commits only when fn
// returns nil; any error rolls it back.
func (s *Store) ExecTx(ctx context.Context, fn func(Querier) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// The caller ctx may already be cancelled.
		rbCtx, cancel := context.WithTimeout(context.Background(), txCleanupTimeout)
		defer cancel()

		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
	}()

	if err = fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), txCleanupTimeout)
	defer cancel()

	if err = tx.Commit(commitCtx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
