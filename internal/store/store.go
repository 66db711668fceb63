// Package store persists transaction datasets and mining runs in PostgreSQL.
// Datasets are the input side of a run; runs and their frequent patterns are
// the output side.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/resilience"
)

// Schema creates the tables the store needs. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		dataset TEXT   NOT NULL,
		seq     BIGINT NOT NULL,
		items   TEXT[] NOT NULL,
		PRIMARY KEY (dataset, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS mining_runs (
		run_id           UUID PRIMARY KEY,
		dataset          TEXT             NOT NULL,
		ordered          BOOLEAN          NOT NULL,
		min_support      DOUBLE PRECISION NOT NULL,
		min_count        BIGINT           NOT NULL,
		num_transactions BIGINT           NOT NULL,
		total_patterns   INTEGER          NOT NULL,
		created_at       TIMESTAMPTZ      NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS mining_runs_dataset_created_idx
		ON mining_runs (dataset, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS frequent_patterns (
		run_id    UUID    NOT NULL REFERENCES mining_runs (run_id) ON DELETE CASCADE,
		position  INTEGER NOT NULL,
		items     TEXT[]  NOT NULL,
		frequency BIGINT  NOT NULL,
		PRIMARY KEY (run_id, position)
	)`,
}

// Store reads datasets from and writes mining runs to PostgreSQL. All calls
// go through a circuit breaker so an unreachable database fails fast.
type Store struct {
	db     *postgres.Client
	cb     *resilience.CircuitBreaker
	logger *slog.Logger
}

// New creates a Store. cb may be nil to disable the breaker.
func New(db *postgres.Client, cb *resilience.CircuitBreaker) *Store {
	return &Store{
		db:     db,
		cb:     cb,
		logger: slog.Default().With("component", "store"),
	}
}

// Open connects to PostgreSQL, applies Schema and wraps the connection in a
// Store.
func Open(ctx context.Context, cfg config.PostgresConfig, cb *resilience.CircuitBreaker) (*Store, error) {
	db, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, Schema...); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return New(db, cb), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) guard(fn func() error) error {
	if s.cb == nil {
		return fn()
	}
	err := s.cb.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
	}
	return err
}

// LoadTransactions returns the transactions of dataset in insertion order.
// A dataset with no rows does not exist. When maxTx is positive, a dataset
// holding more than maxTx transactions is rejected rather than truncated.
func (s *Store) LoadTransactions(ctx context.Context, dataset string, maxTx int) ([][]string, error) {
	var txs [][]string
	err := s.guard(func() error {
		query := `SELECT items FROM transactions WHERE dataset = $1 ORDER BY seq`
		args := []any{dataset}
		if maxTx > 0 {
			query += ` LIMIT $2`
			args = append(args, maxTx+1)
		}
		rows, err := s.db.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying transactions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var items []string
			if err := rows.Scan(pq.Array(&items)); err != nil {
				return fmt.Errorf("scanning transaction row: %w", err)
			}
			txs = append(txs, items)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, apperrors.Newf(apperrors.ErrDatasetNotFound, http.StatusNotFound, "dataset %q", dataset)
	}
	if maxTx > 0 && len(txs) > maxTx {
		return nil, apperrors.Newf(apperrors.ErrTooLarge, http.StatusRequestEntityTooLarge, "dataset %q exceeds %d transactions", dataset, maxTx)
	}
	s.logger.Debug("transactions loaded", "dataset", dataset, "count", len(txs))
	return txs, nil
}

// AppendTransactions adds txs to the end of dataset, creating it if needed,
// and returns the dataset's new size. Concurrent appends to the same dataset
// are serialised by an advisory lock.
func (s *Store) AppendTransactions(ctx context.Context, dataset string, txs [][]string) (int64, error) {
	var total int64
	err := s.guard(func() error {
		return s.db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dataset); err != nil {
				return fmt.Errorf("locking dataset: %w", err)
			}
			var next int64
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(seq) + 1, 0) FROM transactions WHERE dataset = $1`, dataset,
			).Scan(&next); err != nil {
				return fmt.Errorf("reading dataset size: %w", err)
			}

			stmt, err := tx.PrepareContext(ctx, pq.CopyIn("transactions", "dataset", "seq", "items"))
			if err != nil {
				return fmt.Errorf("preparing copy: %w", err)
			}
			for i, items := range txs {
				if _, err := stmt.ExecContext(ctx, dataset, next+int64(i), pq.Array(items)); err != nil {
					stmt.Close()
					return fmt.Errorf("copying transaction %d: %w", i, err)
				}
			}
			if _, err := stmt.ExecContext(ctx); err != nil {
				stmt.Close()
				return fmt.Errorf("flushing copy: %w", err)
			}
			if err := stmt.Close(); err != nil {
				return fmt.Errorf("closing copy: %w", err)
			}
			total = next + int64(len(txs))
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("transactions appended", "dataset", dataset, "added", len(txs), "total", total)
	return total, nil
}

// SaveRun persists a run summary and its patterns atomically. Patterns keep
// the order they are given in.
func (s *Store) SaveRun(ctx context.Context, run proto.RunSummary, patterns []proto.PatternDTO) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	err := s.guard(func() error {
		return s.db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO mining_runs
					(run_id, dataset, ordered, min_support, min_count, num_transactions, total_patterns, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				run.RunID, run.Dataset, run.Ordered, run.MinSupport, run.MinCount,
				run.NumTransactions, len(patterns), run.CreatedAt,
			); err != nil {
				return fmt.Errorf("inserting run: %w", err)
			}

			stmt, err := tx.PrepareContext(ctx, pq.CopyIn("frequent_patterns", "run_id", "position", "items", "frequency"))
			if err != nil {
				return fmt.Errorf("preparing copy: %w", err)
			}
			for i, p := range patterns {
				if _, err := stmt.ExecContext(ctx, run.RunID, i, pq.Array(p.Items), p.Frequency); err != nil {
					stmt.Close()
					return fmt.Errorf("copying pattern %d: %w", i, err)
				}
			}
			if _, err := stmt.ExecContext(ctx); err != nil {
				stmt.Close()
				return fmt.Errorf("flushing copy: %w", err)
			}
			return stmt.Close()
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("mining run saved", "run_id", run.RunID, "dataset", run.Dataset, "patterns", len(patterns))
	return nil
}

// LatestRun returns the most recent run for dataset.
func (s *Store) LatestRun(ctx context.Context, dataset string) (*proto.RunSummary, error) {
	var run proto.RunSummary
	err := s.guard(func() error {
		err := s.db.DB.QueryRowContext(ctx,
			`SELECT run_id, dataset, ordered, min_support, min_count, num_transactions, total_patterns, created_at
			 FROM mining_runs WHERE dataset = $1 ORDER BY created_at DESC LIMIT 1`,
			dataset,
		).Scan(&run.RunID, &run.Dataset, &run.Ordered, &run.MinSupport, &run.MinCount,
			&run.NumTransactions, &run.TotalPatterns, &run.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	if run.RunID == "" {
		return nil, apperrors.Newf(apperrors.ErrRunNotFound, http.StatusNotFound, "no runs for dataset %q", dataset)
	}
	return &run, nil
}

// ListPatterns returns up to limit patterns of a run in stored order. A
// non-positive limit returns all of them.
func (s *Store) ListPatterns(ctx context.Context, runID string, limit int) ([]proto.PatternDTO, error) {
	patterns := []proto.PatternDTO{}
	err := s.guard(func() error {
		query := `SELECT items, frequency FROM frequent_patterns WHERE run_id = $1 ORDER BY position`
		args := []any{runID}
		if limit > 0 {
			query += ` LIMIT $2`
			args = append(args, limit)
		}
		rows, err := s.db.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p proto.PatternDTO
			if err := rows.Scan(pq.Array(&p.Items), &p.Frequency); err != nil {
				return fmt.Errorf("scanning pattern row: %w", err)
			}
			patterns = append(patterns, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	return patterns, nil
}
