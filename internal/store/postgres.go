package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"recruiting-ai-queue/internal/models"
)

// Store persists completed AI results and the job audit trail in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecordResult inserts the result row of a completed job. A job that was already recorded, for
// example after a lease expired mid-write and the job ran again, is not an error.
func (s *Store) RecordResult(ctx context.Context, job models.Job) error {
	if job.Status != models.StatusCompleted {
		return fmt.Errorf("record result of job %s: status is %s", job.ID, job.Status)
	}
	finished := time.Now().UTC()
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_job_results (job_id, kind, user_id, payload, result, attempts, created_at, finished_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`, job.ID, string(job.Kind), job.UserID, []byte(job.Payload), []byte(job.Result), job.Attempts, job.CreatedAt, finished)
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
