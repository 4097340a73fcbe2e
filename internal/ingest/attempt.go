// Package ingest orchestrates portal ingestion runs: it drives adapter
// lifecycles with bounded retries, lands extracted data through the upsert
// writer, and records every attempt in the audit table.
package ingest

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/merchant-ops/portalsync/internal/db"
)

// Attempt statuses. An attempt is partial when data landed but some rows
// were dropped or the portal returned nothing.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Attempt is one row in ingest.attempts.
type Attempt struct {
	ID          string     `json:"id"`
	Portal      string     `json:"portal"`
	Kind        string     `json:"kind"`
	TargetDate  time.Time  `json:"target_date"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	RowsWritten int64      `json:"rows_written"`
	RowsFailed  int64      `json:"rows_failed"`
	Error       string     `json:"error,omitempty"`
}

// AttemptLog provides read/write access to ingest.attempts.
type AttemptLog struct {
	pool db.Pool
}

func NewAttemptLog(pool db.Pool) *AttemptLog {
	return &AttemptLog{pool: pool}
}

// Start records the beginning of an ingestion attempt and returns its id.
func (a *AttemptLog) Start(ctx context.Context, portal, kind string, date time.Time) (string, error) {
	id := uuid.NewString()
	_, err := a.pool.Exec(ctx,
		`INSERT INTO ingest.attempts (id, portal, kind, target_date, status, started_at)
		 VALUES ($1, $2, $3, $4, 'running', now())`,
		id, portal, kind, date,
	)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: start attempt for %s/%s", portal, kind)
	}
	return id, nil
}

// Finish closes an attempt with its terminal status.
func (a *AttemptLog) Finish(ctx context.Context, id, status string, rowsWritten, rowsFailed int64, errMsg string) error {
	_, err := a.pool.Exec(ctx,
		`UPDATE ingest.attempts
		 SET status = $1, finished_at = now(), rows_written = $2, rows_failed = $3, error = $4
		 WHERE id = $5`,
		status, rowsWritten, rowsFailed, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "ingest: finish attempt %s", id)
	}
	return nil
}

// HasSucceeded reports whether a fully successful attempt already exists for
// the portal, kind, and target date. Partial attempts do not count: the
// remediation for a partial day is simply running that day again, so it must
// not be skipped.
func (a *AttemptLog) HasSucceeded(ctx context.Context, portal, kind string, date time.Time) (bool, error) {
	var n int64
	err := a.pool.QueryRow(ctx,
		`SELECT count(*) FROM ingest.attempts
		 WHERE portal = $1 AND kind = $2 AND target_date = $3
		   AND status = 'success'`,
		portal, kind, date,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "ingest: check prior attempts for %s/%s", portal, kind)
	}
	return n > 0, nil
}

// LastSuccess returns when the portal and kind last completed successfully.
// Returns nil if it never has.
func (a *AttemptLog) LastSuccess(ctx context.Context, portal, kind string) (*time.Time, error) {
	var t time.Time
	err := a.pool.QueryRow(ctx,
		`SELECT started_at FROM ingest.attempts
		 WHERE portal = $1 AND kind = $2 AND status = 'success'
		 ORDER BY started_at DESC LIMIT 1`,
		portal, kind,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ingest: last success for %s/%s", portal, kind)
	}
	return &t, nil
}

// List returns attempts ordered by most recent first. An empty portal
// matches all portals; limit <= 0 means no limit.
func (a *AttemptLog) List(ctx context.Context, portal string, limit int) ([]Attempt, error) {
	query := `SELECT id, portal, kind, target_date, status, started_at, finished_at,
	                 rows_written, rows_failed, error
	          FROM ingest.attempts`
	args := []any{}
	if portal != "" {
		query += ` WHERE portal = $1`
		args = append(args, portal)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list attempts")
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var at Attempt
		var finishedAt *time.Time
		var errStr *string
		if err := rows.Scan(&at.ID, &at.Portal, &at.Kind, &at.TargetDate, &at.Status,
			&at.StartedAt, &finishedAt, &at.RowsWritten, &at.RowsFailed, &errStr); err != nil {
			return nil, eris.Wrap(err, "ingest: scan attempt")
		}
		at.FinishedAt = finishedAt
		if errStr != nil {
			at.Error = *errStr
		}
		attempts = append(attempts, at)
	}
	return attempts, rows.Err()
}
