package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var attemptDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func TestAttemptLog_StartFinish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO ingest.attempts").
		WithArgs(pgxmock.AnyArg(), "meridian", "sales", attemptDate).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	log := NewAttemptLog(mock)
	id, err := log.Start(context.Background(), "meridian", "sales", attemptDate)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	mock.ExpectExec("UPDATE ingest.attempts").
		WithArgs(StatusPartial, int64(120), int64(3), "3 rows dropped", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, log.Finish(context.Background(), id, StatusPartial, 120, 3, "3 rows dropped"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptLog_HasSucceeded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// The predicate counts only full successes, so a day that finished
	// partial is ingested again on the next run.
	mock.ExpectQuery(`status = 'success'`).
		WithArgs("meridian", "sales", attemptDate).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

	log := NewAttemptLog(mock)
	done, err := log.HasSucceeded(context.Background(), "meridian", "sales", attemptDate)
	require.NoError(t, err)
	assert.True(t, done)

	mock.ExpectQuery(`status = 'success'`).
		WithArgs("lumina", "sales", attemptDate).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

	done, err = log.HasSucceeded(context.Background(), "lumina", "sales", attemptDate)
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptLog_LastSuccessNever(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT started_at").
		WithArgs("vendora", "inventory").
		WillReturnError(pgx.ErrNoRows)

	log := NewAttemptLog(mock)
	ts, err := log.LastSuccess(context.Background(), "vendora", "inventory")
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestAttemptLog_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	finished := attemptDate.Add(2 * time.Minute)
	errMsg := "boom"
	mock.ExpectQuery("SELECT id, portal, kind").
		WithArgs("meridian").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "portal", "kind", "target_date", "status", "started_at",
			"finished_at", "rows_written", "rows_failed", "error",
		}).
			AddRow("a-1", "meridian", "sales", attemptDate, StatusSuccess, attemptDate, &finished, int64(10), int64(0), (*string)(nil)).
			AddRow("a-2", "meridian", "sales", attemptDate, StatusFailed, attemptDate, &finished, int64(0), int64(0), &errMsg))

	log := NewAttemptLog(mock)
	attempts, err := log.List(context.Background(), "meridian", 20)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, StatusSuccess, attempts[0].Status)
	assert.Equal(t, "boom", attempts[1].Error)
}
