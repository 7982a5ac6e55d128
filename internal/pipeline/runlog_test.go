package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLog_Start(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO bankruptcy.worker_runs").
		WithArgs(pgxmock.AnyArg(), "importer").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	log := NewRunLog(mock)
	ref, err := log.Start(context.Background(), "importer")
	require.NoError(t, err)
	assert.Equal(t, int64(7), ref.ID)
	assert.NotEqual(t, uuid.Nil, ref.UID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Complete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE bankruptcy.worker_runs").
		WithArgs(int64(42), []byte(`{"file":"a.tsv"}`), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	log := NewRunLog(mock)
	err = log.Complete(context.Background(), 7, &RunResult{
		Items:    42,
		Metadata: map[string]any{"file": "a.tsv"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Complete_NilResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE bankruptcy.worker_runs").
		WithArgs(int64(0), []byte(nil), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	log := NewRunLog(mock)
	err = log.Complete(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Fail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE bankruptcy.worker_runs").
		WithArgs("boom", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	log := NewRunLog(mock)
	err = log.Fail(context.Background(), 7, "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_LastSuccess_NeverRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT started_at FROM bankruptcy.worker_runs").
		WithArgs("dedup").
		WillReturnError(pgx.ErrNoRows)

	log := NewRunLog(mock)
	got, err := log.LastSuccess(context.Background(), "dedup")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_ListRecent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)
	errMsg := "timeout"

	rows := pgxmock.NewRows([]string{"id", "run_uid", "worker", "status", "started_at", "completed_at", "items", "error", "metadata"}).
		AddRow(int64(2), uuid.New(), "stats", "complete", started, &completed, int64(1), (*string)(nil), []byte(`{"snapshot_id":9}`)).
		AddRow(int64(1), uuid.New(), "extract", "failed", started, &completed, int64(0), &errMsg, []byte(nil))
	mock.ExpectQuery("SELECT id, run_uid, worker, status, started_at").
		WithArgs(10).
		WillReturnRows(rows)

	log := NewRunLog(mock)
	entries, err := log.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "stats", entries[0].Worker)
	assert.Equal(t, float64(9), entries[0].Metadata["snapshot_id"])
	assert.Equal(t, "timeout", entries[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}
