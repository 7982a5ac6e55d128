package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestWatcher(t *testing.T, dir string, mock pgxmock.PgxPoolIface) *Watcher {
	t.Helper()
	return New(dir, []string{"*.csv", "*.tsv"}, 10*time.Millisecond, time.Hour, NewStore(mock), nil)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMatches(t *testing.T) {
	w := newTestWatcher(t, t.TempDir(), nil)

	assert.True(t, w.matches("/intake/auctions.tsv"))
	assert.True(t, w.matches("/intake/auctions.csv"))
	assert.False(t, w.matches("/intake/auctions.xlsx"))
	assert.False(t, w.matches("/intake/readme.txt"))
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.tsv", "hello\n")

	sum1, err := hashFile(path)
	require.NoError(t, err)
	assert.Len(t, sum1, 64)

	sum2, err := hashFile(path)
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)

	writeFile(t, dir, "a.tsv", "changed\n")
	sum3, err := hashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, sum1, sum3)
}

func TestCheckFile_NewFileEnqueues(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := t.TempDir()
	path := writeFile(t, dir, "a.tsv", "1\t2\t3\n")

	// No prior state.
	mock.ExpectQuery("SELECT path, size, mtime").
		WithArgs(path).
		WillReturnError(pgx.ErrNoRows)

	mock.ExpectExec("INSERT INTO bankruptcy.import_jobs").
		WithArgs(path).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec("INSERT INTO bankruptcy.file_states").
		WithArgs(path, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "queued").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	w := newTestWatcher(t, dir, mock)
	queued, err := w.checkFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckFile_UnchangedFileSkipsHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := t.TempDir()
	path := writeFile(t, dir, "a.tsv", "1\t2\t3\n")
	info, err := os.Stat(path)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"path", "size", "mtime", "sha256", "status", "updated_at"}).
		AddRow(path, info.Size(), info.ModTime(), "deadbeef", "imported", time.Now())
	mock.ExpectQuery("SELECT path, size, mtime").WithArgs(path).WillReturnRows(rows)

	w := newTestWatcher(t, dir, mock)
	queued, err := w.checkFile(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckFile_TouchedButSameHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := t.TempDir()
	path := writeFile(t, dir, "a.tsv", "1\t2\t3\n")
	info, err := os.Stat(path)
	require.NoError(t, err)

	sum, err := hashFile(path)
	require.NoError(t, err)

	// Same hash but stale mtime forces a rehash, then only a checkpoint
	// refresh, no job.
	rows := pgxmock.NewRows([]string{"path", "size", "mtime", "sha256", "status", "updated_at"}).
		AddRow(path, info.Size(), info.ModTime().Add(-time.Hour), sum, "imported", time.Now())
	mock.ExpectQuery("SELECT path, size, mtime").WithArgs(path).WillReturnRows(rows)

	mock.ExpectExec("INSERT INTO bankruptcy.file_states").
		WithArgs(path, info.Size(), pgxmock.AnyArg(), sum, "seen").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	w := newTestWatcher(t, dir, mock)
	queued, err := w.checkFile(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckFile_MissingFile(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w := newTestWatcher(t, t.TempDir(), mock)
	_, err = w.checkFile(context.Background(), "/nonexistent/a.tsv")
	require.Error(t, err)
}

func TestEnqueueJob_Coalesces(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Second enqueue hits the partial unique index and affects zero rows.
	mock.ExpectExec("INSERT INTO bankruptcy.import_jobs").
		WithArgs("/intake/a.tsv").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bankruptcy.import_jobs").
		WithArgs("/intake/a.tsv").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	store := NewStore(mock)
	first, err := store.EnqueueJob(context.Background(), "/intake/a.tsv")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.EnqueueJob(context.Background(), "/intake/a.tsv")
	require.NoError(t, err)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}
