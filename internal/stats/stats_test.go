package stats

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ").
		WillReturnResult(pgxmock.NewResult("SET", 0))

	mock.ExpectQuery(`SELECT count`).WillReturnRows(
		pgxmock.NewRows([]string{"cases", "companies", "courts", "creditors", "pending", "failed", "mentions"}).
			AddRow(int64(1500), int64(900), int64(27), int64(340), int64(55), int64(3), int64(12)),
	)
	mock.ExpectQuery("extract\\(year FROM date\\)").WillReturnRows(
		pgxmock.NewRows([]string{"label", "count"}).
			AddRow("2023", int64(600)).
			AddRow("2024", int64(900)),
	)
	mock.ExpectQuery("GROUP BY type").WillReturnRows(
		pgxmock.NewRows([]string{"label", "count"}).
			AddRow("оголошення про порушення справи про банкрутство", int64(1100)).
			AddRow("повідомлення про визнання боржника банкрутом", int64(400)),
	)
	mock.ExpectQuery("JOIN bankruptcy.courts").WithArgs(10).WillReturnRows(
		pgxmock.NewRows([]string{"label", "count"}).
			AddRow("Господарський суд м. Києва", int64(420)),
	)

	takenAt := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO bankruptcy.statistics_snapshots").
		WithArgs(
			int64(1500), int64(900), int64(27), int64(340),
			int64(55), int64(3), int64(12),
			[]byte(`{"2023":600,"2024":900}`),
			[]byte(`{"оголошення про порушення справи про банкрутство":1100,"повідомлення про визнання боржника банкрутом":400}`),
			[]byte(`{"Господарський суд м. Києва":420}`),
		).
		WillReturnRows(pgxmock.NewRows([]string{"id", "taken_at"}).AddRow(int64(9), takenAt))
	mock.ExpectCommit()
	mock.ExpectRollback()

	snap, err := New(mock, 10).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(9), snap.ID)
	assert.Equal(t, takenAt, snap.TakenAt)
	assert.Equal(t, int64(1500), snap.TotalCases)
	assert.Equal(t, int64(27), snap.TotalCourts)
	assert.Equal(t, int64(340), snap.TotalCreditors)
	assert.Equal(t, int64(55), snap.PendingExtraction)
	assert.Equal(t, int64(900), snap.CasesByYear["2024"])
	assert.Equal(t, int64(420), snap.TopCourts["Господарський суд м. Києва"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

// expectSnapshot registers one full snapshot transaction returning the
// given id and taken_at.
func expectSnapshot(mock pgxmock.PgxPoolIface, id int64, takenAt time.Time) {
	mock.ExpectBegin()
	mock.ExpectExec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ").
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(`SELECT count`).WillReturnRows(
		pgxmock.NewRows([]string{"cases", "companies", "courts", "creditors", "pending", "failed", "mentions"}).
			AddRow(int64(10), int64(5), int64(2), int64(1), int64(0), int64(0), int64(0)),
	)
	mock.ExpectQuery("extract\\(year FROM date\\)").WillReturnRows(
		pgxmock.NewRows([]string{"label", "count"}).AddRow("2024", int64(10)),
	)
	mock.ExpectQuery("GROUP BY type").WillReturnRows(
		pgxmock.NewRows([]string{"label", "count"}).
			AddRow("оголошення про порушення справи про банкрутство", int64(10)),
	)
	mock.ExpectQuery("JOIN bankruptcy.courts").WithArgs(10).WillReturnRows(
		pgxmock.NewRows([]string{"label", "count"}).
			AddRow("Господарський суд м. Києва", int64(10)),
	)
	mock.ExpectQuery("INSERT INTO bankruptcy.statistics_snapshots").
		WithArgs(
			int64(10), int64(5), int64(2), int64(1), int64(0), int64(0), int64(0),
			[]byte(`{"2024":10}`),
			[]byte(`{"оголошення про порушення справи про банкрутство":10}`),
			[]byte(`{"Господарський суд м. Києва":10}`),
		).
		WillReturnRows(pgxmock.NewRows([]string{"id", "taken_at"}).AddRow(id, takenAt))
	mock.ExpectCommit()
	mock.ExpectRollback()
}

func TestSnapshot_SuccessiveRunsAppend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Every run inserts a fresh row; earlier snapshots are never rewritten,
	// so id and taken_at grow with each run.
	t0 := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	expectSnapshot(mock, 9, t0)
	expectSnapshot(mock, 10, t0.Add(time.Hour))

	agg := New(mock, 10)
	first, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	second, err := agg.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.True(t, second.TakenAt.After(first.TakenAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshot_CountQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ").
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(`SELECT count`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = New(mock, 10).Snapshot(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
