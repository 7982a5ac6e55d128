package query

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func caseRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "number", "date", "type", "case_number",
		"extraction_status", "company", "edrpou", "court",
	})
}

func TestListCases_NoFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM bankruptcy.cases`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	date := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("JOIN bankruptcy.companies").
		WithArgs(50, 0).
		WillReturnRows(caseRows().
			AddRow(int64(2), int64(1002), date, "оголошення", "910/2/24",
				"extracted", `ТОВ "Агро"`, "11111111", "Госп. суд Львівської області").
			AddRow(int64(1), int64(1001), date, "оголошення", "910/1/24",
				"pending", `ПАТ "Завод"`, "22222222", "Госп. суд м. Києва"))

	got, total, err := New(mock).ListCases(context.Background(), CaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1002), got[0].Number)
	assert.Equal(t, `ТОВ "Агро"`, got[0].Company)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCases_FiltersBuildNumberedPlaceholders(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM bankruptcy.cases c WHERE`).
		WithArgs("12345678", 2024).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery("JOIN bankruptcy.companies").
		WithArgs("12345678", 2024, 10, 20).
		WillReturnRows(caseRows())

	got, total, err := New(mock).ListCases(context.Background(), CaseFilter{
		EDRPOU: "12345678",
		Year:   2024,
		Limit:  10,
		Offset: 20,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCase_WithCreditors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	date := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("WHERE c.number").
		WithArgs(int64(1001)).
		WillReturnRows(caseRows().AddRow(
			int64(1), int64(1001), date, "оголошення", "910/1/24",
			"extracted", `ПАТ "Завод"`, "22222222", "Госп. суд м. Києва"))
	mock.ExpectQuery("JOIN bankruptcy.canonical_creditors").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "normalized_name", "edrpou", "mention_count"}).
			AddRow(int64(5), `ТОВ "Кредитор"`, "КРЕДИТОР", "33333333", int64(4)))

	got, err := New(mock).GetCase(context.Background(), 1001)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1001), got.Number)
	require.Len(t, got.Creditors, 1)
	assert.Equal(t, "КРЕДИТОР", got.Creditors[0].NormalizedName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCase_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("WHERE c.number").
		WithArgs(int64(9999)).
		WillReturnError(pgx.ErrNoRows)

	got, err := New(mock).GetCase(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCreditors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("FROM bankruptcy.canonical_creditors").
		WithArgs("банк", 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "normalized_name", "edrpou", "mention_count", "created_at", "updated_at",
		}).AddRow(int64(3), `АТ "Ощадбанк"`, "ОЩАДБАНК", "00032129", int64(17), now, now))

	got, err := New(mock).ListCreditors(context.Background(), "банк", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ОЩАДБАНК", got[0].NormalizedName)
	assert.EqualValues(t, "active", got[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	taken := time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM bankruptcy.statistics_snapshots").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "taken_at", "total_cases", "total_companies", "total_courts",
			"total_creditors", "pending_extraction", "failed_extraction",
			"pending_mentions", "cases_by_year", "cases_by_type", "top_courts",
		}).AddRow(int64(4), taken, int64(100), int64(80), int64(9), int64(30),
			int64(5), int64(1), int64(2),
			[]byte(`{"2024":100}`), []byte(`{"оголошення":100}`), []byte(`{"суд":60}`)))

	got, err := New(mock).LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.TotalCases)
	assert.Equal(t, int64(100), got.CasesByYear["2024"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshot_NoneYet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM bankruptcy.statistics_snapshots").
		WillReturnError(pgx.ErrNoRows)

	got, err := New(mock).LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBacklog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	oldest := time.Date(2026, 8, 29, 5, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM bankruptcy.import_jobs").
		WillReturnRows(pgxmock.NewRows([]string{
			"queued", "pending", "failed", "mentions", "clusters", "oldest",
		}).AddRow(int64(1), int64(40), int64(2), int64(7), int64(3), &oldest))

	got, err := New(mock).GetBacklog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.PendingExtraction)
	assert.Equal(t, int64(3), got.OpenClusters)
	require.NotNil(t, got.OldestQueuedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
