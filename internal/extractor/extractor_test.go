package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chesno-labs/bankflow/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// stubClient answers CreateMessage with a canned function.
type stubClient struct {
	fn func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (s *stubClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return s.fn(ctx, req)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func testConfig() Config {
	return Config{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   1024,
		Timeout:     time.Second,
		MaxAttempts: 5,
		BackoffBase: 30 * time.Second,
		BackoffCap:  time.Hour,
		RatePerSec:  1000,
	}
}

func dueRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "number", "type", "case_number", "name", "name"})
}

func expectDue(mock pgxmock.PgxPoolIface, rows *pgxmock.Rows) {
	mock.ExpectQuery("SELECT c.id, c.number").WithArgs(10).WillReturnRows(rows)
}

func TestProcessBatch_NoDueCases(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectDue(mock, dueRows())

	e := New(mock, &stubClient{fn: func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		t.Fatal("no call expected")
		return nil, nil
	}}, testConfig())

	n, err := e.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_InsertsMentionsAndMarksExtracted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectDue(mock, dueRows().AddRow(
		int64(7), int64(123456), `оголошення про порушення справи`,
		"910/1234/24", `ТОВ "Боржник"`, "Господарський суд м. Києва",
	))

	edrpou := "12345678"
	mock.ExpectExec("INSERT INTO bankruptcy.creditor_mentions").
		WithArgs(int64(7), `ТОВ "Кредитор Один"`, "КРЕДИТОР ОДИН", &edrpou).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bankruptcy.creditor_mentions").
		WithArgs(int64(7), `ФОП Петренко П.П.`, "ПЕТРЕНКО П.П.", (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE bankruptcy.cases").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	var gotPrompt string
	client := &stubClient{fn: func(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		require.Len(t, req.Messages, 1)
		gotPrompt = req.Messages[0].Content
		return textResponse(`[
			{"name": "ТОВ \"Кредитор Один\"", "edrpou": "12345678"},
			{"name": "ФОП Петренко П.П."}
		]`), nil
	}}

	e := New(mock, client, testConfig())
	n, err := e.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, gotPrompt, "Publication: 123456")
	assert.Contains(t, gotPrompt, `Debtor: ТОВ "Боржник"`)
	assert.Contains(t, gotPrompt, "Case: 910/1234/24")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_EmptyArrayIsTerminalSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectDue(mock, dueRows().AddRow(
		int64(7), int64(200), "оголошення", "", "ПАТ Завод", "суд",
	))
	mock.ExpectExec("UPDATE bankruptcy.cases").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	client := &stubClient{fn: func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("[]"), nil
	}}

	e := New(mock, client, testConfig())
	n, err := e.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_FailureReschedulesWithBackoff(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectDue(mock, dueRows().AddRow(
		int64(7), int64(200), "оголошення", "", "ПАТ Завод", "суд",
	))
	mock.ExpectQuery("UPDATE bankruptcy.cases").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"extraction_attempts"}).AddRow(2))
	// second attempt failed, so the delay doubles once: 30s * 2^1
	mock.ExpectExec("UPDATE bankruptcy.cases").
		WithArgs(float64(60), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	client := &stubClient{fn: func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, eris.New("api overloaded")
	}}

	e := New(mock, client, testConfig())
	n, err := e.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_ExhaustedAttemptsFailTerminally(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectDue(mock, dueRows().AddRow(
		int64(7), int64(200), "оголошення", "", "ПАТ Завод", "суд",
	))
	mock.ExpectQuery("UPDATE bankruptcy.cases").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"extraction_attempts"}).AddRow(5))
	mock.ExpectExec("UPDATE bankruptcy.cases").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	client := &stubClient{fn: func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, eris.New("api overloaded")
	}}

	e := New(mock, client, testConfig())
	n, err := e.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_UnparseableResponseCountsAsFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectDue(mock, dueRows().AddRow(
		int64(7), int64(200), "оголошення", "", "ПАТ Завод", "суд",
	))
	mock.ExpectQuery("UPDATE bankruptcy.cases").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"extraction_attempts"}).AddRow(1))
	mock.ExpectExec("UPDATE bankruptcy.cases").
		WithArgs(float64(30), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	client := &stubClient{fn: func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("I could not find any creditors in this text."), nil
	}}

	e := New(mock, client, testConfig())
	n, err := e.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE bankruptcy.cases").
		WillReturnResult(pgxmock.NewResult("UPDATE", 12))

	e := New(mock, &stubClient{}, testConfig())
	n, err := e.RequeueFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
