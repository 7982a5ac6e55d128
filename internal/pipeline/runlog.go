package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/chesno-labs/bankflow/internal/db"
)

// RunEntry represents a row in bankruptcy.worker_runs.
type RunEntry struct {
	ID          int64          `json:"id"`
	RunUID      uuid.UUID      `json:"run_uid"`
	Worker      string         `json:"worker"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Items       int64          `json:"items"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RunResult holds the outcome of a worker cycle, passed to Complete().
type RunResult struct {
	Items    int64          `json:"items"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the bankruptcy.worker_runs table.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a new RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// RunRef identifies a started cycle: the row id for updates and the
// run UID for log correlation across processes.
type RunRef struct {
	ID  int64
	UID uuid.UUID
}

// Start records the beginning of a worker cycle.
func (l *RunLog) Start(ctx context.Context, worker string) (*RunRef, error) {
	ref := &RunRef{UID: uuid.New()}
	err := l.pool.QueryRow(ctx,
		`INSERT INTO bankruptcy.worker_runs (run_uid, worker, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		ref.UID, worker,
	).Scan(&ref.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: start run for %s", worker)
	}
	return ref, nil
}

// Complete marks a worker cycle as successfully completed.
func (l *RunLog) Complete(ctx context.Context, runID int64, result *RunResult) error {
	var metaJSON []byte
	if result != nil && result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	items := int64(0)
	if result != nil {
		items = result.Items
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE bankruptcy.worker_runs
		 SET status = 'complete', completed_at = now(), items = $1, metadata = $2
		 WHERE id = $3`,
		items, metaJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", runID)
	}
	return nil
}

// Fail marks a worker cycle as failed with an error message.
func (l *RunLog) Fail(ctx context.Context, runID int64, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE bankruptcy.worker_runs
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", runID)
	}
	return nil
}

// LastSuccess returns the started_at time of the most recent completed cycle
// for a worker. Returns nil if the worker has never completed a cycle.
func (l *RunLog) LastSuccess(ctx context.Context, worker string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM bankruptcy.worker_runs
		 WHERE worker = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		worker,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", worker)
	}
	return &t, nil
}

// ListRecent returns the most recent run entries across all workers.
func (l *RunLog) ListRecent(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, run_uid, worker, status, started_at, completed_at, items, error, metadata
		 FROM bankruptcy.worker_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var completedAt *time.Time
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RunUID, &e.Worker, &e.Status, &e.StartedAt, &completedAt, &e.Items, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
