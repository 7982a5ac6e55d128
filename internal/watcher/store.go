// Package watcher monitors the intake directory and enqueues import jobs
// for new or changed files. It never parses file contents.
package watcher

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/chesno-labs/bankflow/internal/db"
	"github.com/chesno-labs/bankflow/internal/model"
)

// Store persists watcher checkpoints and the import job queue.
type Store struct {
	pool db.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// FileState returns the recorded checkpoint for a path, or nil if the path
// has never been seen.
func (s *Store) FileState(ctx context.Context, path string) (*model.FileState, error) {
	var st model.FileState
	err := s.pool.QueryRow(ctx,
		`SELECT path, size, mtime, sha256, status, updated_at
		 FROM bankruptcy.file_states WHERE path = $1`,
		path,
	).Scan(&st.Path, &st.Size, &st.ModTime, &st.SHA256, &st.Status, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "watcher: load file state %s", path)
	}
	return &st, nil
}

// SaveFileState upserts a path's checkpoint.
func (s *Store) SaveFileState(ctx context.Context, st model.FileState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bankruptcy.file_states (path, size, mtime, sha256, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (path) DO UPDATE
		 SET size = EXCLUDED.size, mtime = EXCLUDED.mtime,
		     sha256 = EXCLUDED.sha256, status = EXCLUDED.status, updated_at = now()`,
		st.Path, st.Size, st.ModTime, st.SHA256, st.Status,
	)
	if err != nil {
		return eris.Wrapf(err, "watcher: save file state %s", st.Path)
	}
	return nil
}

// EnqueueJob adds a queued import job for a path. Repeated calls while a
// queued job exists for the same path coalesce into the existing job via
// the partial unique index. Returns true when a new job was created.
func (s *Store) EnqueueJob(ctx context.Context, path string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bankruptcy.import_jobs (path, status, enqueued_at)
		 VALUES ($1, 'queued', now())
		 ON CONFLICT (path) WHERE status = 'queued' DO NOTHING`,
		path,
	)
	if err != nil {
		return false, eris.Wrapf(err, "watcher: enqueue import job %s", path)
	}
	return tag.RowsAffected() > 0, nil
}
