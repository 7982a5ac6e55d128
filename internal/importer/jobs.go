package importer

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesno-labs/bankflow/internal/model"
	"github.com/chesno-labs/bankflow/internal/resilience"
)

// ClaimJob atomically claims the oldest queued import job. Returns nil when
// the queue is empty. SKIP LOCKED lets concurrent importers drain the queue
// without contention.
func (im *Importer) ClaimJob(ctx context.Context) (*model.ImportJob, error) {
	var job model.ImportJob
	err := im.pool.QueryRow(ctx,
		`UPDATE bankruptcy.import_jobs
		 SET status = 'running', started_at = now()
		 WHERE id = (
		   SELECT id FROM bankruptcy.import_jobs
		   WHERE status = 'queued'
		   ORDER BY enqueued_at, id
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, path`,
	).Scan(&job.ID, &job.Path)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "importer: claim job")
	}
	job.Status = model.JobRunning
	return &job, nil
}

// FinishJob records a job's outcome.
func (im *Importer) FinishJob(ctx context.Context, jobID int64, res model.ImportResult) error {
	_, err := im.pool.Exec(ctx,
		`UPDATE bankruptcy.import_jobs
		 SET status = 'done', accepted = $1, rejected = $2, skipped = $3, finished_at = now()
		 WHERE id = $4`,
		res.Accepted, res.Rejected, res.Skipped, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "importer: finish job %d", jobID)
	}
	return nil
}

// FailJob marks a job failed and clears the path's checkpoint. The watcher
// re-triggers on content change only, so a kept checkpoint would drop an
// unchanged file whose import failed.
func (im *Importer) FailJob(ctx context.Context, jobID int64, path, errMsg string) error {
	_, err := im.pool.Exec(ctx,
		`UPDATE bankruptcy.import_jobs
		 SET status = 'failed', error = $1, finished_at = now()
		 WHERE id = $2`,
		errMsg, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "importer: fail job %d", jobID)
	}

	if _, err := im.pool.Exec(ctx,
		`DELETE FROM bankruptcy.file_states WHERE path = $1`,
		path,
	); err != nil {
		return eris.Wrapf(err, "importer: reset checkpoint %s", path)
	}
	return nil
}

// DrainQueue imports queued files until the queue is empty or the context
// is cancelled. A failing file fails its job and does not stop the drain.
func (im *Importer) DrainQueue(ctx context.Context) (model.ImportResult, int, error) {
	var total model.ImportResult
	jobs := 0

	for {
		if ctx.Err() != nil {
			return total, jobs, nil
		}

		job, err := resilience.DoVal(ctx, retryCfg("claim job"), im.ClaimJob)
		if err != nil {
			return total, jobs, err
		}
		if job == nil {
			return total, jobs, nil
		}

		res, err := im.ImportFile(ctx, job.Path)
		if err != nil {
			im.log.Error("import job failed",
				zap.Int64("job_id", job.ID),
				zap.String("path", job.Path),
				zap.Error(err),
			)
			if ferr := im.FailJob(ctx, job.ID, job.Path, err.Error()); ferr != nil {
				return total, jobs, ferr
			}
			continue
		}

		if err := im.FinishJob(ctx, job.ID, res); err != nil {
			return total, jobs, err
		}
		jobs++
		total.Accepted += res.Accepted
		total.Rejected += res.Rejected
		total.Skipped += res.Skipped
	}
}
