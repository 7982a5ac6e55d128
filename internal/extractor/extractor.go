package extractor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chesno-labs/bankflow/internal/db"
	"github.com/chesno-labs/bankflow/internal/dedup"
	"github.com/chesno-labs/bankflow/internal/resilience"
	"github.com/chesno-labs/bankflow/pkg/anthropic"
)

// Config tunes the extraction worker.
type Config struct {
	Model       string
	MaxTokens   int64
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	RatePerSec  float64
}

// Extractor processes cases awaiting creditor extraction.
type Extractor struct {
	pool    db.Pool
	client  anthropic.Client
	limiter *rate.Limiter
	cfg     Config
	log     *zap.Logger
}

// New creates an Extractor.
func New(pool db.Pool, client anthropic.Client, cfg Config) *Extractor {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &Extractor{
		pool:    pool,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "extractor")),
	}
}

// ProcessBatch extracts creditors for up to limit due cases. A failing
// case is rescheduled or terminally failed without stopping the batch;
// the returned count is successfully extracted cases.
func (e *Extractor) ProcessBatch(ctx context.Context, limit int) (int, error) {
	cases, err := e.loadDue(ctx, limit)
	if err != nil {
		return 0, err
	}

	extracted := 0
	for _, a := range cases {
		if ctx.Err() != nil {
			return extracted, eris.Wrap(ctx.Err(), "extractor: cancelled")
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return extracted, eris.Wrap(err, "extractor: rate limiter")
		}

		creditors, err := e.extractOne(ctx, a)
		if err != nil {
			e.log.Warn("extraction failed",
				zap.Int64("case", a.Number),
				zap.Error(err),
			)
			if rerr := e.recordFailure(ctx, a.CaseID); rerr != nil {
				return extracted, rerr
			}
			continue
		}

		if err := e.recordSuccess(ctx, a.CaseID, creditors); err != nil {
			return extracted, err
		}
		extracted++
	}
	return extracted, nil
}

// loadDue selects pending cases whose next attempt is due.
func (e *Extractor) loadDue(ctx context.Context, limit int) ([]announcement, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT c.id, c.number, c.type, c.case_number, co.name, ct.name
		 FROM bankruptcy.cases c
		 JOIN bankruptcy.companies co ON co.id = c.company_id
		 JOIN bankruptcy.courts ct ON ct.id = c.court_id
		 WHERE c.extraction_status = 'pending' AND c.next_extraction_at <= now()
		 ORDER BY c.next_extraction_at, c.id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: load due cases")
	}
	defer rows.Close()

	var out []announcement
	for rows.Next() {
		var a announcement
		if err := rows.Scan(&a.CaseID, &a.Number, &a.Type, &a.CaseNumber, &a.Company, &a.Court); err != nil {
			return nil, eris.Wrap(err, "extractor: scan case")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// extractOne makes one bounded model call and parses the creditor array.
func (e *Extractor) extractOne(ctx context.Context, a announcement) ([]Creditor, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildUserPrompt(a)},
		},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(e.cfg.Model, "extract")

	return parseCreditors(resp.Text())
}

// recordSuccess inserts the mentions and marks the case extracted. An
// empty creditor list is still terminal success.
func (e *Extractor) recordSuccess(ctx context.Context, caseID int64, creditors []Creditor) error {
	for _, c := range creditors {
		var edrpou *string
		if c.EDRPOU != "" {
			ed := c.EDRPOU
			edrpou = &ed
		}
		// Re-extraction of the same case cannot duplicate mentions.
		if _, err := e.pool.Exec(ctx,
			`INSERT INTO bankruptcy.creditor_mentions
			   (case_id, raw_text, normalized_text, edrpou, status)
			 VALUES ($1, $2, $3, $4, 'pending')
			 ON CONFLICT (case_id, normalized_text) DO NOTHING`,
			caseID, c.Name, dedup.Normalize(c.Name), edrpou,
		); err != nil {
			return eris.Wrapf(err, "extractor: insert mention for case %d", caseID)
		}
	}

	if _, err := e.pool.Exec(ctx,
		`UPDATE bankruptcy.cases
		 SET extraction_status = 'extracted', updated_at = now()
		 WHERE id = $1`,
		caseID,
	); err != nil {
		return eris.Wrapf(err, "extractor: mark case %d extracted", caseID)
	}
	return nil
}

// recordFailure bumps the attempt counter and either schedules the next
// try with capped exponential backoff or marks the case terminally failed.
func (e *Extractor) recordFailure(ctx context.Context, caseID int64) error {
	var attempts int
	err := e.pool.QueryRow(ctx,
		`UPDATE bankruptcy.cases
		 SET extraction_attempts = extraction_attempts + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING extraction_attempts`,
		caseID,
	).Scan(&attempts)
	if err != nil {
		return eris.Wrapf(err, "extractor: bump attempts for case %d", caseID)
	}

	if attempts >= e.cfg.MaxAttempts {
		if _, err := e.pool.Exec(ctx,
			`UPDATE bankruptcy.cases
			 SET extraction_status = 'failed', updated_at = now()
			 WHERE id = $1`,
			caseID,
		); err != nil {
			return eris.Wrapf(err, "extractor: mark case %d failed", caseID)
		}
		e.log.Warn("case failed terminally", zap.Int64("case_id", caseID), zap.Int("attempts", attempts))
		return nil
	}

	delay := resilience.Backoff(attempts-1, e.cfg.BackoffBase, e.cfg.BackoffCap)
	if _, err := e.pool.Exec(ctx,
		`UPDATE bankruptcy.cases
		 SET next_extraction_at = now() + ($1 * interval '1 second'), updated_at = now()
		 WHERE id = $2`,
		delay.Seconds(), caseID,
	); err != nil {
		return eris.Wrapf(err, "extractor: reschedule case %d", caseID)
	}
	return nil
}

// RequeueFailed re-arms terminally failed cases for a fresh attempt budget.
func (e *Extractor) RequeueFailed(ctx context.Context) (int64, error) {
	tag, err := e.pool.Exec(ctx,
		`UPDATE bankruptcy.cases
		 SET extraction_status = 'pending', extraction_attempts = 0,
		     next_extraction_at = now(), updated_at = now()
		 WHERE extraction_status = 'failed'`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "extractor: requeue failed cases")
	}
	return tag.RowsAffected(), nil
}

// RequeueAll re-arms every case, including already extracted ones.
// Existing mentions survive; the unique constraint absorbs re-inserts.
func (e *Extractor) RequeueAll(ctx context.Context) (int64, error) {
	tag, err := e.pool.Exec(ctx,
		`UPDATE bankruptcy.cases
		 SET extraction_status = 'pending', extraction_attempts = 0,
		     next_extraction_at = now(), updated_at = now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "extractor: requeue all cases")
	}
	return tag.RowsAffected(), nil
}
