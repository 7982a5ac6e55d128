// Package stats computes immutable aggregate snapshots over the
// bankruptcy store.
package stats

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesno-labs/bankflow/internal/db"
	"github.com/chesno-labs/bankflow/internal/model"
)

// Aggregator computes and persists statistics snapshots.
type Aggregator struct {
	pool      db.Pool
	topCourts int
	log       *zap.Logger
}

// New creates an Aggregator. topCourts bounds the per-snapshot court
// breakdown.
func New(pool db.Pool, topCourts int) *Aggregator {
	if topCourts <= 0 {
		topCourts = 10
	}
	return &Aggregator{
		pool:      pool,
		topCourts: topCourts,
		log:       zap.L().With(zap.String("component", "stats")),
	}
}

// Snapshot reads all aggregates in one repeatable-read transaction and
// inserts a new snapshot row. Every figure in one snapshot comes from
// the same database state.
func (a *Aggregator) Snapshot(ctx context.Context) (*model.StatisticsSnapshot, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "stats: begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET TRANSACTION ISOLATION LEVEL REPEATABLE READ`); err != nil {
		return nil, eris.Wrap(err, "stats: set isolation level")
	}

	snap := &model.StatisticsSnapshot{}
	err = tx.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM bankruptcy.cases),
		   (SELECT count(*) FROM bankruptcy.companies),
		   (SELECT count(*) FROM bankruptcy.courts),
		   (SELECT count(*) FROM bankruptcy.canonical_creditors WHERE status = 'active'),
		   (SELECT count(*) FROM bankruptcy.cases WHERE extraction_status = 'pending'),
		   (SELECT count(*) FROM bankruptcy.cases WHERE extraction_status = 'failed'),
		   (SELECT count(*) FROM bankruptcy.creditor_mentions WHERE status = 'pending')`,
	).Scan(
		&snap.TotalCases, &snap.TotalCompanies, &snap.TotalCourts,
		&snap.TotalCreditors, &snap.PendingExtraction, &snap.FailedExtraction,
		&snap.PendingMentions,
	)
	if err != nil {
		return nil, eris.Wrap(err, "stats: count totals")
	}

	if snap.CasesByYear, err = a.breakdown(ctx, tx,
		`SELECT extract(year FROM date)::text, count(*)
		 FROM bankruptcy.cases GROUP BY 1`,
	); err != nil {
		return nil, eris.Wrap(err, "stats: cases by year")
	}

	if snap.CasesByType, err = a.breakdown(ctx, tx,
		`SELECT type, count(*)
		 FROM bankruptcy.cases GROUP BY type`,
	); err != nil {
		return nil, eris.Wrap(err, "stats: cases by type")
	}

	if snap.TopCourts, err = a.breakdown(ctx, tx,
		`SELECT ct.name, count(*)
		 FROM bankruptcy.cases c
		 JOIN bankruptcy.courts ct ON ct.id = c.court_id
		 GROUP BY ct.name
		 ORDER BY count(*) DESC, ct.name
		 LIMIT $1`,
		a.topCourts,
	); err != nil {
		return nil, eris.Wrap(err, "stats: top courts")
	}

	byYear, _ := json.Marshal(snap.CasesByYear)
	byType, _ := json.Marshal(snap.CasesByType)
	topCourts, _ := json.Marshal(snap.TopCourts)

	err = tx.QueryRow(ctx,
		`INSERT INTO bankruptcy.statistics_snapshots
		   (total_cases, total_companies, total_courts, total_creditors,
		    pending_extraction, failed_extraction, pending_mentions,
		    cases_by_year, cases_by_type, top_courts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, taken_at`,
		snap.TotalCases, snap.TotalCompanies, snap.TotalCourts, snap.TotalCreditors,
		snap.PendingExtraction, snap.FailedExtraction, snap.PendingMentions,
		byYear, byType, topCourts,
	).Scan(&snap.ID, &snap.TakenAt)
	if err != nil {
		return nil, eris.Wrap(err, "stats: insert snapshot")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "stats: commit snapshot")
	}

	a.log.Info("snapshot taken",
		zap.Int64("id", snap.ID),
		zap.Int64("cases", snap.TotalCases),
		zap.Int64("creditors", snap.TotalCreditors),
	)
	return snap, nil
}

// breakdown runs a label/count query into a map.
func (a *Aggregator) breakdown(ctx context.Context, q db.Querier, sql string, args ...any) (map[string]int64, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, err
		}
		out[label] = count
	}
	return out, rows.Err()
}
