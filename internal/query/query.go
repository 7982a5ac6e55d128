// Package query is the read-only interface consumers see. The HTTP API
// and the status command go through it; nothing here writes.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/chesno-labs/bankflow/internal/db"
	"github.com/chesno-labs/bankflow/internal/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Queries exposes read-only lookups over the bankruptcy schema.
type Queries struct {
	pool db.Pool
}

// New creates a Queries instance.
func New(pool db.Pool) *Queries {
	return &Queries{pool: pool}
}

// CaseFilter narrows ListCases. Zero values mean no constraint.
type CaseFilter struct {
	EDRPOU           string
	CourtID          int64
	Year             int
	ExtractionStatus string
	Limit            int
	Offset           int
}

// CaseRow is a case joined with its debtor and court for display.
type CaseRow struct {
	model.Case
	Company string `json:"company"`
	EDRPOU  string `json:"edrpou"`
	Court   string `json:"court"`
}

// ListCases returns cases matching the filter, newest publication first,
// plus the total match count for pagination.
func (q *Queries) ListCases(ctx context.Context, f CaseFilter) ([]CaseRow, int64, error) {
	where, args := f.clauses()

	var total int64
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM bankruptcy.cases c`+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, eris.Wrap(err, "query: count cases")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	args = append(args, limit, f.Offset)
	n := len(args)

	rows, err := q.pool.Query(ctx,
		`SELECT c.id, c.number, c.date, c.type, c.case_number,
		        c.extraction_status, co.name, co.edrpou, ct.name
		 FROM bankruptcy.cases c
		 JOIN bankruptcy.companies co ON co.id = c.company_id
		 JOIN bankruptcy.courts ct ON ct.id = c.court_id`+
			where+
			` ORDER BY c.date DESC, c.number DESC LIMIT $`+strconv.Itoa(n-1)+` OFFSET $`+strconv.Itoa(n),
		args...,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "query: list cases")
	}
	defer rows.Close()

	var out []CaseRow
	for rows.Next() {
		var r CaseRow
		if err := rows.Scan(&r.ID, &r.Number, &r.Date, &r.Type, &r.CaseNumber,
			&r.ExtractionStatus, &r.Company, &r.EDRPOU, &r.Court); err != nil {
			return nil, 0, eris.Wrap(err, "query: scan case")
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// clauses builds the WHERE fragment shared by count and page queries.
func (f CaseFilter) clauses() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.EDRPOU != "" {
		add("c.company_id = (SELECT id FROM bankruptcy.companies WHERE edrpou = ?)", f.EDRPOU)
	}
	if f.CourtID != 0 {
		add("c.court_id = ?", f.CourtID)
	}
	if f.Year != 0 {
		add("extract(year FROM c.date) = ?", f.Year)
	}
	if f.ExtractionStatus != "" {
		add("c.extraction_status = ?", f.ExtractionStatus)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CaseDetail is one case with its resolved creditors.
type CaseDetail struct {
	CaseRow
	Creditors []model.CanonicalCreditor `json:"creditors"`
}

// GetCase looks a case up by publication number. Returns nil when absent.
func (q *Queries) GetCase(ctx context.Context, number int64) (*CaseDetail, error) {
	var d CaseDetail
	err := q.pool.QueryRow(ctx,
		`SELECT c.id, c.number, c.date, c.type, c.case_number,
		        c.extraction_status, co.name, co.edrpou, ct.name
		 FROM bankruptcy.cases c
		 JOIN bankruptcy.companies co ON co.id = c.company_id
		 JOIN bankruptcy.courts ct ON ct.id = c.court_id
		 WHERE c.number = $1`,
		number,
	).Scan(&d.ID, &d.Number, &d.Date, &d.Type, &d.CaseNumber,
		&d.ExtractionStatus, &d.Company, &d.EDRPOU, &d.Court)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "query: get case %d", number)
	}

	rows, err := q.pool.Query(ctx,
		`SELECT cc.id, cc.name, cc.normalized_name, COALESCE(cc.edrpou, ''), cc.mention_count
		 FROM bankruptcy.creditor_mentions m
		 JOIN bankruptcy.canonical_creditors cc ON cc.id = m.canonical_id
		 WHERE m.case_id = $1 AND m.status = 'resolved'
		 ORDER BY cc.name`,
		d.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "query: creditors for case %d", number)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.CanonicalCreditor
		if err := rows.Scan(&c.ID, &c.Name, &c.NormalizedName, &c.EDRPOU, &c.MentionCount); err != nil {
			return nil, eris.Wrap(err, "query: scan creditor")
		}
		d.Creditors = append(d.Creditors, c)
	}
	return &d, rows.Err()
}

// ListCreditors returns active canonical creditors by descending mention
// count. A non-empty search narrows by normalized-name substring.
func (q *Queries) ListCreditors(ctx context.Context, search string, limit, offset int) ([]model.CanonicalCreditor, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	rows, err := q.pool.Query(ctx,
		`SELECT id, name, normalized_name, COALESCE(edrpou, ''), mention_count, created_at, updated_at
		 FROM bankruptcy.canonical_creditors
		 WHERE status = 'active' AND ($1 = '' OR normalized_name LIKE '%' || upper($1) || '%')
		 ORDER BY mention_count DESC, id
		 LIMIT $2 OFFSET $3`,
		search, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "query: list creditors")
	}
	defer rows.Close()

	var out []model.CanonicalCreditor
	for rows.Next() {
		var c model.CanonicalCreditor
		if err := rows.Scan(&c.ID, &c.Name, &c.NormalizedName, &c.EDRPOU,
			&c.MentionCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "query: scan creditor")
		}
		c.Status = model.CanonicalActive
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the newest statistics snapshot, or nil when no
// aggregation has run yet.
func (q *Queries) LatestSnapshot(ctx context.Context) (*model.StatisticsSnapshot, error) {
	var s model.StatisticsSnapshot
	var byYear, byType, topCourts []byte
	err := q.pool.QueryRow(ctx,
		`SELECT id, taken_at, total_cases, total_companies, total_courts,
		        total_creditors, pending_extraction, failed_extraction,
		        pending_mentions, cases_by_year, cases_by_type, top_courts
		 FROM bankruptcy.statistics_snapshots
		 ORDER BY id DESC LIMIT 1`,
	).Scan(&s.ID, &s.TakenAt, &s.TotalCases, &s.TotalCompanies, &s.TotalCourts,
		&s.TotalCreditors, &s.PendingExtraction, &s.FailedExtraction,
		&s.PendingMentions, &byYear, &byType, &topCourts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "query: latest snapshot")
	}

	if err := json.Unmarshal(byYear, &s.CasesByYear); err != nil {
		return nil, eris.Wrap(err, "query: decode cases_by_year")
	}
	if err := json.Unmarshal(byType, &s.CasesByType); err != nil {
		return nil, eris.Wrap(err, "query: decode cases_by_type")
	}
	if err := json.Unmarshal(topCourts, &s.TopCourts); err != nil {
		return nil, eris.Wrap(err, "query: decode top_courts")
	}
	return &s, nil
}

// Backlog reports queue depths across the pipeline stages.
type Backlog struct {
	QueuedImports     int64      `json:"queued_imports"`
	PendingExtraction int64      `json:"pending_extraction"`
	FailedExtraction  int64      `json:"failed_extraction"`
	PendingMentions   int64      `json:"pending_mentions"`
	OpenClusters      int64      `json:"open_clusters"`
	OldestQueuedAt    *time.Time `json:"oldest_queued_at,omitempty"`
}

// GetBacklog counts work waiting at every stage.
func (q *Queries) GetBacklog(ctx context.Context) (*Backlog, error) {
	var b Backlog
	err := q.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM bankruptcy.import_jobs WHERE status = 'queued'),
		   (SELECT count(*) FROM bankruptcy.cases WHERE extraction_status = 'pending'),
		   (SELECT count(*) FROM bankruptcy.cases WHERE extraction_status = 'failed'),
		   (SELECT count(*) FROM bankruptcy.creditor_mentions WHERE status = 'pending'),
		   (SELECT count(*) FROM bankruptcy.dedup_clusters WHERE status = 'open'),
		   (SELECT min(enqueued_at) FROM bankruptcy.import_jobs WHERE status = 'queued')`,
	).Scan(&b.QueuedImports, &b.PendingExtraction, &b.FailedExtraction,
		&b.PendingMentions, &b.OpenClusters, &b.OldestQueuedAt)
	if err != nil {
		return nil, eris.Wrap(err, "query: backlog")
	}
	return &b, nil
}

