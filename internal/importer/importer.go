package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesno-labs/bankflow/internal/db"
	"github.com/chesno-labs/bankflow/internal/model"
	"github.com/chesno-labs/bankflow/internal/resilience"
)

const upsertBatchSize = 5000

// retryCfg is the store retry policy with per-operation retry logging.
func retryCfg(operation string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("importer", operation)
	return cfg
}

// caseUpdateWhere skips the DO UPDATE when the incoming row carries no
// change, so RowsAffected counts only inserted or materially changed rows.
const caseUpdateWhere = `(cases.date, cases.type, cases.case_number, cases.start_date_auc,
	cases.end_date_auc, cases.end_registration_date, cases.company_id, cases.court_id)
	IS DISTINCT FROM
	(EXCLUDED.date, EXCLUDED.type, EXCLUDED.case_number, EXCLUDED.start_date_auc,
	EXCLUDED.end_date_auc, EXCLUDED.end_registration_date, EXCLUDED.company_id, EXCLUDED.court_id)`

// Importer loads validated intake rows into the store.
type Importer struct {
	pool      db.Pool
	delimiter rune
	log       *zap.Logger
}

// New creates an Importer. delimiter is the intake field separator
// (tab for the registry export).
func New(pool db.Pool, delimiter rune) *Importer {
	if delimiter == 0 {
		delimiter = '\t'
	}
	return &Importer{
		pool:      pool,
		delimiter: delimiter,
		log:       zap.L().With(zap.String("component", "importer")),
	}
}

// ImportFile imports one intake file. Malformed rows are rejected and
// counted without aborting the rest of the file; unchanged duplicates are
// counted as skipped.
func (im *Importer) ImportFile(ctx context.Context, path string) (model.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.ImportResult{}, eris.Wrapf(err, "importer: open %s", path)
	}
	defer f.Close()

	res, err := im.importReader(ctx, f)
	if err != nil {
		return res, err
	}

	im.log.Info("file imported",
		zap.String("path", path),
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (im *Importer) importReader(ctx context.Context, r io.Reader) (model.ImportResult, error) {
	reader := csv.NewReader(r)
	reader.Comma = im.delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return model.ImportResult{}, eris.Wrap(err, "importer: read header")
	}

	var result model.ImportResult
	var rows []*parsedRow
	filtered := 0

	for {
		if ctx.Err() != nil {
			return result, eris.Wrap(ctx.Err(), "importer: cancelled")
		}

		var raw intakeRow
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			result.Rejected++
			im.log.Debug("row decode failed", zap.Error(err))
			continue
		}

		row, excluded, err := parseRow(raw)
		if err != nil {
			result.Rejected++
			im.log.Debug("row rejected", zap.Error(err))
			continue
		}
		if excluded {
			filtered++
			continue
		}
		rows = append(rows, row)
	}

	if filtered > 0 {
		im.log.Info("auction announcements filtered", zap.Int("count", filtered))
	}
	if len(rows) == 0 {
		return result, nil
	}

	accepted, skipped, err := im.loadRows(ctx, rows)
	if err != nil {
		return result, err
	}
	result.Accepted = accepted
	result.Skipped = skipped
	return result, nil
}

// loadRows resolves courts and companies, then upserts cases in batches.
func (im *Importer) loadRows(ctx context.Context, rows []*parsedRow) (accepted, skipped int, err error) {
	// A file can repeat a publication number; the later row wins. The
	// upsert cannot touch the same row twice in one statement, so repeats
	// are collapsed before batching.
	index := make(map[int64]int, len(rows))
	deduped := make([]*parsedRow, 0, len(rows))
	for _, row := range rows {
		if i, ok := index[row.Number]; ok {
			deduped[i] = row
			continue
		}
		index[row.Number] = len(deduped)
		deduped = append(deduped, row)
	}
	rows = deduped

	courtIDs, err := im.ensureCourts(ctx, rows)
	if err != nil {
		return 0, 0, err
	}
	companyIDs, err := im.ensureCompanies(ctx, rows)
	if err != nil {
		return 0, 0, err
	}

	columns := []string{
		"number", "date", "type", "case_number", "start_date_auc",
		"end_date_auc", "end_registration_date", "company_id", "court_id",
		"updated_at",
	}
	updateCols := []string{
		"date", "type", "case_number", "start_date_auc",
		"end_date_auc", "end_registration_date", "company_id", "court_id",
		"updated_at",
	}

	now := time.Now()
	var batch [][]any
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := db.BulkUpsert(ctx, im.pool, db.UpsertConfig{
			Table:        "bankruptcy.cases",
			Columns:      columns,
			ConflictKeys: []string{"number"},
			UpdateCols:   updateCols,
			UpdateWhere:  caseUpdateWhere,
		}, batch)
		if err != nil {
			return eris.Wrap(err, "importer: upsert cases")
		}
		accepted += int(n)
		skipped += len(batch) - int(n)
		batch = batch[:0]
		return nil
	}

	for _, row := range rows {
		batch = append(batch, []any{
			row.Number, row.Date, row.Type, row.CaseNumber, row.StartDateAuc,
			row.EndDateAuc, row.EndRegistrationDate,
			companyIDs[row.FirmEDRPOU], courtIDs[row.CourtName],
			now,
		})
		if len(batch) >= upsertBatchSize {
			if err := flush(); err != nil {
				return accepted, skipped, err
			}
		}
	}
	if err := flush(); err != nil {
		return accepted, skipped, err
	}
	return accepted, skipped, nil
}

// ensureCourts creates missing courts and returns name to id.
func (im *Importer) ensureCourts(ctx context.Context, rows []*parsedRow) (map[string]int64, error) {
	seen := make(map[string]struct{}, len(rows))
	var names []string
	for _, r := range rows {
		if _, ok := seen[r.CourtName]; !ok {
			seen[r.CourtName] = struct{}{}
			names = append(names, r.CourtName)
		}
	}

	err := resilience.Do(ctx, retryCfg("insert courts"), func(ctx context.Context) error {
		_, err := im.pool.Exec(ctx,
			`INSERT INTO bankruptcy.courts (name)
			 SELECT unnest($1::text[])
			 ON CONFLICT (name) DO NOTHING`,
			names,
		)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "importer: insert courts")
	}

	ids := make(map[string]int64, len(names))
	qrows, err := im.pool.Query(ctx,
		"SELECT id, name FROM bankruptcy.courts WHERE name = ANY($1)", names)
	if err != nil {
		return nil, eris.Wrap(err, "importer: query court ids")
	}
	defer qrows.Close()
	for qrows.Next() {
		var id int64
		var name string
		if err := qrows.Scan(&id, &name); err != nil {
			return nil, eris.Wrap(err, "importer: scan court row")
		}
		ids[name] = id
	}
	return ids, qrows.Err()
}

// ensureCompanies creates missing companies and refreshes renamed ones,
// returning edrpou to id. Last occurrence of an edrpou in the file wins
// the name.
func (im *Importer) ensureCompanies(ctx context.Context, rows []*parsedRow) (map[string]int64, error) {
	latest := make(map[string]string, len(rows))
	var codes []string
	for _, r := range rows {
		if _, ok := latest[r.FirmEDRPOU]; !ok {
			codes = append(codes, r.FirmEDRPOU)
		}
		latest[r.FirmEDRPOU] = r.FirmName
	}
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = latest[c]
	}

	err := resilience.Do(ctx, retryCfg("upsert companies"), func(ctx context.Context) error {
		_, err := im.pool.Exec(ctx,
			`INSERT INTO bankruptcy.companies (edrpou, name)
			 SELECT * FROM unnest($1::text[], $2::text[])
			 ON CONFLICT (edrpou) DO UPDATE
			 SET name = EXCLUDED.name, updated_at = now()
			 WHERE companies.name IS DISTINCT FROM EXCLUDED.name`,
			codes, names,
		)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "importer: upsert companies")
	}

	ids := make(map[string]int64, len(codes))
	qrows, err := im.pool.Query(ctx,
		"SELECT id, edrpou FROM bankruptcy.companies WHERE edrpou = ANY($1)", codes)
	if err != nil {
		return nil, eris.Wrap(err, "importer: query company ids")
	}
	defer qrows.Close()
	for qrows.Next() {
		var id int64
		var code string
		if err := qrows.Scan(&id, &code); err != nil {
			return nil, eris.Wrap(err, "importer: scan company row")
		}
		ids[code] = id
	}
	return ids, qrows.Err()
}

// FullReplace wipes all imported data before a full reload. Extraction and
// dedup output derived from cases goes with them.
func (im *Importer) FullReplace(ctx context.Context) error {
	_, err := im.pool.Exec(ctx,
		`TRUNCATE bankruptcy.creditor_mentions, bankruptcy.cases,
		 bankruptcy.companies, bankruptcy.courts
		 RESTART IDENTITY CASCADE`,
	)
	if err != nil {
		return eris.Wrap(err, "importer: full replace truncate")
	}
	im.log.Warn("all imported data cleared for full reload")
	return nil
}
