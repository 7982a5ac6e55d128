// Package importer parses intake TSV files and loads them into the store.
package importer

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// intakeDateLayout is the dd.mm.yyyy format used by the registry export.
const intakeDateLayout = "02.01.2006"

// excludedTypes lists auction announcements carried in the registry export
// that are not bankruptcy proceedings and are filtered at import.
var excludedTypes = map[string]struct{}{
	"Оголошення про проведення аукціону з продажу майна":             {},
	"Повідомлення про результати проведення аукціону з продажу майна": {},
	"Повідомлення про скасування аукціону з продажу майна":            {},
}

// intakeRow mirrors one record of the tab-delimited registry export.
type intakeRow struct {
	Number              string `csv:"number"`
	Date                string `csv:"date"`
	Type                string `csv:"type"`
	FirmEDRPOU          string `csv:"firm_edrpou"`
	FirmName            string `csv:"firm_name"`
	CaseNumber          string `csv:"case_number"`
	StartDateAuc        string `csv:"start_date_auc"`
	EndDateAuc          string `csv:"end_date_auc"`
	CourtName           string `csv:"court_name"`
	EndRegistrationDate string `csv:"end_registration_date"`
}

// parsedRow is a validated intake record ready for loading.
type parsedRow struct {
	Number              int64
	Date                time.Time
	Type                string
	FirmEDRPOU          string
	FirmName            string
	CaseNumber          string
	StartDateAuc        *time.Time
	EndDateAuc          *time.Time
	EndRegistrationDate *time.Time
	CourtName           string
}

// parseRow validates one intake record. The second return value reports
// whether the record is an excluded auction announcement (not an error).
func parseRow(raw intakeRow) (*parsedRow, bool, error) {
	typeStr := cleanField(raw.Type)
	if _, excluded := excludedTypes[typeStr]; excluded {
		return nil, true, nil
	}
	if typeStr == "" {
		return nil, false, eris.New("importer: empty announcement type")
	}

	numStr := cleanField(raw.Number)
	number, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil || number <= 0 {
		return nil, false, eris.Errorf("importer: invalid publication number %q", numStr)
	}

	date, err := time.Parse(intakeDateLayout, cleanField(raw.Date))
	if err != nil {
		return nil, false, eris.Wrapf(err, "importer: invalid date %q", raw.Date)
	}

	edrpou := cleanField(raw.FirmEDRPOU)
	if edrpou == "" {
		return nil, false, eris.New("importer: empty firm_edrpou")
	}

	firmName := cleanField(raw.FirmName)
	if firmName == "" {
		return nil, false, eris.New("importer: empty firm_name")
	}

	courtName := cleanField(raw.CourtName)
	if courtName == "" {
		return nil, false, eris.New("importer: empty court_name")
	}

	row := &parsedRow{
		Number:     number,
		Date:       date,
		Type:       typeStr,
		FirmEDRPOU: edrpou,
		FirmName:   firmName,
		CaseNumber: cleanField(raw.CaseNumber),
		CourtName:  courtName,
	}

	if row.StartDateAuc, err = parseOptionalDate(raw.StartDateAuc); err != nil {
		return nil, false, eris.Wrap(err, "importer: invalid start_date_auc")
	}
	if row.EndDateAuc, err = parseOptionalDate(raw.EndDateAuc); err != nil {
		return nil, false, eris.Wrap(err, "importer: invalid end_date_auc")
	}
	if row.EndRegistrationDate, err = parseOptionalDate(raw.EndRegistrationDate); err != nil {
		return nil, false, eris.Wrap(err, "importer: invalid end_registration_date")
	}

	return row, false, nil
}

// cleanField strips the surrounding quotes and whitespace the export wraps
// around every value.
func cleanField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

func parseOptionalDate(s string) (*time.Time, error) {
	s = cleanField(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(intakeDateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
