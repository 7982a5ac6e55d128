// Package dedup resolves extracted creditor mentions into canonical
// creditor entities by normalization, exact-code matching, and fuzzy
// name similarity.
package dedup

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// legalFormRe strips Ukrainian and legacy Russian legal-form abbreviations.
var legalFormRe = regexp.MustCompile(`(?i)(^|\s)(ТОВ|ПАТ|АТ|ПрАТ|КП|ДП|ФОП|СПД|ООО|ЗАТ|ВАТ)(\s|$)`)

// quoteRe removes every quote variant the registry data mixes freely.
var quoteRe = regexp.MustCompile("[\"'`„“”«»]")

// parentheticalCodeRe drops EDRPOU or identification codes carried inline
// in the name, e.g. `(код ЄДРПОУ 12345678)`.
var parentheticalCodeRe = regexp.MustCompile(`(?i)\((код ЄДРПОУ|ідентифікаційний код|[0-9\s]+)[^)]*\)`)

var spaceRe = regexp.MustCompile(`\s+`)

// Normalize produces the comparison key for a creditor name: legal forms,
// quotes, and inline registry codes removed, whitespace collapsed, case
// folded to upper. Two names with equal keys are the same creditor.
func Normalize(name string) string {
	s := strings.TrimSpace(name)
	if s == "" {
		return ""
	}

	// Registry exports mix precomposed and combining Cyrillic forms.
	s = norm.NFC.String(s)
	s = parentheticalCodeRe.ReplaceAllString(s, " ")
	s = legalFormRe.ReplaceAllString(s, " ")
	s = quoteRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), ","))

	return strings.ToUpper(s)
}
