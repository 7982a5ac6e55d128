// Package extractor finds creditor mentions in case announcements using
// the Anthropic messages API.
package extractor

import (
	"fmt"
	"strings"
)

// systemPrompt is shared by every extraction call; the cached system block
// keeps repeat calls cheap.
const systemPrompt = `You extract creditor names from Ukrainian bankruptcy case announcements.

RULES:
- A creditor is a party whose monetary claims against the debtor are stated or implied.
- The debtor itself is NEVER a creditor.
- Court fee ("судовий збір") is not a separate creditor.
- Keep the original Ukrainian spelling, including the legal form (ТОВ, ПАТ, ФОП...).
- Include the 8-digit EDRPOU registry code when the text states one.

Return ONLY a JSON array, no prose. Each element: {"name": "...", "edrpou": "..."} where edrpou may be omitted.
Return [] when the announcement names no creditors.`

// announcement is the per-case input for one extraction call.
type announcement struct {
	CaseID     int64
	Number     int64
	Type       string
	CaseNumber string
	Company    string
	Court      string
}

// buildUserPrompt renders the announcement fields for the model.
func buildUserPrompt(a announcement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Publication: %d\n", a.Number)
	if a.CaseNumber != "" {
		fmt.Fprintf(&b, "Case: %s\n", a.CaseNumber)
	}
	fmt.Fprintf(&b, "Debtor: %s\n", a.Company)
	if a.Court != "" {
		fmt.Fprintf(&b, "Court: %s\n", a.Court)
	}
	fmt.Fprintf(&b, "Announcement:\n%s\n", a.Type)
	return b.String()
}
