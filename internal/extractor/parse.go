package extractor

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Creditor is one extracted creditor reference.
type Creditor struct {
	Name   string `json:"name"`
	EDRPOU string `json:"edrpou,omitempty"`
}

// parseCreditors extracts the JSON array from a model response. Models
// occasionally wrap the array in code fences or prose; everything outside
// the outermost brackets is ignored.
func parseCreditors(text string) ([]Creditor, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, eris.Errorf("extractor: no JSON array in response: %.120s", text)
	}

	var out []Creditor
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, eris.Wrap(err, "extractor: decode creditor array")
	}

	// Drop entries the model returned without a usable name.
	kept := out[:0]
	for _, c := range out {
		c.Name = strings.TrimSpace(c.Name)
		c.EDRPOU = strings.TrimSpace(c.EDRPOU)
		if c.Name != "" {
			kept = append(kept, c)
		}
	}
	return kept, nil
}
