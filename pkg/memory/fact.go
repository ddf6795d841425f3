package memory

import (
	"encoding/json"
	"strings"

	"github.com/selcan/mira/pkg/store"
)

// Fact is one remembered statement. Facts live as JSONL lines in the
// memory directory; the sqlite index is derived state rebuilt from
// them on sync.
type Fact struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
	Source    string `json:"source,omitempty"`
}

// loadFacts reads the facts file, skipping entries without an id or
// text. Corrupt lines were already quarantined by the store layer.
func loadFacts(path string) ([]Fact, error) {
	raws, err := store.ReadJSONL(path)
	if err != nil {
		return nil, err
	}

	facts := make([]Fact, 0, len(raws))
	for _, raw := range raws {
		var f Fact
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		if f.ID == "" || strings.TrimSpace(f.Text) == "" {
			continue
		}
		facts = append(facts, f)
	}
	return facts, nil
}
