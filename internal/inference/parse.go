package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

type extraction struct {
	Memories []struct {
		Statement string                    `json:"statement"`
		Entities  []model.CandidateEntity   `json:"entities"`
		Relations []model.CandidateRelation `json:"relations"`
	} `json:"memories"`
}

// stripFences removes a surrounding markdown code fence and any prose
// around the outermost JSON object.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if i, j := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); i >= 0 && j > i {
		s = s[i : j+1]
	}
	return strings.TrimSpace(s)
}

func parseFragments(content string, rec model.CaptureRecord) ([]model.MemoryFragment, error) {
	body := stripFences(content)
	if body == "" {
		return nil, fmt.Errorf("%w: empty content", model.ErrMalformedResponse)
	}
	var ex extraction
	if err := json.Unmarshal([]byte(body), &ex); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}

	created := rec.CapturedAt
	session := model.SessionID(rec.SourceApp, created)
	seen := make(map[string]bool, len(ex.Memories))
	frags := make([]model.MemoryFragment, 0, len(ex.Memories))
	for _, m := range ex.Memories {
		stmt := strings.TrimSpace(m.Statement)
		if stmt == "" {
			continue
		}
		id := model.FragmentID(rec.SourceApp, stmt)
		if seen[id] {
			continue
		}
		seen[id] = true

		f := model.MemoryFragment{
			ID:        id,
			Content:   stmt,
			SourceApp: rec.SourceApp,
			SessionID: session,
			CaptureID: rec.ID,
			CreatedAt: created,
		}
		for _, e := range m.Entities {
			e.Name = strings.TrimSpace(e.Name)
			if model.NormalizeName(e.Name) == "" {
				continue
			}
			e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
			e.Fact = strings.TrimSpace(e.Fact)
			f.Entities = append(f.Entities, e)
		}
		for _, r := range m.Relations {
			r.Source, r.Target = strings.TrimSpace(r.Source), strings.TrimSpace(r.Target)
			r.Relation = model.NormalizeRelation(r.Relation)
			if model.NormalizeName(r.Source) == "" || model.NormalizeName(r.Target) == "" || r.Relation == "" {
				continue
			}
			f.Relations = append(f.Relations, r)
		}
		frags = append(frags, f)
	}
	return frags, nil
}
