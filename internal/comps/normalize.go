package comps

import (
	"fmt"
	"math"
	"slices"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region normalize
// Normalized is a suggestion after validation. Layer is safe to merge.
type Normalized struct {
	Layer  ruleset.Layer `json:"layer"`
	Titles []Title       `json:"titles"`
	Notes  []string      `json:"notes"`
}

// Normalize validates an untrusted suggestion. Titles with confidence outside [0,1]
// are quarantined and titles below minConfidence are ignored; when titles were sent
// and none survive, the suggested values are dropped as unsupported. Unknown
// dimensions and wrongly typed values are quarantined. Every rejection adds a note.
func Normalize(s Suggestion, minConfidence float64) Normalized {
	out := Normalized{Layer: ruleset.Layer{}, Titles: []Title{}, Notes: []string{}}

	for _, t := range s.Titles {
		switch {
		case math.IsNaN(t.Confidence) || t.Confidence < 0 || t.Confidence > 1:
			out.Notes = append(out.Notes, fmt.Sprintf("title %s: confidence %g outside [0,1], quarantined", label(t), t.Confidence))
		case t.Confidence < minConfidence:
			out.Notes = append(out.Notes, fmt.Sprintf("title %s: confidence %g below minimum %g, ignored", label(t), t.Confidence, minConfidence))
		default:
			out.Titles = append(out.Titles, t)
		}
	}
	if len(s.Titles) > 0 && len(out.Titles) == 0 {
		if len(s.Values) > 0 {
			out.Notes = append(out.Notes, "no title meets minimum confidence, suggested values ignored")
		}
		return out
	}

	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		dim := ruleset.Dimension(k)
		if !dim.Valid() {
			out.Notes = append(out.Notes, fmt.Sprintf("unknown dimension %q quarantined", k))
			continue
		}
		if err := out.Layer.Set(ruleset.DimensionFields[dim], s.Values[k]); err != nil {
			out.Notes = append(out.Notes, fmt.Sprintf("dimension %s quarantined: %v", k, err))
		}
	}
	return out
}

func label(t Title) string {
	if t.ID != "" {
		return t.ID
	}
	return fmt.Sprintf("%q", t.Title)
}

// #endregion normalize
