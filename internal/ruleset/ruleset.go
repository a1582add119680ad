package ruleset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// #region apply
// Apply returns base overlaid by layer. base is not modified.
func Apply(base Ruleset, layer Layer) Ruleset {
	out := base.Clone()
	for _, path := range layer.Paths() {
		if path == FieldBanned || path == FieldLifted {
			continue
		}
		f, err := Lookup(path)
		if err != nil {
			continue
		}
		f.Set(&out, layer[path])
	}
	_, hasBan := layer[FieldBanned]
	_, hasLift := layer[FieldLifted]
	if hasBan || hasLift {
		out.ForbiddenMoves.Banned, out.ForbiddenMoves.Lifted = FoldForbidden(
			out.ForbiddenMoves.Banned, out.ForbiddenMoves.Lifted,
			layer.List(FieldBanned), layer.List(FieldLifted),
		)
	}
	return out
}

// #endregion apply

// #region diff
// Diff returns the paths whose values differ between a and b, in registry order.
func Diff(a, b Ruleset) []string {
	var changed []string
	for _, f := range fields {
		if !f.Equal(f.Get(a), f.Get(b)) {
			changed = append(changed, f.Path)
		}
	}
	return changed
}

// #endregion diff

// #region hash
// Hash returns "sha256:<hex>" over the JSON encoding of v. Map keys are sorted by
// encoding/json, so equal values always hash equally.
func Hash(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash marshal: %w", err)
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// #endregion hash
