package ruleset

import (
	"encoding/json"
	"fmt"
	"slices"
)

// #region layer
// Layer is a sparse set of field values contributed by one tier
// (comps, preset, project_default or run). Values are canonical per Field.Coerce.
type Layer map[string]any

// NewLayer validates and coerces raw values keyed by field path.
func NewLayer(raw map[string]any) (Layer, error) {
	l := make(Layer, len(raw))
	for path, v := range raw {
		if err := l.Set(path, v); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Set validates v against the registry and stores it.
func (l Layer) Set(path string, v any) error {
	f, err := Lookup(path)
	if err != nil {
		return err
	}
	cv, err := f.Coerce(v)
	if err != nil {
		return err
	}
	l[path] = cv
	return nil
}

// Get returns the value at path.
func (l Layer) Get(path string) (any, bool) {
	v, ok := l[path]
	if s, isList := v.([]string); isList {
		return cloneList(s), ok
	}
	return v, ok
}

// List returns the list stored at path, or nil.
func (l Layer) List(path string) []string {
	v, _ := l[path].([]string)
	return cloneList(v)
}

// Paths returns the populated paths in registry order.
func (l Layer) Paths() []string {
	out := make([]string, 0, len(l))
	for p := range l {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b string) int { return FieldRank(a) - FieldRank(b) })
	return out
}

// Clone returns a deep copy.
func (l Layer) Clone() Layer {
	out := make(Layer, len(l))
	for k, v := range l {
		if s, ok := v.([]string); ok {
			v = cloneList(s)
		}
		out[k] = v
	}
	return out
}

// Without returns a copy with the given paths removed.
func (l Layer) Without(paths ...string) Layer {
	out := l.Clone()
	for _, p := range paths {
		delete(out, p)
	}
	return out
}

// Merge returns l overlaid by over. Scalar fields in over win outright; the
// forbidden-move lists fold per item so that over's bans and lifts take precedence.
func (l Layer) Merge(over Layer) Layer {
	out := l.Clone()
	for k, v := range over {
		if k == FieldBanned || k == FieldLifted {
			continue
		}
		if s, ok := v.([]string); ok {
			v = cloneList(s)
		}
		out[k] = v
	}
	_, hasBan := over[FieldBanned]
	_, hasLift := over[FieldLifted]
	if hasBan || hasLift {
		banned, lifted := FoldForbidden(l.List(FieldBanned), l.List(FieldLifted), over.List(FieldBanned), over.List(FieldLifted))
		out[FieldBanned] = banned
		out[FieldLifted] = lifted
	}
	return out
}

// UnmarshalJSON decodes and validates a layer document.
func (l *Layer) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode layer: %w", err)
	}
	out, err := NewLayer(raw)
	if err != nil {
		return err
	}
	*l = out
	return nil
}

// #endregion layer

// #region forbidden
// FoldForbidden folds one tier's bans and lifts over the accumulated lists.
// Within a tier bans apply first, then lifts. Results are disjoint and sorted.
func FoldForbidden(banned, lifted, tierBanned, tierLifted []string) ([]string, []string) {
	ban := toSet(banned)
	lift := toSet(lifted)
	for _, m := range normalizeList(tierBanned) {
		ban[m] = struct{}{}
		delete(lift, m)
	}
	for _, m := range normalizeList(tierLifted) {
		lift[m] = struct{}{}
		delete(ban, m)
	}
	return fromSet(ban), fromSet(lift)
}

// ForbiddenDelta reports the bans and lifts a user expressed by editing before into after.
// Items that disappear from the effective ban list, or are newly added to the lift list,
// become lifts. Items that newly appear in the effective ban list, or whose lift was
// dropped, become bans.
func ForbiddenDelta(before, after Ruleset) (bans, lifts []string) {
	prev := toSet(effectiveBanned(before))
	next := toSet(effectiveBanned(after))
	prevLifted := toSet(before.ForbiddenMoves.Lifted)

	liftSet := map[string]struct{}{}
	for m := range prev {
		if _, ok := next[m]; !ok {
			liftSet[m] = struct{}{}
		}
	}
	for _, m := range normalizeList(after.ForbiddenMoves.Lifted) {
		if _, ok := prevLifted[m]; !ok {
			liftSet[m] = struct{}{}
		}
	}
	banSet := map[string]struct{}{}
	for m := range next {
		if _, ok := prev[m]; !ok {
			banSet[m] = struct{}{}
		}
	}
	// Dropping a lift restores the ban.
	nextLifted := toSet(after.ForbiddenMoves.Lifted)
	for m := range prevLifted {
		if _, ok := nextLifted[m]; !ok {
			banSet[m] = struct{}{}
		}
	}
	for m := range liftSet {
		delete(banSet, m)
	}
	return fromSet(banSet), fromSet(liftSet)
}

func effectiveBanned(r Ruleset) []string {
	lifted := toSet(r.ForbiddenMoves.Lifted)
	var out []string
	for _, m := range normalizeList(r.ForbiddenMoves.Banned) {
		if _, ok := lifted[m]; !ok {
			out = append(out, m)
		}
	}
	return out
}

func toSet(l []string) map[string]struct{} {
	s := make(map[string]struct{}, len(l))
	for _, m := range normalizeList(l) {
		s[m] = struct{}{}
	}
	return s
}

func fromSet(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// #endregion forbidden
