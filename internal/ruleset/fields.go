package ruleset

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// #region errors
var (
	// ErrUnknownField is returned for paths outside the field registry.
	ErrUnknownField = errors.New("unknown ruleset field")
	// ErrInvalidValue is returned when a value does not match the field kind.
	ErrInvalidValue = errors.New("invalid ruleset value")
)

// #endregion errors

// #region kinds
// Kind is the value type of a leaf field.
type Kind string

const (
	KindNumber Kind = "number"
	KindText   Kind = "text"
	KindList   Kind = "list"
)

// Field paths referenced outside the registry.
const (
	FieldBanned = "forbidden_moves.banned"
	FieldLifted = "forbidden_moves.lifted"
)

// Group names, in document order.
const (
	GroupPacing     = "pacing_profile"
	GroupBudgets    = "budgets"
	GroupGates      = "gate_thresholds"
	GroupDialogue   = "dialogue_rules"
	GroupTexture    = "texture_rules"
	GroupAntagonism = "antagonism_model"
	GroupForbidden  = "forbidden_moves"
)

// Groups lists the fixed top-level field groups.
var Groups = []string{GroupPacing, GroupBudgets, GroupGates, GroupDialogue, GroupTexture, GroupAntagonism, GroupForbidden}

// #endregion kinds

// #region field
// Field is one leaf of the ruleset tree.
type Field struct {
	Path  string
	Group string
	Kind  Kind
	get   func(*Ruleset) any
	set   func(*Ruleset, any)
}

// Get reads the field from r. Lists are returned as copies.
func (f Field) Get(r Ruleset) any {
	v := f.get(&r)
	if l, ok := v.([]string); ok {
		return cloneList(l)
	}
	return v
}

// Set writes v (already coerced) into r.
func (f Field) Set(r *Ruleset, v any) {
	f.set(r, v)
}

// Number reads a numeric field. It panics on non-numeric fields.
func (f Field) Number(r Ruleset) float64 {
	return f.get(&r).(float64)
}

// Coerce converts a decoded value (JSON or YAML) to the field's canonical Go type:
// float64, string or a sorted, de-duplicated []string.
func (f Field) Coerce(v any) (any, error) {
	switch f.Kind {
	case KindNumber:
		n, ok := toFloat(v)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("%w: %s expects a number, got %T", ErrInvalidValue, f.Path, v)
		}
		return n, nil
	case KindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidValue, f.Path, v)
		}
		return s, nil
	case KindList:
		l, ok := toList(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a list of strings, got %T", ErrInvalidValue, f.Path, v)
		}
		return normalizeList(l), nil
	}
	return nil, fmt.Errorf("%w: %s has unsupported kind %q", ErrInvalidValue, f.Path, f.Kind)
}

// Equal compares two canonical values of this field.
func (f Field) Equal(a, b any) bool {
	switch f.Kind {
	case KindList:
		al, _ := a.([]string)
		bl, _ := b.([]string)
		return slices.Equal(normalizeList(al), normalizeList(bl))
	default:
		return a == b
	}
}

// #endregion field

// #region registry
func num(path, group string, p func(*Ruleset) *float64) Field {
	return Field{
		Path: path, Group: group, Kind: KindNumber,
		get: func(r *Ruleset) any { return *p(r) },
		set: func(r *Ruleset, v any) { *p(r) = v.(float64) },
	}
}

func text(path, group string, p func(*Ruleset) *string) Field {
	return Field{
		Path: path, Group: group, Kind: KindText,
		get: func(r *Ruleset) any { return *p(r) },
		set: func(r *Ruleset, v any) { *p(r) = v.(string) },
	}
}

func list(path, group string, p func(*Ruleset) *[]string) Field {
	return Field{
		Path: path, Group: group, Kind: KindList,
		get: func(r *Ruleset) any { return *p(r) },
		set: func(r *Ruleset, v any) { *p(r) = cloneList(v.([]string)) },
	}
}

var fields = []Field{
	num("pacing_profile.beats_per_minute.min", GroupPacing, func(r *Ruleset) *float64 { return &r.PacingProfile.BeatsPerMinute.Min }),
	num("pacing_profile.beats_per_minute.target", GroupPacing, func(r *Ruleset) *float64 { return &r.PacingProfile.BeatsPerMinute.Target }),
	num("pacing_profile.beats_per_minute.max", GroupPacing, func(r *Ruleset) *float64 { return &r.PacingProfile.BeatsPerMinute.Max }),
	num("pacing_profile.scene_seconds.min", GroupPacing, func(r *Ruleset) *float64 { return &r.PacingProfile.SceneSeconds.Min }),
	num("pacing_profile.scene_seconds.target", GroupPacing, func(r *Ruleset) *float64 { return &r.PacingProfile.SceneSeconds.Target }),
	num("pacing_profile.scene_seconds.max", GroupPacing, func(r *Ruleset) *float64 { return &r.PacingProfile.SceneSeconds.Max }),
	num("pacing_profile.cold_open_seconds", GroupPacing, func(r *Ruleset) *float64 { return &r.PacingProfile.ColdOpenSeconds }),
	num("budgets.twists", GroupBudgets, func(r *Ruleset) *float64 { return &r.Budgets.Twists }),
	num("budgets.stakes_rungs", GroupBudgets, func(r *Ruleset) *float64 { return &r.Budgets.StakesRungs }),
	num("budgets.subplots", GroupBudgets, func(r *Ruleset) *float64 { return &r.Budgets.Subplots }),
	num("gate_thresholds.min_hook_score", GroupGates, func(r *Ruleset) *float64 { return &r.GateThresholds.MinHookScore }),
	num("gate_thresholds.min_coherence", GroupGates, func(r *Ruleset) *float64 { return &r.GateThresholds.MinCoherence }),
	num("gate_thresholds.max_melodrama", GroupGates, func(r *Ruleset) *float64 { return &r.GateThresholds.MaxMelodrama }),
	text("dialogue_rules.style", GroupDialogue, func(r *Ruleset) *string { return &r.DialogueRules.Style }),
	num("dialogue_rules.max_monologue_lines", GroupDialogue, func(r *Ruleset) *float64 { return &r.DialogueRules.MaxMonologueLines }),
	num("dialogue_rules.subtext_ratio", GroupDialogue, func(r *Ruleset) *float64 { return &r.DialogueRules.SubtextRatio }),
	text("texture_rules.realism", GroupTexture, func(r *Ruleset) *string { return &r.TextureRules.Realism }),
	num("texture_rules.sensory_density", GroupTexture, func(r *Ruleset) *float64 { return &r.TextureRules.SensoryDensity }),
	text("antagonism_model.kind", GroupAntagonism, func(r *Ruleset) *string { return &r.AntagonismModel.Kind }),
	text("antagonism_model.escalation", GroupAntagonism, func(r *Ruleset) *string { return &r.AntagonismModel.Escalation }),
	list(FieldBanned, GroupForbidden, func(r *Ruleset) *[]string { return &r.ForbiddenMoves.Banned }),
	list(FieldLifted, GroupForbidden, func(r *Ruleset) *[]string { return &r.ForbiddenMoves.Lifted }),
}

var fieldIndex = func() map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f.Path] = i
	}
	return idx
}()

// Fields returns the leaf registry in document order.
func Fields() []Field {
	return slices.Clone(fields)
}

// Lookup returns the field registered at path.
func Lookup(path string) (Field, error) {
	i, ok := fieldIndex[path]
	if !ok {
		return Field{}, fmt.Errorf("%w: %q", ErrUnknownField, path)
	}
	return fields[i], nil
}

// FieldRank orders paths by registry position; unknown paths sort last.
func FieldRank(path string) int {
	if i, ok := fieldIndex[path]; ok {
		return i
	}
	return len(fields)
}

// #endregion registry

// #region knob-groups
// KnobGroups are the BPM-like min/target/max triples.
var KnobGroups = []string{
	"pacing_profile.beats_per_minute",
	"pacing_profile.scene_seconds",
}

// KnobGroupOf returns the knob group containing path, if any.
func KnobGroupOf(path string) (string, bool) {
	for _, g := range KnobGroups {
		if strings.HasPrefix(path, g+".") {
			return g, true
		}
	}
	return "", false
}

// KnobMembers returns the min, target and max paths of a knob group.
func KnobMembers(group string) [3]string {
	return [3]string{group + ".min", group + ".target", group + ".max"}
}

// #endregion knob-groups

// #region value-helpers
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toList(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			s, ok := x.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case nil:
		return []string{}, true
	}
	return nil, false
}

// normalizeList trims, drops empties, de-duplicates and sorts.
func normalizeList(l []string) []string {
	out := make([]string, 0, len(l))
	for _, s := range l {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func cloneList(l []string) []string {
	if l == nil {
		return []string{}
	}
	return slices.Clone(l)
}

// #endregion value-helpers
