package ruleset

import "fmt"

// #region ruleset
// Ruleset is the typed rules document handed to the story engine.
// Field groups are fixed; see Fields for the leaf registry.
type Ruleset struct {
	PacingProfile   PacingProfile   `json:"pacing_profile" yaml:"pacing_profile"`
	Budgets         Budgets         `json:"budgets" yaml:"budgets"`
	GateThresholds  GateThresholds  `json:"gate_thresholds" yaml:"gate_thresholds"`
	DialogueRules   DialogueRules   `json:"dialogue_rules" yaml:"dialogue_rules"`
	TextureRules    TextureRules    `json:"texture_rules" yaml:"texture_rules"`
	AntagonismModel AntagonismModel `json:"antagonism_model" yaml:"antagonism_model"`
	ForbiddenMoves  ForbiddenMoves  `json:"forbidden_moves" yaml:"forbidden_moves"`
}

// Knob is a BPM-like min/target/max triple. Invariant after clamping: Min <= Target <= Max.
type Knob struct {
	Min    float64 `json:"min" yaml:"min"`
	Target float64 `json:"target" yaml:"target"`
	Max    float64 `json:"max" yaml:"max"`
}

type PacingProfile struct {
	BeatsPerMinute  Knob    `json:"beats_per_minute" yaml:"beats_per_minute"`
	SceneSeconds    Knob    `json:"scene_seconds" yaml:"scene_seconds"`
	ColdOpenSeconds float64 `json:"cold_open_seconds" yaml:"cold_open_seconds"`
}

type Budgets struct {
	Twists      float64 `json:"twists" yaml:"twists"`
	StakesRungs float64 `json:"stakes_rungs" yaml:"stakes_rungs"`
	Subplots    float64 `json:"subplots" yaml:"subplots"`
}

type GateThresholds struct {
	MinHookScore float64 `json:"min_hook_score" yaml:"min_hook_score"`
	MinCoherence float64 `json:"min_coherence" yaml:"min_coherence"`
	MaxMelodrama float64 `json:"max_melodrama" yaml:"max_melodrama"`
}

type DialogueRules struct {
	Style             string  `json:"style" yaml:"style"`
	MaxMonologueLines float64 `json:"max_monologue_lines" yaml:"max_monologue_lines"`
	SubtextRatio      float64 `json:"subtext_ratio" yaml:"subtext_ratio"`
}

type TextureRules struct {
	Realism        string  `json:"realism" yaml:"realism"`
	SensoryDensity float64 `json:"sensory_density" yaml:"sensory_density"`
}

type AntagonismModel struct {
	Kind       string `json:"kind" yaml:"kind"`
	Escalation string `json:"escalation" yaml:"escalation"`
}

// ForbiddenMoves holds the effective ban list and the lifts that removed
// lower-tier bans. Banned and Lifted are disjoint in a resolved ruleset.
type ForbiddenMoves struct {
	Banned []string `json:"banned" yaml:"banned"`
	Lifted []string `json:"lifted" yaml:"lifted"`
}

// Clone returns a deep copy; list fields never share backing arrays.
func (r Ruleset) Clone() Ruleset {
	out := r
	out.ForbiddenMoves.Banned = cloneList(r.ForbiddenMoves.Banned)
	out.ForbiddenMoves.Lifted = cloneList(r.ForbiddenMoves.Lifted)
	return out
}

// #endregion ruleset

// #region dimension
// Dimension is a creative axis used to key comps suggestions and conflicts.
type Dimension string

const (
	DimPacing          Dimension = "pacing"
	DimStakesLadder    Dimension = "stakes_ladder"
	DimDialogueStyle   Dimension = "dialogue_style"
	DimTwistBudget     Dimension = "twist_budget"
	DimTextureRealism  Dimension = "texture_realism"
	DimAntagonismModel Dimension = "antagonism_model"
	DimForbiddenMoves  Dimension = "forbidden_moves"
)

// Dimensions lists every dimension in canonical order. Conflict sorting uses this order.
var Dimensions = []Dimension{
	DimPacing,
	DimStakesLadder,
	DimDialogueStyle,
	DimTwistBudget,
	DimTextureRealism,
	DimAntagonismModel,
	DimForbiddenMoves,
}

// Rank returns the canonical position of d, or len(Dimensions) when unknown.
func (d Dimension) Rank() int {
	for i, x := range Dimensions {
		if x == d {
			return i
		}
	}
	return len(Dimensions)
}

// Valid reports whether d is one of the enumerated dimensions.
func (d Dimension) Valid() bool {
	return d.Rank() < len(Dimensions)
}

// DimensionFields maps each dimension to the field it is compared against.
// Forbidden moves compare the comps ban list with the override lift list.
var DimensionFields = map[Dimension]string{
	DimPacing:          "pacing_profile.beats_per_minute.target",
	DimStakesLadder:    "budgets.stakes_rungs",
	DimDialogueStyle:   "dialogue_rules.style",
	DimTwistBudget:     "budgets.twists",
	DimTextureRealism:  "texture_rules.realism",
	DimAntagonismModel: "antagonism_model.kind",
	DimForbiddenMoves:  FieldBanned,
}

// #endregion dimension

// #region provenance
// Provenance labels where a resolved value came from.
type Provenance string

const (
	ProvDerived    Provenance = "derived"
	ProvSuggested  Provenance = "suggested"
	ProvPreset     Provenance = "preset"
	ProvOverridden Provenance = "overridden"
	ProvClamped    Provenance = "clamped"
)

// Scope is where an override lives. Run overrides last for one working session;
// project defaults persist.
type Scope string

const (
	ScopeRun            Scope = "run"
	ScopeProjectDefault Scope = "project_default"
)

// ParseScope validates s.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeRun, ScopeProjectDefault:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// FieldProvenance is the provenance of one resolved field. It is re-derived on
// every read and never persisted on its own.
type FieldProvenance struct {
	Field    string     `json:"field"`
	Source   Provenance `json:"source"`
	From     Provenance `json:"from,omitempty"`  // tier that supplied the value before clamping
	Scope    Scope      `json:"scope,omitempty"` // set for overridden values
	Bypassed bool       `json:"clamp_bypassed,omitempty"`
	Note     string     `json:"note,omitempty"`
}

// #endregion provenance
