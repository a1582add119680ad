package conflict

import "github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"

// #region severity
// Severity grades a conflict. Hard conflicts are never auto-resolved toward comps.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeverityWarn Severity = "warn"
	SeverityInfo Severity = "info"
)

// Rank orders severities for sorting: hard first.
func (s Severity) Rank() int {
	switch s {
	case SeverityHard:
		return 0
	case SeverityWarn:
		return 1
	case SeverityInfo:
		return 2
	}
	return 3
}

// #endregion severity

// #region action
// Action is a proposed resolution. The detector proposes actions, it never applies them.
type Action string

const (
	ActionHonorComps       Action = "honor_comps"
	ActionHonorOverrides   Action = "honor_overrides"
	ActionApplyRecommended Action = "apply_recommended"
	ActionReviewForbidden  Action = "review_forbidden_moves"
)

// #endregion action

// #region rule
// Kind selects the comparison used for a dimension.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
	KindSet         Kind = "set"
)

// Rule is one row of the fixed severity table.
type Rule struct {
	Dimension ruleset.Dimension
	Field     string
	Kind      Kind
	Epsilon   float64 // numeric: differences at or below are ignored
	Moderate  float64 // numeric: differences above are info, not warn
	Actions   []Action
}

// DefaultRules returns the severity table in dimension order.
func DefaultRules() []Rule {
	both := []Action{ActionHonorComps, ActionHonorOverrides}
	numeric := []Action{ActionHonorComps, ActionHonorOverrides, ActionApplyRecommended}
	return []Rule{
		{Dimension: ruleset.DimPacing, Field: ruleset.DimensionFields[ruleset.DimPacing], Kind: KindNumeric, Epsilon: 0.25, Moderate: 1.5, Actions: numeric},
		{Dimension: ruleset.DimStakesLadder, Field: ruleset.DimensionFields[ruleset.DimStakesLadder], Kind: KindNumeric, Epsilon: 0.5, Moderate: 2, Actions: numeric},
		{Dimension: ruleset.DimDialogueStyle, Field: ruleset.DimensionFields[ruleset.DimDialogueStyle], Kind: KindCategorical, Actions: both},
		{Dimension: ruleset.DimTwistBudget, Field: ruleset.DimensionFields[ruleset.DimTwistBudget], Kind: KindNumeric, Epsilon: 0.5, Moderate: 2, Actions: numeric},
		{Dimension: ruleset.DimTextureRealism, Field: ruleset.DimensionFields[ruleset.DimTextureRealism], Kind: KindCategorical, Actions: both},
		{Dimension: ruleset.DimAntagonismModel, Field: ruleset.DimensionFields[ruleset.DimAntagonismModel], Kind: KindCategorical, Actions: both},
		{Dimension: ruleset.DimForbiddenMoves, Field: ruleset.FieldBanned, Kind: KindSet,
			Actions: []Action{ActionHonorComps, ActionHonorOverrides, ActionReviewForbidden}},
	}
}

// #endregion rule

// #region conflict
// Conflict is a disagreement between a comps suggestion and an explicit override.
// Conflicts are recomputed on every resolution and never edited.
type Conflict struct {
	ID               string            `json:"id"`
	Dimension        ruleset.Dimension `json:"dimension"`
	Field            string            `json:"field"`
	Severity         Severity          `json:"severity"`
	Message          string            `json:"message"`
	ExpectedValue    string            `json:"expected_value"` // JSON of the comps value
	OverrideValue    string            `json:"override_value"` // JSON of the override value
	Items            []string          `json:"items,omitempty"` // forbidden moves in dispute
	SuggestedActions []Action          `json:"suggested_actions"`
}

// #endregion conflict
