package resolve

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/clamp"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/conflict"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region strategy
// Strategy decides how conflicted override fields are treated during resolution.
type Strategy string

const (
	// StrategyHonorOverrides keeps every override; plain tier precedence.
	StrategyHonorOverrides Strategy = "honor_overrides"
	// StrategyApplyRecommended keeps overrides on hard conflicts and lets comps win the rest.
	StrategyApplyRecommended Strategy = "apply_recommended"
	// StrategyHonorComps lets comps win every conflicted field.
	StrategyHonorComps Strategy = "honor_comps"
)

// Strategies lists the accepted strategies.
var Strategies = []Strategy{StrategyHonorOverrides, StrategyApplyRecommended, StrategyHonorComps}

// ParseStrategy validates s. Empty selects StrategyHonorOverrides.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyHonorOverrides, nil
	}
	for _, x := range Strategies {
		if string(x) == s {
			return x, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// #endregion strategy

// #region input
// Input is everything one resolution reads. Layers may be nil. The JSON form is
// the snapshot recorded in the resolution log for replay.
type Input struct {
	Lane       lane.Policy   `json:"lane"`
	Comps      ruleset.Layer `json:"comps,omitempty"`
	PresetName string        `json:"preset_name,omitempty"`
	Preset     ruleset.Layer `json:"preset,omitempty"`
	Project    ruleset.Layer `json:"project,omitempty"`
	Run        ruleset.Layer `json:"run,omitempty"`
	Bypass     bool          `json:"bypass,omitempty"`
	Strategy   Strategy      `json:"strategy,omitempty"`
}

// #endregion input

// #region engine-profile
// EngineProfile is the published result of a resolution. Profiles are never
// mutated; the next resolution supersedes them.
type EngineProfile struct {
	ID           string              `json:"id"`
	ParentID     string              `json:"parent_id,omitempty"`
	ProjectID    string              `json:"project_id"`
	Lane         string              `json:"lane"`
	Rules        ruleset.Ruleset     `json:"rules"`
	RulesSummary string              `json:"rules_summary"`
	Conflicts    []conflict.Conflict `json:"conflicts"`
	Warnings     []string            `json:"warnings"`
	InputsHash   string              `json:"inputs_hash"`
	CreatedAt    time.Time           `json:"created_at"`
}

// #endregion engine-profile

// #region resolution
// Resolution is the full output of Resolve. Profile carries no identity; the
// caller stamps ID, ProjectID, ParentID and CreatedAt before publishing.
type Resolution struct {
	Profile    EngineProfile             `json:"profile"`
	Provenance []ruleset.FieldProvenance `json:"provenance"`
	Clamp      clamp.Result              `json:"-"`
	Suppressed []string                  `json:"suppressed,omitempty"` // override fields dropped by the strategy
}

// #endregion resolution
