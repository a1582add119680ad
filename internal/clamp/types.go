package clamp

import "github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"

// #region reason
// Reason classifies why a field was (or would have been) adjusted.
type Reason string

const (
	BelowFloor   Reason = "below_floor"
	AboveCeiling Reason = "above_ceiling"
	Ordering     Reason = "ordering"
)

// #endregion reason

// #region adjustment
// Adjustment records one field the engine touched or, under bypass, would have touched.
type Adjustment struct {
	Field    string  `json:"field"`
	Reason   Reason  `json:"reason"`
	Original float64 `json:"original"`
	Applied  float64 `json:"applied"`
	Bound    float64 `json:"bound"`
	Bypassed bool    `json:"bypassed,omitempty"`
}

// Changed reports whether the adjustment altered the stored value.
func (a Adjustment) Changed() bool {
	return a.Applied != a.Original
}

// #endregion adjustment

// #region result
// Result bundles everything returned by ClampAndValidate.
type Result struct {
	Rules       ruleset.Ruleset `json:"rules"`
	Warnings    []string        `json:"warnings"`
	Adjustments []Adjustment    `json:"adjustments"`
}

// Altered returns the fields whose stored value was changed.
func (r Result) Altered() map[string]Adjustment {
	out := make(map[string]Adjustment)
	for _, a := range r.Adjustments {
		if a.Changed() {
			out[a.Field] = a
		}
	}
	return out
}

// OutOfLane returns bypassed adjustments keyed by field.
func (r Result) OutOfLane() map[string]Adjustment {
	out := make(map[string]Adjustment)
	for _, a := range r.Adjustments {
		if a.Bypassed {
			out[a.Field] = a
		}
	}
	return out
}

// #endregion result
