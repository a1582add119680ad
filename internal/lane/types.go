package lane

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region errors
// ErrUnknownLane is matched by UnknownLaneError via errors.Is.
var ErrUnknownLane = errors.New("unknown lane")

// UnknownLaneError reports a lane id that is not registered.
type UnknownLaneError struct {
	Lane string
}

func (e *UnknownLaneError) Error() string {
	return fmt.Sprintf("unknown lane %q", e.Lane)
}

func (e *UnknownLaneError) Is(target error) bool {
	return target == ErrUnknownLane
}

// #endregion errors

// #region bound
// Bound is the inclusive [Floor, Ceiling] range for a numeric knob.
type Bound struct {
	Floor   float64 `json:"floor" yaml:"floor"`
	Ceiling float64 `json:"ceiling" yaml:"ceiling"`
}

// Contains reports whether v lies inside the bound.
func (b Bound) Contains(v float64) bool {
	return v >= b.Floor && v <= b.Ceiling
}

// #endregion bound

// #region preset
// Preset is a named style or benchmark preset for a lane.
type Preset struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Values      ruleset.Layer `json:"values"`
}

// #endregion preset

// #region policy
// Policy is the immutable per-lane bounds and structural defaults.
// Bounds are keyed by a knob-group path (applies to min, target and max)
// or by a single numeric field path.
type Policy struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Bounds   map[string]Bound  `json:"bounds"`
	Defaults ruleset.Ruleset   `json:"defaults"`
	Presets  map[string]Preset `json:"presets,omitempty"`
}

// #endregion policy
