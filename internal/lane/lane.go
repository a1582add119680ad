package lane

import (
	"fmt"
	"maps"
	"slices"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region field-bounds
// FieldBounds expands group-keyed bounds to one entry per numeric field.
// This is exactly the set of bounds the clamp engine enforces.
func (p Policy) FieldBounds() map[string]Bound {
	out := make(map[string]Bound)
	for key, b := range p.Bounds {
		if isGroup(key) {
			for _, m := range ruleset.KnobMembers(key) {
				out[m] = b
			}
			continue
		}
		out[key] = b
	}
	return out
}

// Bound returns the bound enforced on path.
func (p Policy) Bound(path string) (Bound, bool) {
	if b, ok := p.Bounds[path]; ok {
		return b, true
	}
	if g, ok := ruleset.KnobGroupOf(path); ok {
		b, ok := p.Bounds[g]
		return b, ok
	}
	return Bound{}, false
}

// PresetNames returns the preset names in sorted order.
func (p Policy) PresetNames() []string {
	return slices.Sorted(maps.Keys(p.Presets))
}

// #endregion field-bounds

// #region validate
// Validate checks that the policy is internally consistent: bound keys are known
// numeric fields or knob groups, knob-group members are not bounded individually,
// floors do not exceed ceilings, defaults sit inside bounds with min <= target <= max,
// and presets only name registered fields.
func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("lane: empty id")
	}
	for key, b := range p.Bounds {
		if !isGroup(key) {
			f, err := ruleset.Lookup(key)
			if err != nil {
				return fmt.Errorf("lane %s: bound %q: %w", p.ID, key, err)
			}
			if f.Kind != ruleset.KindNumber {
				return fmt.Errorf("lane %s: bound %q targets a %s field", p.ID, key, f.Kind)
			}
			if g, ok := ruleset.KnobGroupOf(key); ok {
				return fmt.Errorf("lane %s: bound %q must be set on knob group %q", p.ID, key, g)
			}
		}
		if b.Floor > b.Ceiling {
			return fmt.Errorf("lane %s: bound %q floor %g exceeds ceiling %g", p.ID, key, b.Floor, b.Ceiling)
		}
	}
	for path, b := range p.FieldBounds() {
		f, _ := ruleset.Lookup(path)
		if v := f.Number(p.Defaults); !b.Contains(v) {
			return fmt.Errorf("lane %s: default %s=%g outside [%g, %g]", p.ID, path, v, b.Floor, b.Ceiling)
		}
	}
	for _, g := range ruleset.KnobGroups {
		lo, mid, hi := knobValues(p.Defaults, g)
		if lo > mid || mid > hi {
			return fmt.Errorf("lane %s: default %s violates min <= target <= max (%g, %g, %g)", p.ID, g, lo, mid, hi)
		}
	}
	for name, pr := range p.Presets {
		for path, v := range pr.Values {
			f, err := ruleset.Lookup(path)
			if err != nil {
				return fmt.Errorf("lane %s: preset %s: %w", p.ID, name, err)
			}
			if _, err := f.Coerce(v); err != nil {
				return fmt.Errorf("lane %s: preset %s: %w", p.ID, name, err)
			}
		}
	}
	return nil
}

// #endregion validate

// #region table
// Table is the registry of lane policies, loaded once at startup.
type Table struct {
	lanes       map[string]Policy
	defaultLane string
}

// NewTable validates the policies and builds a table. defaultLane must be registered.
func NewTable(defaultLane string, policies ...Policy) (*Table, error) {
	t := &Table{lanes: make(map[string]Policy, len(policies)), defaultLane: defaultLane}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.lanes[p.ID]; dup {
			return nil, fmt.Errorf("lane %s: registered twice", p.ID)
		}
		t.lanes[p.ID] = clonePolicy(p)
	}
	if _, ok := t.lanes[defaultLane]; !ok {
		return nil, fmt.Errorf("default lane: %w", &UnknownLaneError{Lane: defaultLane})
	}
	return t, nil
}

// Lookup returns the policy for id, or an *UnknownLaneError.
func (t *Table) Lookup(id string) (Policy, error) {
	p, ok := t.lanes[id]
	if !ok {
		return Policy{}, &UnknownLaneError{Lane: id}
	}
	return clonePolicy(p), nil
}

// LookupOrDefault returns the policy for id, falling back to the default lane.
// The bool reports whether the fallback was used.
func (t *Table) LookupOrDefault(id string) (Policy, bool) {
	if p, err := t.Lookup(id); err == nil {
		return p, false
	}
	return clonePolicy(t.lanes[t.defaultLane]), true
}

// DefaultLane returns the documented fallback lane id.
func (t *Table) DefaultLane() string {
	return t.defaultLane
}

// WithDefault returns a copy of t whose fallback lane is id.
func (t *Table) WithDefault(id string) (*Table, error) {
	if _, ok := t.lanes[id]; !ok {
		return nil, fmt.Errorf("default lane: %w", &UnknownLaneError{Lane: id})
	}
	return &Table{lanes: maps.Clone(t.lanes), defaultLane: id}, nil
}

// IDs returns the registered lane ids, sorted.
func (t *Table) IDs() []string {
	return slices.Sorted(maps.Keys(t.lanes))
}

// #endregion table

// #region helpers
func isGroup(key string) bool {
	return slices.Contains(ruleset.KnobGroups, key)
}

func knobValues(r ruleset.Ruleset, group string) (lo, mid, hi float64) {
	vals := make([]float64, 3)
	for i, path := range ruleset.KnobMembers(group) {
		f, _ := ruleset.Lookup(path)
		vals[i] = f.Number(r)
	}
	return vals[0], vals[1], vals[2]
}

func clonePolicy(p Policy) Policy {
	out := p
	out.Bounds = maps.Clone(p.Bounds)
	out.Defaults = p.Defaults.Clone()
	out.Presets = make(map[string]Preset, len(p.Presets))
	for k, v := range p.Presets {
		v.Values = v.Values.Clone()
		out.Presets[k] = v
	}
	return out
}

// #endregion helpers
