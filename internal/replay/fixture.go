package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string        `json:"description"`
	Cases       []FixtureCase `json:"cases"`
}

// FixtureCase names its lane and preset by id; layers are validated on decode.
type FixtureCase struct {
	ID       string          `json:"id"`
	Lane     string          `json:"lane"`
	Preset   string          `json:"preset,omitempty"`
	Comps    ruleset.Layer   `json:"comps,omitempty"`
	Project  ruleset.Layer   `json:"project,omitempty"`
	Run      ruleset.Layer   `json:"run,omitempty"`
	Bypass   bool            `json:"bypass,omitempty"`
	Strategy string          `json:"strategy,omitempty"`
	Expected FixtureExpected `json:"expected"`
}

// FixtureExpected mirrors Expectation with JSON tags. An absent conflicts key is
// unchecked; an empty list asserts no conflicts.
type FixtureExpected struct {
	RulesHash  string                        `json:"rules_hash,omitempty"`
	Values     ruleset.Layer                 `json:"values,omitempty"`
	Provenance map[string]ruleset.Provenance `json:"provenance,omitempty"`
	Conflicts  []ruleset.Dimension           `json:"conflicts"`
	Warnings   *int                          `json:"warnings,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToCase resolves lane and preset ids against t.
func (fc *FixtureCase) ToCase(t *lane.Table) (Case, error) {
	p, err := t.Lookup(fc.Lane)
	if err != nil {
		return Case{}, fmt.Errorf("case %s: %w", fc.ID, err)
	}
	strategy, err := resolve.ParseStrategy(fc.Strategy)
	if err != nil {
		return Case{}, fmt.Errorf("case %s: %w", fc.ID, err)
	}
	in := resolve.Input{
		Lane:     p,
		Comps:    fc.Comps,
		Project:  fc.Project,
		Run:      fc.Run,
		Bypass:   fc.Bypass,
		Strategy: strategy,
	}
	if fc.Preset != "" {
		preset, ok := p.Presets[fc.Preset]
		if !ok {
			return Case{}, fmt.Errorf("case %s: lane %s has no preset %q", fc.ID, p.ID, fc.Preset)
		}
		in.PresetName = preset.Name
		in.Preset = preset.Values
	}
	return Case{
		ID:    fc.ID,
		Input: in,
		Expected: Expectation{
			RulesHash:  fc.Expected.RulesHash,
			Values:     fc.Expected.Values,
			Provenance: fc.Expected.Provenance,
			Conflicts:  fc.Expected.Conflicts,
			Warnings:   fc.Expected.Warnings,
		},
	}, nil
}

// ToCases converts every fixture case.
func (f *Fixture) ToCases(t *lane.Table) ([]Case, error) {
	out := make([]Case, 0, len(f.Cases))
	for i := range f.Cases {
		c, err := f.Cases[i].ToCase(t)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// #endregion fixture-loader

// #region fixture-export

// ExportFixture turns replay cases, typically from FromLog, into a fixture that
// names lanes and presets by id. Only the rules hash is carried over as the
// expectation, so the fixture pins the exact resolved ruleset against the lane
// table it is later replayed with.
func ExportFixture(cases []Case, description string) Fixture {
	f := Fixture{Description: description, Cases: make([]FixtureCase, 0, len(cases))}
	for _, c := range cases {
		in := c.Input
		f.Cases = append(f.Cases, FixtureCase{
			ID:       c.ID,
			Lane:     in.Lane.ID,
			Preset:   in.PresetName,
			Comps:    in.Comps,
			Project:  in.Project,
			Run:      in.Run,
			Bypass:   in.Bypass,
			Strategy: string(in.Strategy),
			Expected: FixtureExpected{RulesHash: c.Expected.RulesHash},
		})
	}
	return f
}

// #endregion fixture-export
