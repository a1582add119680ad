package lane

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region file-format
type laneFile struct {
	DefaultLane string               `yaml:"default_lane"`
	Lanes       map[string]laneEntry `yaml:"lanes"`
}

type laneEntry struct {
	Name     string                 `yaml:"name"`
	Bounds   map[string]Bound       `yaml:"bounds"`
	Defaults ruleset.Ruleset        `yaml:"defaults"`
	Presets  map[string]presetEntry `yaml:"presets"`
}

type presetEntry struct {
	Description string         `yaml:"description"`
	Values      map[string]any `yaml:"values"`
}

// #endregion file-format

// #region load
// LoadFile reads a YAML lane file and overlays its lanes on the builtin lanes.
// Lanes in the file replace builtin lanes with the same id.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lane file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML lane document. Unknown keys are rejected.
func Parse(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f laneFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode lane file: %w", err)
	}

	byID := make(map[string]Policy)
	for _, p := range Builtin() {
		byID[p.ID] = p
	}
	for id, e := range f.Lanes {
		p, err := e.policy(id)
		if err != nil {
			return nil, err
		}
		byID[id] = p
	}

	defaultLane := f.DefaultLane
	if defaultLane == "" {
		defaultLane = DefaultLaneID
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	policies := make([]Policy, 0, len(ids))
	for _, id := range ids {
		policies = append(policies, byID[id])
	}
	return NewTable(defaultLane, policies...)
}

func (e laneEntry) policy(id string) (Policy, error) {
	p := Policy{
		ID:       id,
		Name:     e.Name,
		Bounds:   e.Bounds,
		Defaults: e.Defaults.Clone(),
		Presets:  make(map[string]Preset, len(e.Presets)),
	}
	if p.Name == "" {
		p.Name = id
	}
	if p.Bounds == nil {
		p.Bounds = map[string]Bound{}
	}
	// Defaults lists are normalized like every other list value.
	p.Defaults.ForbiddenMoves.Banned, p.Defaults.ForbiddenMoves.Lifted = ruleset.FoldForbidden(
		nil, nil, p.Defaults.ForbiddenMoves.Banned, p.Defaults.ForbiddenMoves.Lifted)
	for name, pe := range e.Presets {
		values, err := ruleset.NewLayer(pe.Values)
		if err != nil {
			return Policy{}, fmt.Errorf("lane %s: preset %s: %w", id, name, err)
		}
		p.Presets[name] = Preset{Name: name, Description: pe.Description, Values: values}
	}
	return p, nil
}

// #endregion load
