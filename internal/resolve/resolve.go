package resolve

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/clamp"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/conflict"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region resolve
// Resolve is a pure function that merges lane defaults, comps, preset, project
// and run overrides into one effective ruleset.
//
// Precedence, highest first: run > project_default > preset > comps > lane defaults.
// Conflicts are detected between comps and the merged overrides, then the strategy
// may drop conflicted override fields so comps win. A dropped field is masked out
// of the preset as well, otherwise the preset would outrank the comps value.
// The merged rules always pass through ClampAndValidate; any field clamping
// altered is labeled clamped.
func Resolve(in Input) Resolution {
	project := in.Project.Clone()
	run := in.Run.Clone()
	preset := in.Preset.Clone()

	// 1. Strategy suppression
	var suppressed []string
	if in.Strategy == StrategyApplyRecommended || in.Strategy == StrategyHonorComps {
		open := conflict.Detect(in.Lane.Defaults, in.Comps, project.Merge(run))
		for _, c := range open {
			if in.Strategy == StrategyApplyRecommended && c.Severity == conflict.SeverityHard {
				continue
			}
			if c.Dimension == ruleset.DimForbiddenMoves {
				project = dropLifts(project, c.Items)
				run = dropLifts(run, c.Items)
				preset = dropLifts(preset, c.Items)
			} else {
				project = project.Without(c.Field)
				run = run.Without(c.Field)
				preset = preset.Without(c.Field)
			}
			suppressed = append(suppressed, c.Field)
		}
	}

	// 2. Open conflicts against the overrides that survived
	conflicts := conflict.Detect(in.Lane.Defaults, in.Comps, project.Merge(run))

	// 3. Fold tiers lowest first
	rules := in.Lane.Defaults.Clone()
	prov := make(map[string]ruleset.FieldProvenance, len(ruleset.Fields()))
	for _, f := range ruleset.Fields() {
		prov[f.Path] = ruleset.FieldProvenance{Field: f.Path, Source: ruleset.ProvDerived}
	}

	tiers := []struct {
		layer  ruleset.Layer
		source ruleset.Provenance
		scope  ruleset.Scope
		note   string
	}{
		{in.Comps, ruleset.ProvSuggested, "", ""},
		{preset, ruleset.ProvPreset, "", presetNote(in.PresetName)},
		{project, ruleset.ProvOverridden, ruleset.ScopeProjectDefault, ""},
		{run, ruleset.ProvOverridden, ruleset.ScopeRun, ""},
	}
	for _, t := range tiers {
		if len(t.layer) == 0 {
			continue
		}
		rules = ruleset.Apply(rules, t.layer)
		for _, path := range touched(t.layer) {
			prov[path] = ruleset.FieldProvenance{Field: path, Source: t.source, Scope: t.scope, Note: t.note}
		}
	}

	// 4. Clamp
	res := clamp.ClampAndValidate(rules, in.Lane, in.Bypass)
	altered := res.Altered()
	for path, a := range altered {
		p := prov[path]
		prov[path] = ruleset.FieldProvenance{
			Field:  path,
			Source: ruleset.ProvClamped,
			From:   p.Source,
			Scope:  p.Scope,
			Note:   fmt.Sprintf("%s: %s adjusted to %s", a.Reason, num(a.Original), num(a.Applied)),
		}
	}
	for path, a := range res.OutOfLane() {
		p := prov[path]
		p.Bypassed = true
		p.Note = fmt.Sprintf("clamping bypassed: %s outside lane bound %s", num(a.Original), num(a.Bound))
		prov[path] = p
	}

	// 5. Clamping wins over a conflicted override; the conflict stays open.
	for i, c := range conflicts {
		if a, ok := altered[c.Field]; ok {
			conflicts[i].Message = fmt.Sprintf("%s; value clamped to %s by lane bounds", c.Message, num(a.Applied))
		}
	}

	out := make([]ruleset.FieldProvenance, 0, len(prov))
	for _, f := range ruleset.Fields() {
		out = append(out, prov[f.Path])
	}

	return Resolution{
		Profile: EngineProfile{
			Lane:         in.Lane.ID,
			Rules:        res.Rules,
			RulesSummary: ruleset.Summary(res.Rules),
			Conflicts:    conflicts,
			Warnings:     res.Warnings,
			InputsHash:   InputsHash(in),
		},
		Provenance: out,
		Clamp:      res,
		Suppressed: suppressed,
	}
}

// #endregion resolve

// #region inputs-hash
type hashInput struct {
	Lane       string               `json:"lane"`
	Bounds     map[string]laneBound `json:"bounds"`
	Defaults   ruleset.Ruleset      `json:"defaults"`
	Comps      ruleset.Layer        `json:"comps"`
	PresetName string               `json:"preset_name"`
	Preset     ruleset.Layer        `json:"preset"`
	Project    ruleset.Layer        `json:"project"`
	Run        ruleset.Layer        `json:"run"`
	Bypass     bool                 `json:"bypass"`
	Strategy   Strategy             `json:"strategy"`
}

type laneBound struct {
	Floor   float64 `json:"floor"`
	Ceiling float64 `json:"ceiling"`
}

// InputsHash fingerprints everything Resolve reads. Equal hashes mean a rebuild
// would produce the same profile.
func InputsHash(in Input) string {
	bounds := make(map[string]laneBound, len(in.Lane.Bounds))
	for k, b := range in.Lane.Bounds {
		bounds[k] = laneBound{Floor: b.Floor, Ceiling: b.Ceiling}
	}
	strategy := in.Strategy
	if strategy == "" {
		strategy = StrategyHonorOverrides
	}
	// Layers only hold canonical numbers, strings and string lists, which always encode.
	h, _ := ruleset.Hash(hashInput{
		Lane:       in.Lane.ID,
		Bounds:     bounds,
		Defaults:   in.Lane.Defaults.Clone(),
		Comps:      nonNil(in.Comps),
		PresetName: in.PresetName,
		Preset:     nonNil(in.Preset),
		Project:    nonNil(in.Project),
		Run:        nonNil(in.Run),
		Bypass:     in.Bypass,
		Strategy:   strategy,
	})
	return h
}

// RulesHash fingerprints a resolved ruleset. Replay compares it against the
// hash logged when the profile was committed.
func RulesHash(r ruleset.Ruleset) string {
	h, _ := ruleset.Hash(r.Clone())
	return h
}

// #endregion inputs-hash

// #region helpers
// touched lists the registry fields a layer supplies. Either forbidden list
// marks both, since they fold together.
func touched(l ruleset.Layer) []string {
	paths := l.Paths()
	_, ban := l[ruleset.FieldBanned]
	_, lift := l[ruleset.FieldLifted]
	if ban != lift {
		if ban {
			paths = append(paths, ruleset.FieldLifted)
		} else {
			paths = append(paths, ruleset.FieldBanned)
		}
	}
	return paths
}

func dropLifts(l ruleset.Layer, items []string) ruleset.Layer {
	lifted := l.List(ruleset.FieldLifted)
	if len(lifted) == 0 {
		return l
	}
	kept := slices.DeleteFunc(lifted, func(m string) bool { return slices.Contains(items, m) })
	if len(kept) == 0 {
		return l.Without(ruleset.FieldLifted)
	}
	out := l.Clone()
	out[ruleset.FieldLifted] = kept
	return out
}

func presetNote(name string) string {
	if name == "" {
		return ""
	}
	return "preset " + name
}

func nonNil(l ruleset.Layer) ruleset.Layer {
	if l == nil {
		return ruleset.Layer{}
	}
	return l
}

func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// #endregion helpers
