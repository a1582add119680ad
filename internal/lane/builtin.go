package lane

import "github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"

// DefaultLaneID is the documented fallback lane for unknown lane ids.
const DefaultLaneID = "feature_film"

// #region builtin
// Builtin returns the lane policies shipped with the engine.
func Builtin() []Policy {
	return []Policy{verticalDrama(), featureFilm(), limitedSeries()}
}

// BuiltinTable builds a table over Builtin with DefaultLaneID as the fallback.
func BuiltinTable() *Table {
	t, err := NewTable(DefaultLaneID, Builtin()...)
	if err != nil {
		panic("lane: invalid builtin table: " + err.Error())
	}
	return t
}

func verticalDrama() Policy {
	return Policy{
		ID:   "vertical_drama",
		Name: "Vertical Drama",
		Bounds: map[string]Bound{
			"pacing_profile.beats_per_minute":    {Floor: 2.0, Ceiling: 6.0},
			"pacing_profile.scene_seconds":       {Floor: 20, Ceiling: 120},
			"pacing_profile.cold_open_seconds":   {Floor: 3, Ceiling: 20},
			"budgets.twists":                     {Floor: 0, Ceiling: 4},
			"budgets.stakes_rungs":               {Floor: 2, Ceiling: 8},
			"budgets.subplots":                   {Floor: 0, Ceiling: 3},
			"gate_thresholds.min_hook_score":     {Floor: 0, Ceiling: 1},
			"gate_thresholds.min_coherence":      {Floor: 0, Ceiling: 1},
			"gate_thresholds.max_melodrama":      {Floor: 0, Ceiling: 1},
			"dialogue_rules.max_monologue_lines": {Floor: 1, Ceiling: 12},
			"dialogue_rules.subtext_ratio":       {Floor: 0, Ceiling: 1},
			"texture_rules.sensory_density":      {Floor: 0, Ceiling: 1},
		},
		Defaults: ruleset.Ruleset{
			PacingProfile: ruleset.PacingProfile{
				BeatsPerMinute:  ruleset.Knob{Min: 3, Target: 4, Max: 5},
				SceneSeconds:    ruleset.Knob{Min: 30, Target: 45, Max: 75},
				ColdOpenSeconds: 8,
			},
			Budgets:         ruleset.Budgets{Twists: 2, StakesRungs: 4, Subplots: 1},
			GateThresholds:  ruleset.GateThresholds{MinHookScore: 0.7, MinCoherence: 0.6, MaxMelodrama: 0.6},
			DialogueRules:   ruleset.DialogueRules{Style: "punchy", MaxMonologueLines: 4, SubtextRatio: 0.3},
			TextureRules:    ruleset.TextureRules{Realism: "heightened", SensoryDensity: 0.5},
			AntagonismModel: ruleset.AntagonismModel{Kind: "person", Escalation: "spike_and_reset"},
			ForbiddenMoves:  ruleset.ForbiddenMoves{Banned: []string{"deus ex machina"}, Lifted: []string{}},
		},
		Presets: map[string]Preset{
			"cliffhanger_heavy": {
				Name:        "cliffhanger_heavy",
				Description: "End every episode on a reversal",
				Values: ruleset.Layer{
					"pacing_profile.beats_per_minute.target": 5.0,
					"pacing_profile.beats_per_minute.max":    5.5,
					"budgets.twists":                         3.0,
				},
			},
			"slow_burn_romance": {
				Name:        "slow_burn_romance",
				Description: "Longer scenes, more subtext",
				Values: ruleset.Layer{
					"pacing_profile.beats_per_minute.target": 3.0,
					"dialogue_rules.style":                   "naturalistic",
					"dialogue_rules.subtext_ratio":           0.6,
				},
			},
		},
	}
}

func featureFilm() Policy {
	return Policy{
		ID:   "feature_film",
		Name: "Feature Film",
		Bounds: map[string]Bound{
			"pacing_profile.beats_per_minute":    {Floor: 0.5, Ceiling: 3.0},
			"pacing_profile.scene_seconds":       {Floor: 45, Ceiling: 300},
			"pacing_profile.cold_open_seconds":   {Floor: 0, Ceiling: 600},
			"budgets.twists":                     {Floor: 1, Ceiling: 6},
			"budgets.stakes_rungs":               {Floor: 3, Ceiling: 10},
			"budgets.subplots":                   {Floor: 0, Ceiling: 5},
			"gate_thresholds.min_hook_score":     {Floor: 0, Ceiling: 1},
			"gate_thresholds.min_coherence":      {Floor: 0, Ceiling: 1},
			"gate_thresholds.max_melodrama":      {Floor: 0, Ceiling: 1},
			"dialogue_rules.max_monologue_lines": {Floor: 1, Ceiling: 40},
			"dialogue_rules.subtext_ratio":       {Floor: 0, Ceiling: 1},
			"texture_rules.sensory_density":      {Floor: 0, Ceiling: 1},
		},
		Defaults: ruleset.Ruleset{
			PacingProfile: ruleset.PacingProfile{
				BeatsPerMinute:  ruleset.Knob{Min: 1, Target: 1.5, Max: 2.5},
				SceneSeconds:    ruleset.Knob{Min: 60, Target: 120, Max: 240},
				ColdOpenSeconds: 180,
			},
			Budgets:         ruleset.Budgets{Twists: 3, StakesRungs: 5, Subplots: 2},
			GateThresholds:  ruleset.GateThresholds{MinHookScore: 0.5, MinCoherence: 0.8, MaxMelodrama: 0.3},
			DialogueRules:   ruleset.DialogueRules{Style: "naturalistic", MaxMonologueLines: 12, SubtextRatio: 0.5},
			TextureRules:    ruleset.TextureRules{Realism: "grounded", SensoryDensity: 0.6},
			AntagonismModel: ruleset.AntagonismModel{Kind: "person", Escalation: "slow_burn"},
			ForbiddenMoves:  ruleset.ForbiddenMoves{Banned: []string{"deus ex machina", "it was all a dream"}, Lifted: []string{}},
		},
		Presets: map[string]Preset{
			"prestige_thriller": {
				Name:        "prestige_thriller",
				Description: "Tight plotting, grounded texture",
				Values: ruleset.Layer{
					"budgets.twists":        4.0,
					"texture_rules.realism": "grounded",
					"antagonism_model.kind": "system",
				},
			},
		},
	}
}

func limitedSeries() Policy {
	return Policy{
		ID:   "limited_series",
		Name: "Limited Series",
		Bounds: map[string]Bound{
			"pacing_profile.beats_per_minute":    {Floor: 1.0, Ceiling: 4.0},
			"pacing_profile.scene_seconds":       {Floor: 30, Ceiling: 240},
			"budgets.twists":                     {Floor: 1, Ceiling: 5},
			"budgets.stakes_rungs":               {Floor: 3, Ceiling: 9},
			"budgets.subplots":                   {Floor: 1, Ceiling: 6},
			"dialogue_rules.max_monologue_lines": {Floor: 1, Ceiling: 20},
			"dialogue_rules.subtext_ratio":       {Floor: 0, Ceiling: 1},
		},
		Defaults: ruleset.Ruleset{
			PacingProfile: ruleset.PacingProfile{
				BeatsPerMinute:  ruleset.Knob{Min: 1.5, Target: 2, Max: 3},
				SceneSeconds:    ruleset.Knob{Min: 45, Target: 90, Max: 180},
				ColdOpenSeconds: 90,
			},
			Budgets:         ruleset.Budgets{Twists: 2, StakesRungs: 6, Subplots: 3},
			GateThresholds:  ruleset.GateThresholds{MinHookScore: 0.6, MinCoherence: 0.75, MaxMelodrama: 0.4},
			DialogueRules:   ruleset.DialogueRules{Style: "naturalistic", MaxMonologueLines: 8, SubtextRatio: 0.5},
			TextureRules:    ruleset.TextureRules{Realism: "grounded", SensoryDensity: 0.55},
			AntagonismModel: ruleset.AntagonismModel{Kind: "system", Escalation: "slow_burn"},
			ForbiddenMoves:  ruleset.ForbiddenMoves{Banned: []string{"deus ex machina"}, Lifted: []string{}},
		},
	}
}

// #endregion builtin
