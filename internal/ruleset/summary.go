package ruleset

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Summary renders rules as deterministic human-readable text. It is regenerated
// from rules on every resolution and never edited directly.
func Summary(r Ruleset) string {
	p := message.NewPrinter(language.English)
	bpm := r.PacingProfile.BeatsPerMinute
	scene := r.PacingProfile.SceneSeconds

	var b strings.Builder
	b.WriteString(p.Sprintf("pacing: %.1f-%.1f beats/min (target %.1f); scenes %.0f-%.0fs (target %.0fs); cold open %.0fs\n",
		bpm.Min, bpm.Max, bpm.Target, scene.Min, scene.Max, scene.Target, r.PacingProfile.ColdOpenSeconds))
	b.WriteString(p.Sprintf("budgets: %.0f twists, %.0f stakes rungs, %.0f subplots\n",
		r.Budgets.Twists, r.Budgets.StakesRungs, r.Budgets.Subplots))
	b.WriteString(p.Sprintf("gates: hook >= %.2f, coherence >= %.2f, melodrama <= %.2f\n",
		r.GateThresholds.MinHookScore, r.GateThresholds.MinCoherence, r.GateThresholds.MaxMelodrama))
	b.WriteString(p.Sprintf("dialogue: %s, monologues <= %.0f lines, subtext %.2f\n",
		orNone(r.DialogueRules.Style), r.DialogueRules.MaxMonologueLines, r.DialogueRules.SubtextRatio))
	b.WriteString(p.Sprintf("texture: %s, sensory density %.2f\n",
		orNone(r.TextureRules.Realism), r.TextureRules.SensoryDensity))
	b.WriteString(p.Sprintf("antagonism: %s, %s\n",
		orNone(r.AntagonismModel.Kind), orNone(r.AntagonismModel.Escalation)))

	banned := normalizeList(r.ForbiddenMoves.Banned)
	if len(banned) == 0 {
		b.WriteString("forbidden: none")
	} else {
		b.WriteString("forbidden: " + strings.Join(banned, ", "))
	}
	if lifted := normalizeList(r.ForbiddenMoves.Lifted); len(lifted) > 0 {
		b.WriteString(" (lifted: " + strings.Join(lifted, ", ") + ")")
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "unset"
	}
	return s
}
