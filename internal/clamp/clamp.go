package clamp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region clamp-and-validate
// ClampAndValidate is a pure function that forces every bounded numeric field into
// the lane's [floor, ceiling] range and then restores min <= target <= max on every
// knob group by nudging min or max toward target. target is never moved to fix ordering.
//
// With bypass set, out-of-lane values are kept but still reported, so preview and
// write paths produce the same warnings. Knob ordering is structural and is enforced
// regardless of bypass.
func ClampAndValidate(candidate ruleset.Ruleset, policy lane.Policy, bypass bool) Result {
	out := candidate.Clone()
	bounds := policy.FieldBounds()
	warnings := []string{}
	var adjustments []Adjustment

	// 1. Per-field bounds
	for _, f := range ruleset.Fields() {
		if f.Kind != ruleset.KindNumber {
			continue
		}
		b, ok := bounds[f.Path]
		if !ok {
			continue
		}
		v := f.Number(out)

		var a Adjustment
		switch {
		case v < b.Floor:
			a = Adjustment{Field: f.Path, Reason: BelowFloor, Original: v, Applied: b.Floor, Bound: b.Floor}
		case v > b.Ceiling:
			a = Adjustment{Field: f.Path, Reason: AboveCeiling, Original: v, Applied: b.Ceiling, Bound: b.Ceiling}
		default:
			continue
		}

		if bypass {
			a.Applied = v
			a.Bypassed = true
			warnings = append(warnings, fmt.Sprintf("%s: %s %s %s; clamp bypassed, value kept out of lane",
				f.Path, num(v), side(a.Reason), num(a.Bound)))
		} else {
			f.Set(&out, a.Applied)
			warnings = append(warnings, fmt.Sprintf("%s: %s %s %s, clamped to %s",
				f.Path, num(v), side(a.Reason), num(a.Bound), num(a.Applied)))
		}
		adjustments = append(adjustments, a)
	}

	// 2. Knob ordering
	for _, g := range ruleset.KnobGroups {
		members := ruleset.KnobMembers(g)
		minF, _ := ruleset.Lookup(members[0])
		targetF, _ := ruleset.Lookup(members[1])
		maxF, _ := ruleset.Lookup(members[2])
		target := targetF.Number(out)

		if lo := minF.Number(out); lo > target {
			minF.Set(&out, target)
			adjustments = append(adjustments, Adjustment{Field: minF.Path, Reason: Ordering, Original: lo, Applied: target, Bound: target})
			warnings = append(warnings, fmt.Sprintf("%s: %s exceeds target %s, nudged to %s", minF.Path, num(lo), num(target), num(target)))
		}
		if hi := maxF.Number(out); hi < target {
			maxF.Set(&out, target)
			adjustments = append(adjustments, Adjustment{Field: maxF.Path, Reason: Ordering, Original: hi, Applied: target, Bound: target})
			warnings = append(warnings, fmt.Sprintf("%s: %s below target %s, nudged to %s", maxF.Path, num(hi), num(target), num(target)))
		}
	}

	return Result{Rules: out, Warnings: warnings, Adjustments: adjustments}
}

// #endregion clamp-and-validate

// #region helpers
func side(r Reason) string {
	if r == BelowFloor {
		return "below floor"
	}
	return "above ceiling"
}

// num formats with at least one decimal so bounds read as 6.0, not 6.
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// #endregion helpers
