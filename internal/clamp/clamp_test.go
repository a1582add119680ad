package clamp

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

func verticalDrama(t *testing.T) lane.Policy {
	t.Helper()
	p, err := lane.BuiltinTable().Lookup("vertical_drama")
	require.NoError(t, err)
	return p
}

func TestClampTargetAboveCeiling(t *testing.T) {
	p := verticalDrama(t)
	candidate := p.Defaults.Clone()
	candidate.PacingProfile.BeatsPerMinute.Target = 7.5

	res := ClampAndValidate(candidate, p, false)

	assert.Equal(t, 6.0, res.Rules.PacingProfile.BeatsPerMinute.Target)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "pacing_profile.beats_per_minute.target")
	assert.Contains(t, res.Warnings[0], "6.0")
	assert.Contains(t, res.Warnings[0], "7.5")

	altered := res.Altered()
	require.Contains(t, altered, "pacing_profile.beats_per_minute.target")
	assert.Equal(t, AboveCeiling, altered["pacing_profile.beats_per_minute.target"].Reason)

	// default max (5) now sits below the clamped target and is nudged up
	assert.Equal(t, 6.0, res.Rules.PacingProfile.BeatsPerMinute.Max)
	assert.Equal(t, Ordering, altered["pacing_profile.beats_per_minute.max"].Reason)
}

func TestClampBelowFloor(t *testing.T) {
	p := verticalDrama(t)
	candidate := p.Defaults.Clone()
	candidate.Budgets.StakesRungs = 1

	res := ClampAndValidate(candidate, p, false)
	assert.Equal(t, 2.0, res.Rules.Budgets.StakesRungs)
	assert.Equal(t, []string{"budgets.stakes_rungs: 1.0 below floor 2.0, clamped to 2.0"}, res.Warnings)
}

func TestClampBypassKeepsValueAndWarns(t *testing.T) {
	p := verticalDrama(t)
	candidate := p.Defaults.Clone()
	candidate.PacingProfile.BeatsPerMinute.Target = 9.0

	res := ClampAndValidate(candidate, p, true)

	assert.Equal(t, 9.0, res.Rules.PacingProfile.BeatsPerMinute.Target)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "pacing_profile.beats_per_minute.target")
	assert.Contains(t, res.Warnings[0], "clamp bypassed")

	out := res.OutOfLane()
	require.Contains(t, out, "pacing_profile.beats_per_minute.target")
	assert.False(t, out["pacing_profile.beats_per_minute.target"].Changed())
	assert.NotContains(t, res.Altered(), "pacing_profile.beats_per_minute.target")
}

func TestClampBypassReportsSameFieldsAsClamp(t *testing.T) {
	p := verticalDrama(t)
	candidate := p.Defaults.Clone()
	candidate.Budgets.Twists = 10
	candidate.GateThresholds.MaxMelodrama = -1

	clamped := ClampAndValidate(candidate, p, false)
	bypassed := ClampAndValidate(candidate, p, true)

	var want, got []string
	for _, a := range clamped.Adjustments {
		want = append(want, a.Field)
	}
	for _, a := range bypassed.Adjustments {
		got = append(got, a.Field)
	}
	assert.Equal(t, want, got)
}

func TestClampOrderingNeverMovesTarget(t *testing.T) {
	p := verticalDrama(t)
	candidate := p.Defaults.Clone()
	candidate.PacingProfile.SceneSeconds = ruleset.Knob{Min: 100, Target: 50, Max: 40}

	res := ClampAndValidate(candidate, p, false)
	assert.Equal(t, ruleset.Knob{Min: 50, Target: 50, Max: 50}, res.Rules.PacingProfile.SceneSeconds)
	assert.Len(t, res.Warnings, 2)
}

func TestClampDoesNotMutateCandidate(t *testing.T) {
	p := verticalDrama(t)
	candidate := p.Defaults.Clone()
	candidate.Budgets.Twists = 99
	snapshot := candidate.Clone()

	_ = ClampAndValidate(candidate, p, false)
	if diff := cmp.Diff(snapshot, candidate); diff != "" {
		t.Fatalf("candidate mutated (-want +got):\n%s", diff)
	}
}

func TestClampInLaneIsNoOp(t *testing.T) {
	p := verticalDrama(t)
	res := ClampAndValidate(p.Defaults, p, false)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.Adjustments)
	assert.Empty(t, cmp.Diff(p.Defaults, res.Rules))
}

func randomRuleset(r *rand.Rand, base ruleset.Ruleset) ruleset.Ruleset {
	out := base.Clone()
	for _, f := range ruleset.Fields() {
		if f.Kind != ruleset.KindNumber {
			continue
		}
		f.Set(&out, r.Float64()*400-100)
	}
	return out
}

func TestClampIdempotentAndOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, id := range lane.BuiltinTable().IDs() {
		p, err := lane.BuiltinTable().Lookup(id)
		require.NoError(t, err)

		for i := 0; i < 200; i++ {
			x := randomRuleset(rng, p.Defaults)
			once := ClampAndValidate(x, p, false)
			twice := ClampAndValidate(once.Rules, p, false)

			if diff := cmp.Diff(once.Rules, twice.Rules); diff != "" {
				t.Fatalf("lane %s: not idempotent (-once +twice):\n%s", id, diff)
			}
			assert.Empty(t, twice.Warnings)

			for _, g := range ruleset.KnobGroups {
				m := ruleset.KnobMembers(g)
				lo, _ := ruleset.Lookup(m[0])
				mid, _ := ruleset.Lookup(m[1])
				hi, _ := ruleset.Lookup(m[2])
				r := once.Rules
				if lo.Number(r) > mid.Number(r) || mid.Number(r) > hi.Number(r) {
					t.Fatalf("lane %s: %s unordered: %v %v %v", id, g, lo.Number(r), mid.Number(r), hi.Number(r))
				}
			}
		}
	}
}

func TestClampOrderedEvenWhenBypassed(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	p := verticalDrama(t)
	for i := 0; i < 100; i++ {
		res := ClampAndValidate(randomRuleset(rng, p.Defaults), p, true)
		k := res.Rules.PacingProfile.BeatsPerMinute
		if k.Min > k.Target || k.Target > k.Max {
			t.Fatalf("unordered under bypass: %+v", k)
		}
	}
}
