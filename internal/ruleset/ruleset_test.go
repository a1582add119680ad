package ruleset

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Ruleset {
	return Ruleset{
		PacingProfile: PacingProfile{
			BeatsPerMinute:  Knob{Min: 3, Target: 4, Max: 5},
			SceneSeconds:    Knob{Min: 30, Target: 45, Max: 75},
			ColdOpenSeconds: 8,
		},
		Budgets:         Budgets{Twists: 2, StakesRungs: 4, Subplots: 1},
		GateThresholds:  GateThresholds{MinHookScore: 0.6, MinCoherence: 0.7, MaxMelodrama: 0.4},
		DialogueRules:   DialogueRules{Style: "punchy", MaxMonologueLines: 4, SubtextRatio: 0.4},
		TextureRules:    TextureRules{Realism: "heightened", SensoryDensity: 0.5},
		AntagonismModel: AntagonismModel{Kind: "person", Escalation: "spike_and_reset"},
		ForbiddenMoves:  ForbiddenMoves{Banned: []string{"deus ex machina"}, Lifted: []string{}},
	}
}

func TestLookupUnknownField(t *testing.T) {
	_, err := Lookup("pacing_profile.tempo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownField))
}

func TestLayerSetCoerces(t *testing.T) {
	l := Layer{}
	require.NoError(t, l.Set("budgets.twists", 3))
	require.NoError(t, l.Set(FieldBanned, []any{" miracle cure", "amnesia", "amnesia"}))

	v, ok := l.Get("budgets.twists")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
	assert.Equal(t, []string{"amnesia", "miracle cure"}, l.List(FieldBanned))
}

func TestLayerSetRejectsWrongKind(t *testing.T) {
	l := Layer{}
	err := l.Set("dialogue_rules.style", 4.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))

	err = l.Set("budgets.twists", "three")
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestLayerUnmarshalRejectsUnknownField(t *testing.T) {
	var l Layer
	err := json.Unmarshal([]byte(`{"budgets.plot_armor": 1}`), &l)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownField))
}

func TestLayerMergeOverWins(t *testing.T) {
	project := Layer{"budgets.twists": 2.0, "dialogue_rules.style": "naturalistic"}
	run := Layer{"budgets.twists": 3.0}

	merged := project.Merge(run)
	assert.Equal(t, 3.0, merged["budgets.twists"])
	assert.Equal(t, "naturalistic", merged["dialogue_rules.style"])
	// inputs untouched
	assert.Equal(t, 2.0, project["budgets.twists"])
}

func TestFoldForbiddenPerItemPrecedence(t *testing.T) {
	banned, lifted := FoldForbidden(
		[]string{"amnesia", "miracle cure"}, nil,
		nil, []string{"miracle cure"},
	)
	assert.Equal(t, []string{"amnesia"}, banned)
	assert.Equal(t, []string{"miracle cure"}, lifted)

	// a higher tier re-banning wins over the lower lift
	banned, lifted = FoldForbidden(banned, lifted, []string{"miracle cure"}, nil)
	assert.Equal(t, []string{"amnesia", "miracle cure"}, banned)
	assert.Empty(t, lifted)
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := sample()
	layer := Layer{"pacing_profile.beats_per_minute.target": 4.5, FieldLifted: []string{"deus ex machina"}}

	out := Apply(base, layer)
	assert.Equal(t, 4.5, out.PacingProfile.BeatsPerMinute.Target)
	assert.Empty(t, out.ForbiddenMoves.Banned)
	assert.Equal(t, []string{"deus ex machina"}, out.ForbiddenMoves.Lifted)

	if diff := cmp.Diff(sample(), base); diff != "" {
		t.Fatalf("base mutated (-want +got):\n%s", diff)
	}
}

func TestDiff(t *testing.T) {
	a := sample()
	b := a.Clone()
	b.Budgets.Twists = 3
	b.TextureRules.Realism = "grounded"

	assert.Equal(t, []string{"budgets.twists", "texture_rules.realism"}, Diff(a, b))
	assert.Empty(t, Diff(a, a.Clone()))
}

func TestForbiddenDelta(t *testing.T) {
	before := sample()
	before.ForbiddenMoves.Banned = []string{"deus ex machina", "miracle cure"}

	t.Run("removing from banned records a lift", func(t *testing.T) {
		after := before.Clone()
		after.ForbiddenMoves.Banned = []string{"deus ex machina"}
		bans, lifts := ForbiddenDelta(before, after)
		assert.Empty(t, bans)
		assert.Equal(t, []string{"miracle cure"}, lifts)
	})

	t.Run("adding to lifted records a lift", func(t *testing.T) {
		after := before.Clone()
		after.ForbiddenMoves.Lifted = []string{"miracle cure"}
		_, lifts := ForbiddenDelta(before, after)
		assert.Equal(t, []string{"miracle cure"}, lifts)
	})

	t.Run("adding to banned records a ban", func(t *testing.T) {
		after := before.Clone()
		after.ForbiddenMoves.Banned = append(after.ForbiddenMoves.Banned, "evil twin")
		bans, lifts := ForbiddenDelta(before, after)
		assert.Equal(t, []string{"evil twin"}, bans)
		assert.Empty(t, lifts)
	})

	t.Run("dropping a lift restores the ban", func(t *testing.T) {
		lifted := before.Clone()
		lifted.ForbiddenMoves.Banned = []string{"deus ex machina"}
		lifted.ForbiddenMoves.Lifted = []string{"miracle cure"}
		after := lifted.Clone()
		after.ForbiddenMoves.Lifted = []string{}
		bans, lifts := ForbiddenDelta(lifted, after)
		assert.Equal(t, []string{"miracle cure"}, bans)
		assert.Empty(t, lifts)
	})
}

func TestSummaryDeterministic(t *testing.T) {
	r := sample()
	s1 := Summary(r)
	s2 := Summary(r.Clone())
	assert.Equal(t, s1, s2)
	assert.Contains(t, s1, "pacing: 3.0-5.0 beats/min (target 4.0)")
	assert.Contains(t, s1, "forbidden: deus ex machina")
	assert.Equal(t, 7, len(strings.Split(s1, "\n")))
}

func TestHashStable(t *testing.T) {
	h1, err := Hash(sample())
	require.NoError(t, err)
	h2, err := Hash(sample())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, "sha256:"))

	other := sample()
	other.Budgets.Subplots = 2
	h3, _ := Hash(other)
	assert.NotEqual(t, h1, h3)
}

func TestKnobGroupOf(t *testing.T) {
	g, ok := KnobGroupOf("pacing_profile.beats_per_minute.target")
	require.True(t, ok)
	assert.Equal(t, "pacing_profile.beats_per_minute", g)

	_, ok = KnobGroupOf("pacing_profile.cold_open_seconds")
	assert.False(t, ok)
}
