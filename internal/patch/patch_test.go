package patch

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

func baseRules(t *testing.T) ruleset.Ruleset {
	t.Helper()
	p, err := lane.BuiltinTable().Lookup("vertical_drama")
	require.NoError(t, err)
	return p.Defaults
}

func TestApplyReplacesLeaf(t *testing.T) {
	base := baseRules(t)
	out, err := Apply(base, []Patch{
		Replace("/pacing_profile/beats_per_minute/target", 5.5),
		Replace("/dialogue_rules/style", "clipped"),
	})
	require.NoError(t, err)

	assert.Equal(t, 5.5, out.PacingProfile.BeatsPerMinute.Target)
	assert.Equal(t, "clipped", out.DialogueRules.Style)
	assert.ElementsMatch(t, []string{"dialogue_rules.style", "pacing_profile.beats_per_minute.target"},
		ruleset.Diff(base, out))
}

func TestApplyInOrder(t *testing.T) {
	out, err := Apply(baseRules(t), []Patch{
		Replace("/budgets/twists", 1),
		Replace("/budgets/twists", 3),
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.Budgets.Twists)
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := baseRules(t)
	snapshot := base.Clone()

	_, err := Apply(base, []Patch{
		Replace("/forbidden_moves/banned/0", "amnesia"),
		Replace("/budgets/twists", 0),
	})
	require.NoError(t, err)
	if diff := cmp.Diff(snapshot, base); diff != "" {
		t.Fatalf("base mutated (-want +got):\n%s", diff)
	}
}

func TestApplyListAppendAndNormalize(t *testing.T) {
	out, err := Apply(baseRules(t), []Patch{
		Replace("/forbidden_moves/lifted/-", "miracle cure"),
		Replace("/forbidden_moves/banned", []string{"  zombie twin ", "amnesia", "amnesia"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"miracle cure"}, out.ForbiddenMoves.Lifted)
	assert.Equal(t, []string{"amnesia", "zombie twin"}, out.ForbiddenMoves.Banned)
}

func TestApplyWholeDocument(t *testing.T) {
	base := baseRules(t)
	replacement := base.Clone()
	replacement.Budgets.Subplots = 2
	replacement.TextureRules.Realism = "grounded"

	out, err := Apply(base, []Patch{Replace("/", replacement)})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(replacement, out))

	// a partial document would silently zero the missing leaves
	_, err = Apply(base, []Patch{Replace("/", map[string]any{"budgets": map[string]any{"twists": 1}})})
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing field")
}

func TestApplyPartialGroupFilledLater(t *testing.T) {
	base := baseRules(t)
	out, err := Apply(base, []Patch{
		Replace("/budgets", map[string]any{"twists": 3}),
		Replace("/budgets/stakes_rungs", 5),
		Replace("/budgets/subplots", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, ruleset.Budgets{Twists: 3, StakesRungs: 5, Subplots: 2}, out.Budgets)

	// leaves still missing once the batch ends are blamed on the patch that dropped them
	_, err = Apply(base, []Patch{
		Replace("/budgets", map[string]any{"twists": 3}),
		Replace("/budgets/stakes_rungs", 5),
		Replace("/texture_rules/realism", "grounded"),
	})
	var mpe *MalformedPatchError
	require.True(t, errors.As(err, &mpe))
	assert.Equal(t, 0, mpe.Index)
	assert.Equal(t, "/budgets", mpe.Path)
	assert.Contains(t, mpe.Reason, "missing field budgets.subplots")
}

func TestApplyAtomicBatch(t *testing.T) {
	base := baseRules(t)
	out, err := Apply(base, []Patch{
		Replace("/budgets/twists", 3),
		Replace("/budgets/plot_armor", 1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPatch))
	assert.Equal(t, ruleset.Ruleset{}, out)

	var mpe *MalformedPatchError
	require.True(t, errors.As(err, &mpe))
	assert.Equal(t, 1, mpe.Index)
	assert.Equal(t, "/budgets/plot_armor", mpe.Path)
	assert.Equal(t, 2.0, base.Budgets.Twists)
}

func TestApplyMatchesSequentialApplication(t *testing.T) {
	base := baseRules(t)
	batch := []Patch{
		Replace("/budgets/twists", 3),
		Replace("/texture_rules/sensory_density", 0.9),
		Replace("/antagonism_model/kind", "system"),
	}
	all, err := Apply(base, batch)
	require.NoError(t, err)

	seq := base
	for _, p := range batch {
		seq, err = Apply(seq, []Patch{p})
		require.NoError(t, err)
	}
	assert.Empty(t, cmp.Diff(seq, all))
}

func TestApplyMalformed(t *testing.T) {
	cases := []struct {
		name   string
		patch  Patch
		reason string
	}{
		{"empty path", Replace("", 1), "empty path"},
		{"relative path", Replace("budgets/twists", 1), "must start with /"},
		{"unsupported op", Patch{Op: "add", Path: "/budgets/twists", Value: 1}, "unsupported op"},
		{"missing intermediate", Replace("/budgets/extra/twists", 1), `path segment "extra" does not exist`},
		{"missing group", Replace("/plot/armor", 1), `path segment "plot" does not exist`},
		{"unknown leaf", Replace("/budgets/plot_armor", 1), "unknown field"},
		{"wrong kind", Replace("/budgets/twists", "many"), "decode ruleset"},
		{"null value", Replace("/budgets/twists", nil), "null value"},
		{"scalar parent", Replace("/budgets/twists/min", 1), "not an object or array"},
		{"index out of range", Replace("/forbidden_moves/banned/7", "x"), "out of range"},
		{"append on object", Replace("/budgets/-", 1), "append marker"},
		{"document not object", Replace("/", []string{"a"}), "needs an object"},
		{"bad segment", Replace("/budgets/twi.sts", 1), "invalid path segment"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(baseRules(t), []Patch{tc.patch})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedPatch))
			assert.ErrorContains(t, err, tc.reason)
		})
	}
}

func TestSegmentsUnescape(t *testing.T) {
	segs, err := Segments("/budgets/twists")
	require.NoError(t, err)
	assert.Equal(t, []string{"budgets", "twists"}, segs)

	segs, err = Segments("/")
	require.NoError(t, err)
	assert.Empty(t, segs)

	_, err = Segments("/a~1b")
	assert.ErrorContains(t, err, "invalid path segment")
}

func TestPointerRoundTrip(t *testing.T) {
	p := Pointer("pacing_profile.beats_per_minute.target")
	assert.Equal(t, "/pacing_profile/beats_per_minute/target", p)
	fp, err := FieldPath(p)
	require.NoError(t, err)
	assert.Equal(t, "pacing_profile.beats_per_minute.target", fp)
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "pacing_profile", Target([]Patch{
		Replace("/pacing_profile/beats_per_minute/target", 4),
		Replace("/pacing_profile/cold_open_seconds", 5),
	}))
	assert.Equal(t, "ruleset", Target([]Patch{
		Replace("/pacing_profile/cold_open_seconds", 5),
		Replace("/budgets/twists", 1),
	}))
	assert.Equal(t, "ruleset", Target([]Patch{Replace("/", map[string]any{})}))
	assert.Equal(t, "ruleset", Target(nil))
}

func TestDecode(t *testing.T) {
	patches, err := Decode(strings.NewReader(`[{"path":"/budgets/twists","value":2},{"op":"replace","path":"/dialogue_rules/style","value":"dry"}]`))
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, OpReplace, patches[0].Op)
	assert.Equal(t, 2.0, patches[0].Value)

	_, err = Decode(strings.NewReader(`[{"path":"/x","val":1}]`))
	assert.ErrorContains(t, err, "decode patches")
}
