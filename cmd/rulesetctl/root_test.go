package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/engine"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/scope"
)

const bpmPatch = `[{"op":"replace","path":"/pacing_profile/beats_per_minute/target","value":7.5}]`

// #region helpers
type ctl struct {
	t  *testing.T
	db string
}

func newCtl(t *testing.T) *ctl {
	return &ctl{t: t, db: filepath.Join(t.TempDir(), "ctl.db")}
}

func (c *ctl) exec(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--db", c.db, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c *ctl) run(args ...string) string {
	c.t.Helper()
	out, err := c.exec("", args...)
	require.NoError(c.t, err, out)
	require.True(c.t, gjson.Valid(out), "not JSON: %s", out)
	return out
}

// #endregion helpers

func TestBoundsCommand(t *testing.T) {
	c := newCtl(t)
	out := c.run("bounds", "--lane", "vertical_drama")
	target := gjson.Get(out, `pacing_profile\.beats_per_minute\.target`)
	assert.Equal(t, 2.0, target.Get("floor").Float())
	assert.Equal(t, 6.0, target.Get("ceiling").Float())
}

func TestWriteThenShow(t *testing.T) {
	c := newCtl(t)
	out := c.run("write", "-p", "p1", "-l", "vertical_drama", "--user", "u1", "--patch", bpmPatch)
	assert.Equal(t, string(scope.StatusCommitted), gjson.Get(out, "status").String())
	assert.Equal(t, 6.0, gjson.Get(out, "resolution.profile.rules.pacing_profile.beats_per_minute.target").Float())

	out = c.run("show", "-p", "p1", "-l", "vertical_drama")
	assert.Equal(t, 6.0, gjson.Get(out, "rules.pacing_profile.beats_per_minute.target").Float())
	assert.Equal(t, 6.0, gjson.Get(out, "rules.pacing_profile.beats_per_minute.max").Float())
	assert.Equal(t, int64(2), gjson.Get(out, "warnings.#").Int())

	out = c.run("explain", "-p", "p1", "-l", "vertical_drama")
	p := gjson.Get(out, `#(field=="pacing_profile.beats_per_minute.target")`)
	assert.Equal(t, "clamped", p.Get("source").String())
	assert.Equal(t, "overridden", p.Get("from").String())
	assert.Equal(t, "project_default", p.Get("scope").String())
}

func TestWritePatchFromStdin(t *testing.T) {
	c := newCtl(t)
	out, err := c.exec(`[{"op":"replace","path":"/budgets/twists","value":3}]`,
		"write", "-p", "p1", "-l", "vertical_drama", "--patch", "-")
	require.NoError(t, err)
	assert.Equal(t, 3.0, gjson.Get(out, "resolution.profile.rules.budgets.twists").Float())
}

func TestUnknownLaneFallsBackToDefault(t *testing.T) {
	c := newCtl(t)
	out := c.run("show", "-p", "p1", "-l", "radio_play")
	assert.Equal(t, lane.DefaultLaneID, gjson.Get(out, "lane").String())
}

func TestDefaultLaneOverridesLaneFile(t *testing.T) {
	lanes := filepath.Join(t.TempDir(), "lanes.yaml")
	require.NoError(t, os.WriteFile(lanes, []byte("default_lane: vertical_drama\n"), 0o644))

	c := newCtl(t)
	out := c.run("show", "--lanes-file", lanes, "-p", "p1", "-l", "radio_play")
	assert.Equal(t, "vertical_drama", gjson.Get(out, "lane").String())

	t.Setenv("STORY_ENGINE_DEFAULT_LANE", "limited_series")
	out = c.run("show", "--lanes-file", lanes, "-p", "p1", "-l", "radio_play")
	assert.Equal(t, "limited_series", gjson.Get(out, "lane").String())

	t.Setenv("STORY_ENGINE_DEFAULT_LANE", "radio_play")
	_, err := c.exec("", "show", "--lanes-file", lanes, "-p", "p1", "-l", "radio_play")
	assert.ErrorIs(t, err, lane.ErrUnknownLane)
}

func TestCommandErrors(t *testing.T) {
	c := newCtl(t)

	_, err := c.exec("", "show", "-l", "vertical_drama")
	assert.ErrorIs(t, err, errNoProject)

	_, err = c.exec("", "write", "-p", "p1", "-l", "vertical_drama", "--scope", "run", "--patch", bpmPatch)
	assert.ErrorIs(t, err, scope.ErrMissingSession)

	_, err = c.exec("", "write", "-p", "p1", "-l", "vertical_drama", "--scope", "forever", "--patch", bpmPatch)
	assert.ErrorContains(t, err, "unknown scope")

	_, err = c.exec("", "preset", "space_opera", "-p", "p1", "-l", "vertical_drama")
	assert.ErrorIs(t, err, engine.ErrUnknownPreset)

	_, err = c.exec("", "bypass", "maybe", "-p", "p1", "-l", "vertical_drama")
	assert.ErrorContains(t, err, "bypass")

	_, err = c.exec("", "show", "-p", "p1", "--log-level", "chatty")
	assert.ErrorContains(t, err, "parse log level")
}

func TestLockBlocksWrites(t *testing.T) {
	c := newCtl(t)
	out := c.run("lock", "-p", "p1", "-l", "vertical_drama")
	assert.True(t, gjson.Get(out, "lock_ruleset").Bool())

	out = c.run("write", "-p", "p1", "-l", "vertical_drama", "--patch", bpmPatch)
	assert.Equal(t, string(scope.StatusLocked), gjson.Get(out, "status").String())

	c.run("unlock", "-p", "p1", "-l", "vertical_drama")
	out = c.run("write", "-p", "p1", "-l", "vertical_drama", "--patch", bpmPatch)
	assert.Equal(t, string(scope.StatusCommitted), gjson.Get(out, "status").String())
}

func TestResetCommand(t *testing.T) {
	c := newCtl(t)
	c.run("write", "-p", "p1", "-l", "vertical_drama", "--patch", `[{"op":"replace","path":"/budgets/twists","value":3}]`)
	out := c.run("reset", "budgets.twists", "-p", "p1", "-l", "vertical_drama")
	assert.Equal(t, 2.0, gjson.Get(out, "resolution.profile.rules.budgets.twists").Float())

	_, err := c.exec("", "reset", "budgets.vibes", "-p", "p1", "-l", "vertical_drama")
	assert.ErrorContains(t, err, "unknown ruleset field")
}

func TestCompsIngestFromStdin(t *testing.T) {
	c := newCtl(t)
	out, err := c.exec(`{"titles":[{"id":"t1","title":"Night Shift","confidence":0.9}],"values":{"twist_budget":3,"vibes":"loud"}}`,
		"comps", "ingest", "-p", "p1", "-l", "vertical_drama")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.Get(out, "comps.titles.#").Int())
	assert.Equal(t, int64(1), gjson.Get(out, "comps.notes.#").Int())
	assert.True(t, gjson.Get(out, "rebuild.changed").Bool())
	assert.Equal(t, 3.0, gjson.Get(out, "rebuild.profile.rules.budgets.twists").Float())

	out = c.run("explain", "-p", "p1", "-l", "vertical_drama")
	assert.Equal(t, "suggested", gjson.Get(out, `#(field=="budgets.twists").source`).String())
}

func TestSettingsRebuildAndReplay(t *testing.T) {
	c := newCtl(t)
	c.run("write", "-p", "p1", "-l", "vertical_drama", "--patch", bpmPatch)

	out := c.run("preset", "cliffhanger_heavy", "-p", "p1", "-l", "vertical_drama")
	assert.Equal(t, 3.0, gjson.Get(out, "profile.rules.budgets.twists").Float())

	out = c.run("bypass", "true", "-p", "p1", "-l", "vertical_drama")
	assert.Equal(t, 7.5, gjson.Get(out, "profile.rules.pacing_profile.beats_per_minute.target").Float())

	out = c.run("strategy", "honor_comps", "-p", "p1", "-l", "vertical_drama")
	assert.True(t, gjson.Get(out, "changed").Bool())

	out = c.run("rebuild", "-p", "p1", "-l", "vertical_drama")
	assert.False(t, gjson.Get(out, "changed").Bool())
	out = c.run("rebuild", "--force", "-p", "p1", "-l", "vertical_drama")
	assert.True(t, gjson.Get(out, "changed").Bool())

	out = c.run("history", "--last", "3", "-p", "p1", "-l", "vertical_drama")
	assert.Equal(t, int64(3), gjson.Get(out, "#").Int())

	out = c.run("replay", "-p", "p1", "-l", "vertical_drama")
	assert.Equal(t, int64(0), gjson.Get(out, "summary.mismatches").Int())
	assert.Equal(t, int64(5), gjson.Get(out, "summary.total").Int())
}

func TestFixtureExportAndReplay(t *testing.T) {
	c := newCtl(t)
	c.run("write", "-p", "p1", "-l", "vertical_drama", "--patch", bpmPatch)
	c.run("preset", "slow_burn_romance", "-p", "p1", "-l", "vertical_drama")

	path := filepath.Join(t.TempDir(), "fixture.json")
	out := c.run("fixture", "--out", path, "-p", "p1", "-l", "vertical_drama")
	assert.Equal(t, int64(2), gjson.Get(out, "cases").Int())

	out = c.run("replay", "--fixture", path)
	assert.Equal(t, int64(2), gjson.Get(out, "summary.matches").Int())
	assert.Equal(t, "naturalistic", gjson.Get(out, "results.1.profile.rules.dialogue_rules.style").String())
}
