package scope

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region fake-persister
// fakePersister mimics store.SaveOverrides: per-field token guard and lock check.
// Writes whose token is gated block until released or until ctx ends.
type fakePersister struct {
	mu     sync.Mutex
	gates  map[uint64]chan struct{}
	tokens map[string]uint64
	values map[string]any
	calls  int
	locked bool
	err    error
}

func newFake() *fakePersister {
	return &fakePersister{
		gates:  make(map[uint64]chan struct{}),
		tokens: make(map[string]uint64),
		values: make(map[string]any),
	}
}

func (f *fakePersister) block(token uint64) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[token] = ch
	return ch
}

func (f *fakePersister) value(path string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[path]
}

func (f *fakePersister) SaveOverrides(ctx context.Context, w store.OverrideWrite) (store.SaveResult, error) {
	f.mu.Lock()
	gate := f.gates[w.Token]
	f.calls++
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.locked {
		return store.SaveLocked, nil
	}
	fields := w.Fields()
	fresh := map[string]bool{}
	for _, p := range fields {
		if last, ok := f.tokens[p]; ok && last >= w.Token {
			continue
		}
		f.tokens[p] = w.Token
		fresh[p] = true
	}
	if len(fields) > 0 && len(fresh) == 0 {
		return store.SaveStale, nil
	}
	for _, p := range w.Reset {
		if fresh[p] {
			delete(f.values, p)
		}
	}
	for p, v := range w.Set {
		if fresh[p] {
			f.values[p] = v
		}
	}
	return store.SaveApplied, nil
}

// #endregion fake-persister

// #region helpers
const bpmTarget = "pacing_profile.beats_per_minute.target"

func projectWrite(value float64) Request {
	return Request{
		ProjectID: "p1",
		Lane:      "vertical_drama",
		Target:    "pacing_profile",
		UserID:    "u1",
		Scope:     ruleset.ScopeProjectDefault,
		Set:       ruleset.Layer{bpmTarget: value},
	}
}

func runWrite(session string, value float64) Request {
	r := projectWrite(value)
	r.Scope = ruleset.ScopeRun
	r.SessionID = session
	return r
}

func wait(t *testing.T, tk *Ticket) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := tk.Wait(ctx)
	require.NoError(t, err)
	return o
}

// #endregion helpers

// #region project-scope-tests
func TestLatestTokenWinsWhenEarlierWriteFinishesLast(t *testing.T) {
	f := newFake()
	c := NewCoordinator(f, Options{FirstToken: 1})
	defer c.Close()
	ctx := context.Background()

	release := f.block(1)

	t1, err := c.Submit(ctx, projectWrite(3))
	require.NoError(t, err)
	t2, err := c.Submit(ctx, projectWrite(5))
	require.NoError(t, err)
	require.Equal(t, uint64(1), t1.Token)
	require.Equal(t, uint64(2), t2.Token)

	o2 := wait(t, t2)
	assert.Equal(t, StatusCommitted, o2.Status)
	assert.Equal(t, TargetState{Status: StatusCommitted, Latest: 2, Settled: 2}, c.State(t2.Key))

	close(release)
	o1 := wait(t, t1)
	assert.Equal(t, StatusDiscarded, o1.Status)
	assert.NoError(t, o1.Err)

	assert.Equal(t, 5.0, f.value(bpmTarget))
	assert.Equal(t, TargetState{Status: StatusCommitted, Latest: 2, Settled: 2}, c.State(t2.Key))
}

func TestOlderTokenCannotClearInFlightState(t *testing.T) {
	f := newFake()
	c := NewCoordinator(f, Options{FirstToken: 1})
	defer c.Close()
	ctx := context.Background()

	release := f.block(2)
	t1, err := c.Submit(ctx, projectWrite(3))
	require.NoError(t, err)
	t2, err := c.Submit(ctx, projectWrite(5))
	require.NoError(t, err)

	assert.Equal(t, StatusCommitted, wait(t, t1).Status)
	st := c.State(t1.Key)
	assert.Equal(t, StatusWriting, st.Status)
	assert.Equal(t, uint64(2), st.Latest)
	assert.Equal(t, uint64(0), st.Settled)

	close(release)
	assert.Equal(t, StatusCommitted, wait(t, t2).Status)
	assert.Equal(t, StatusCommitted, c.State(t1.Key).Status)
	assert.Equal(t, 5.0, f.value(bpmTarget))
}

func TestTargetsAreIndependent(t *testing.T) {
	f := newFake()
	c := NewCoordinator(f, Options{FirstToken: 1})
	defer c.Close()
	ctx := context.Background()

	release := f.block(1)
	pacing, err := c.Submit(ctx, projectWrite(4))
	require.NoError(t, err)

	voice := Request{
		ProjectID: "p1", Lane: "vertical_drama", Target: "dialogue_rules",
		Scope: ruleset.ScopeProjectDefault, Set: ruleset.Layer{"dialogue_rules.style": "clipped"},
	}
	tv, err := c.Submit(ctx, voice)
	require.NoError(t, err)

	assert.Equal(t, StatusCommitted, wait(t, tv).Status)
	assert.Equal(t, StatusWriting, c.State(pacing.Key).Status)

	close(release)
	assert.Equal(t, StatusCommitted, wait(t, pacing).Status)
	assert.Equal(t, 4.0, f.value(bpmTarget))
	assert.Equal(t, "clipped", f.value("dialogue_rules.style"))
}

func TestMixedBatchOutranksOlderGroupWrite(t *testing.T) {
	f := newFake()
	c := NewCoordinator(f, Options{FirstToken: 1})
	defer c.Close()
	ctx := context.Background()

	release := f.block(1)
	older, err := c.Submit(ctx, projectWrite(3))
	require.NoError(t, err)

	mixed := projectWrite(5)
	mixed.Target = "ruleset"
	mixed.Set = ruleset.Layer{bpmTarget: 5.0, "budgets.twists": 3.0}
	newer, err := c.Submit(ctx, mixed)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, wait(t, newer).Status)

	close(release)
	assert.Equal(t, StatusDiscarded, wait(t, older).Status)
	assert.Equal(t, 5.0, f.value(bpmTarget))
	assert.Equal(t, 3.0, f.value("budgets.twists"))
}

func TestLockedWriteIsNoOp(t *testing.T) {
	f := newFake()
	f.locked = true
	var hooks int
	c := NewCoordinator(f, Options{OnCommit: func(context.Context, Request) { hooks++ }})
	defer c.Close()

	tk, err := c.Submit(context.Background(), projectWrite(3))
	require.NoError(t, err)
	o := wait(t, tk)
	assert.Equal(t, StatusLocked, o.Status)
	assert.NoError(t, o.Err)
	assert.Nil(t, f.value(bpmTarget))
	assert.Equal(t, StatusIdle, c.State(tk.Key).Status)

	c.Close()
	assert.Zero(t, hooks)
}

func TestFailedWriteKeepsPreviousValue(t *testing.T) {
	f := newFake()
	c := NewCoordinator(f, Options{})
	defer c.Close()
	ctx := context.Background()

	tk, err := c.Submit(ctx, projectWrite(3))
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, wait(t, tk).Status)

	f.mu.Lock()
	f.err = errors.New("disk full")
	f.mu.Unlock()

	tk, err = c.Submit(ctx, projectWrite(5))
	require.NoError(t, err)
	o := wait(t, tk)
	assert.Equal(t, StatusFailed, o.Status)
	assert.ErrorContains(t, o.Err, "disk full")
	assert.Equal(t, StatusFailed, c.State(tk.Key).Status)
	assert.Equal(t, 3.0, f.value(bpmTarget))
}

func TestWriteTimeoutFails(t *testing.T) {
	f := newFake()
	c := NewCoordinator(f, Options{FirstToken: 1, WriteTimeout: 20 * time.Millisecond})
	defer c.Close()

	f.block(1)
	tk, err := c.Submit(context.Background(), projectWrite(3))
	require.NoError(t, err)

	o := wait(t, tk)
	assert.Equal(t, StatusFailed, o.Status)
	assert.True(t, errors.Is(o.Err, context.DeadlineExceeded))
	assert.Nil(t, f.value(bpmTarget))
}

func TestCallerCancellationDoesNotAbortWrite(t *testing.T) {
	f := newFake()
	c := NewCoordinator(f, Options{FirstToken: 1})
	defer c.Close()

	release := f.block(1)
	ctx, cancel := context.WithCancel(context.Background())
	tk, err := c.Submit(ctx, projectWrite(3))
	require.NoError(t, err)
	cancel()

	_, err = tk.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Equal(t, StatusCommitted, wait(t, tk).Status)
	assert.Equal(t, 3.0, f.value(bpmTarget))
}

func TestCommitHookRunsForAppliedWrites(t *testing.T) {
	f := newFake()
	var mu sync.Mutex
	var seen []float64
	c := NewCoordinator(f, Options{OnCommit: func(_ context.Context, req Request) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req.Set[bpmTarget].(float64))
	}})

	for _, v := range []float64{3, 4} {
		tk, err := c.Submit(context.Background(), projectWrite(v))
		require.NoError(t, err)
		wait(t, tk)
	}
	c.Close()

	assert.ElementsMatch(t, []float64{3, 4}, seen)
}

func TestConcurrentWritesNewestWins(t *testing.T) {
	f := newFake()
	c := NewCoordinator(f, Options{FirstToken: 100})
	ctx := context.Background()

	var mu sync.Mutex
	tickets := map[*Ticket]float64{}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			tk, err := c.Submit(ctx, projectWrite(v))
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			mu.Lock()
			tickets[tk] = v
			mu.Unlock()
		}(float64(i))
	}
	wg.Wait()
	c.Close()

	var newest *Ticket
	for tk := range tickets {
		select {
		case <-tk.Done():
		default:
			t.Fatalf("ticket %d not settled after Close", tk.Token)
		}
		if newest == nil || tk.Token > newest.Token {
			newest = tk
		}
	}
	require.NotNil(t, newest)
	assert.Equal(t, tickets[newest], f.value(bpmTarget))
	assert.Equal(t, StatusCommitted, c.State(newest.Key).Status)
	assert.Equal(t, newest.Token, c.State(newest.Key).Latest)
}

// #endregion project-scope-tests

// #region run-scope-tests
func TestRunScopeNeverPersists(t *testing.T) {
	f := newFake()
	f.locked = true
	c := NewCoordinator(f, Options{})
	defer c.Close()

	tk, err := c.Submit(context.Background(), runWrite("s1", 4))
	require.NoError(t, err)

	select {
	case <-tk.Done():
	default:
		t.Fatal("run scope write should settle before Submit returns")
	}
	o := wait(t, tk)
	assert.Equal(t, StatusCommitted, o.Status)
	assert.Equal(t, ruleset.ScopeRun, o.Scope)

	assert.Equal(t, ruleset.Layer{bpmTarget: 4.0}, c.Sessions().Layer("s1", "p1", "vertical_drama"))
	assert.Nil(t, c.Sessions().Layer("s2", "p1", "vertical_drama"))
	f.mu.Lock()
	assert.Zero(t, f.calls)
	f.mu.Unlock()

	assert.Equal(t, 1, c.Sessions().End("s1"))
	assert.Nil(t, c.Sessions().Layer("s1", "p1", "vertical_drama"))
}

func TestRunScopeNeedsSession(t *testing.T) {
	c := NewCoordinator(newFake(), Options{})
	defer c.Close()

	_, err := c.Submit(context.Background(), runWrite("", 4))
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestRunScopeReset(t *testing.T) {
	c := NewCoordinator(newFake(), Options{})
	defer c.Close()
	ctx := context.Background()

	_, err := c.Submit(ctx, runWrite("s1", 4))
	require.NoError(t, err)
	req := runWrite("s1", 0)
	req.Set = ruleset.Layer{"budgets.twists": 2.0}
	req.Reset = []string{bpmTarget}
	_, err = c.Submit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, ruleset.Layer{"budgets.twists": 2.0}, c.Sessions().Layer("s1", "p1", "vertical_drama"))
}

func TestSessionStoreDiscardsStaleToken(t *testing.T) {
	s := NewSessionStore()
	assert.Equal(t, StatusCommitted, s.Apply(runWrite("s1", 5), 2))
	assert.Equal(t, StatusDiscarded, s.Apply(runWrite("s1", 3), 1))
	assert.Equal(t, ruleset.Layer{bpmTarget: 5.0}, s.Layer("s1", "p1", "vertical_drama"))
}

func TestSessionStoreGuardsEachField(t *testing.T) {
	s := NewSessionStore()
	mixed := runWrite("s1", 5)
	mixed.Target = "ruleset"
	mixed.Set = ruleset.Layer{bpmTarget: 5.0, "budgets.twists": 3.0}
	assert.Equal(t, StatusCommitted, s.Apply(mixed, 2))

	assert.Equal(t, StatusDiscarded, s.Apply(runWrite("s1", 3), 1))

	partial := runWrite("s1", 3)
	partial.Set = ruleset.Layer{bpmTarget: 3.0, "budgets.subplots": 2.0}
	assert.Equal(t, StatusCommitted, s.Apply(partial, 1))

	assert.Equal(t, ruleset.Layer{bpmTarget: 5.0, "budgets.twists": 3.0, "budgets.subplots": 2.0},
		s.Layer("s1", "p1", "vertical_drama"))
}

func TestSessionLayerIsACopy(t *testing.T) {
	s := NewSessionStore()
	req := runWrite("s1", 5)
	req.Set = ruleset.Layer{ruleset.FieldLifted: []string{"miracle cure"}}
	s.Apply(req, 1)

	l := s.Layer("s1", "p1", "vertical_drama")
	l[ruleset.FieldLifted].([]string)[0] = "changed"
	req.Set[ruleset.FieldLifted].([]string)[0] = "changed too"

	assert.Equal(t, []string{"miracle cure"}, s.Layer("s1", "p1", "vertical_drama")[ruleset.FieldLifted])
}

// #endregion run-scope-tests

// #region submit-errors
func TestSubmitRejectsUnknownScope(t *testing.T) {
	c := NewCoordinator(newFake(), Options{})
	defer c.Close()

	req := projectWrite(3)
	req.Scope = "global"
	_, err := c.Submit(context.Background(), req)
	assert.ErrorContains(t, err, `unknown scope "global"`)
}

func TestSubmitAfterClose(t *testing.T) {
	c := NewCoordinator(newFake(), Options{})
	c.Close()

	_, err := c.Submit(context.Background(), projectWrite(3))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUnknownTargetIsIdle(t *testing.T) {
	c := NewCoordinator(newFake(), Options{})
	defer c.Close()
	assert.Equal(t, TargetState{Status: StatusIdle}, c.State(TargetKey{ProjectID: "p", Lane: "l", Target: "x"}))
}

// #endregion submit-errors

func TestCommitHookRunsBeforeTicketSettles(t *testing.T) {
	f := newFake()
	hookDone := make(chan struct{})
	c := NewCoordinator(f, Options{OnCommit: func(context.Context, Request) { close(hookDone) }})
	defer c.Close()

	tk, err := c.Submit(context.Background(), projectWrite(3))
	require.NoError(t, err)
	wait(t, tk)

	select {
	case <-hookDone:
	default:
		t.Fatal("ticket settled before the commit hook ran")
	}
}
