package scope

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/logging"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/store"
)

// #region ticket
// Ticket tracks one submitted write. Submit never blocks on I/O; callers that
// need the result wait on the ticket.
type Ticket struct {
	Token uint64
	Key   TargetKey
	Scope ruleset.Scope

	done    chan struct{}
	outcome Outcome
}

// Done is closed once the write reaches a terminal status.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the write settles or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (t *Ticket) settle(o Outcome) {
	t.outcome = o
	close(t.done)
}

// #endregion ticket

// #region coordinator
// Options configures a Coordinator.
type Options struct {
	WriteTimeout time.Duration // bound on one durable write; zero means none
	FirstToken   uint64        // first token issued; seed above any stored token
	OnCommit     CommitHook
	Logger       *zap.Logger
}

// Coordinator routes override writes to the run or project-default scope and keeps
// the newest request per target authoritative, whatever order responses arrive in.
type Coordinator struct {
	persist  Persister
	sessions *SessionStore
	timeout  time.Duration
	onCommit CommitHook
	logger   *zap.Logger

	mu      sync.Mutex
	next    uint64
	targets map[TargetKey]*TargetState
	closed  bool
	wg      sync.WaitGroup
}

// NewCoordinator creates a Coordinator writing project defaults through p.
func NewCoordinator(p Persister, opts Options) *Coordinator {
	next := opts.FirstToken
	if next == 0 {
		next = 1
	}
	return &Coordinator{
		persist:  p,
		sessions: NewSessionStore(),
		timeout:  opts.WriteTimeout,
		onCommit: opts.OnCommit,
		logger:   logging.OrNop(opts.Logger).Named("scope"),
		next:     next,
		targets:  make(map[TargetKey]*TargetState),
	}
}

// Sessions exposes the run-scope store.
func (c *Coordinator) Sessions() *SessionStore {
	return c.sessions
}

// State returns the current state of a target. Unknown targets are idle.
func (c *Coordinator) State(key TargetKey) TargetState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.targets[key]; ok {
		return *st
	}
	return TargetState{Status: StatusIdle}
}

// Close stops accepting writes and waits for in-flight ones to settle.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

// #endregion coordinator

// #region submit
// Submit issues a token for req and starts the write. Run-scope writes settle
// before Submit returns; project-default writes settle in the background.
// The write outlives ctx cancellation; only WriteTimeout bounds it.
func (c *Coordinator) Submit(ctx context.Context, req Request) (*Ticket, error) {
	switch req.Scope {
	case ruleset.ScopeRun:
		if req.SessionID == "" {
			return nil, ErrMissingSession
		}
	case ruleset.ScopeProjectDefault:
	default:
		return nil, fmt.Errorf("submit write: unknown scope %q", req.Scope)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	token := c.next
	c.next++
	key := req.Key()
	st, ok := c.targets[key]
	if !ok {
		st = &TargetState{}
		c.targets[key] = st
	}
	st.Latest = token
	st.Status = StatusWriting
	if req.Scope == ruleset.ScopeProjectDefault {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	t := &Ticket{Token: token, Key: key, Scope: req.Scope, done: make(chan struct{})}

	if req.Scope == ruleset.ScopeRun {
		c.finish(t, Outcome{Token: token, Scope: req.Scope, Status: c.sessions.Apply(req, token)})
		return t, nil
	}

	go func() {
		defer c.wg.Done()
		o := c.persistProject(context.WithoutCancel(ctx), req, token)
		// the hook runs before the ticket settles so waiters see its effects
		if o.Status == StatusCommitted && c.onCommit != nil {
			c.onCommit(context.WithoutCancel(ctx), req)
		}
		c.finish(t, o)
	}()
	return t, nil
}

func (c *Coordinator) persistProject(ctx context.Context, req Request, token uint64) Outcome {
	out := Outcome{Token: token, Scope: req.Scope}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := c.persist.SaveOverrides(ctx, store.OverrideWrite{
		ProjectID: req.ProjectID,
		Lane:      req.Lane,
		Token:     token,
		UserID:    req.UserID,
		Set:       req.Set,
		Reset:     req.Reset,
	})
	if err != nil {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("persist overrides: %w", err)
		return out
	}
	switch res {
	case store.SaveApplied:
		out.Status = StatusCommitted
	case store.SaveStale:
		out.Status = StatusDiscarded
	case store.SaveLocked:
		out.Status = StatusLocked
	default:
		out.Status = StatusFailed
		out.Err = fmt.Errorf("persist overrides: unexpected result %q", res)
	}
	return out
}

// finish settles the ticket. Only the newest token of a target may move the
// target out of writing; older tokens settle their own ticket and nothing else.
func (c *Coordinator) finish(t *Ticket, o Outcome) {
	c.mu.Lock()
	st := c.targets[t.Key]
	if t.Token == st.Latest {
		st.Settled = t.Token
		switch o.Status {
		case StatusCommitted, StatusFailed:
			st.Status = o.Status
		default:
			// discarded and locked writes leave stored overrides as they were
			st.Status = StatusIdle
		}
	} else if o.Status != StatusFailed {
		c.logger.Debug("superseded write settled",
			zap.String("project", t.Key.ProjectID),
			zap.String("lane", t.Key.Lane),
			zap.String("target", t.Key.Target),
			zap.Uint64("token", t.Token),
			zap.Uint64("latest", st.Latest),
			zap.String("status", string(o.Status)))
	}
	c.mu.Unlock()

	if o.Err != nil {
		c.logger.Warn("override write failed",
			zap.String("project", t.Key.ProjectID),
			zap.String("lane", t.Key.Lane),
			zap.String("target", t.Key.Target),
			zap.Uint64("token", t.Token),
			zap.Error(o.Err))
	}
	t.settle(o)
}

// #endregion submit
