package scope

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/store"
)

// #region status
// Status is the state of a write target or the outcome of one write.
//
// Targets move idle -> writing -> {committed | failed}. A single write may also end
// discarded (a newer token already settled) or locked (lock_ruleset was set); neither
// is an error and neither touches stored overrides.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWriting   Status = "writing"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded"
	StatusLocked    Status = "locked"
)

// #endregion status

// #region errors
var (
	ErrMissingSession = errors.New("run scope write needs a session id")
	ErrClosed         = errors.New("coordinator closed")
)

// #endregion errors

// #region request
// TargetKey names one logical write target, e.g. the pacing knobs of a project lane.
// It scopes the in-flight state; stale writes are detected per field.
type TargetKey struct {
	ProjectID string
	Lane      string
	Target    string
}

// Request is one override write. Set holds final values for the scope layer;
// Reset removes overrides at that scope.
type Request struct {
	ProjectID string
	Lane      string
	Target    string
	UserID    string
	SessionID string
	Scope     ruleset.Scope
	Set       ruleset.Layer
	Reset     []string
}

// fields lists every field path r sets or resets.
func (r Request) fields() []string {
	return store.OverrideWrite{Set: r.Set, Reset: r.Reset}.Fields()
}

// Key returns the write target of r.
func (r Request) Key() TargetKey {
	return TargetKey{ProjectID: r.ProjectID, Lane: r.Lane, Target: r.Target}
}

// Outcome is the terminal result of one write.
type Outcome struct {
	Token  uint64
	Scope  ruleset.Scope
	Status Status
	Err    error
}

// TargetState is the coordinator's view of one target.
type TargetState struct {
	Status  Status
	Latest  uint64 // newest token issued
	Settled uint64 // newest token that reached a terminal status
}

// #endregion request

// #region persister
// Persister is the durable write path for project-default overrides.
// *store.Store satisfies it.
type Persister interface {
	SaveOverrides(ctx context.Context, w store.OverrideWrite) (store.SaveResult, error)
}

// CommitHook runs after a project-default write is applied and before its
// ticket settles.
type CommitHook func(ctx context.Context, req Request)

// #endregion persister
