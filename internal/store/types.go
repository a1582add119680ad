package store

import (
	"errors"
	"slices"
	"time"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/comps"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// ErrNotFound is returned when a profile, setting row or comps record does not exist.
var ErrNotFound = errors.New("not found")

// #region settings
// Settings are per (project, lane) switches that shape resolution and writes.
type Settings struct {
	ProjectID string           `json:"project_id"`
	Lane      string           `json:"lane"`
	Locked    bool             `json:"lock_ruleset"`
	Strategy  resolve.Strategy `json:"strategy"`
	Preset    string           `json:"preset,omitempty"`
	Bypass    bool             `json:"bypass"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// DefaultSettings is what an untouched (project, lane) behaves like.
func DefaultSettings(projectID, lane string) Settings {
	return Settings{ProjectID: projectID, Lane: lane, Strategy: resolve.StrategyHonorOverrides}
}

// #endregion settings

// #region override-write
// OverrideWrite is one durable project-default edit. Set upserts field values,
// Reset removes fields. Token orders writes per (project, lane, field), so a
// batch spanning several field groups still competes with single-group writes.
type OverrideWrite struct {
	ProjectID string
	Lane      string
	Token     uint64
	UserID    string
	Set       ruleset.Layer
	Reset     []string
}

// SaveResult is the outcome of SaveOverrides.
type SaveResult string

const (
	SaveApplied SaveResult = "applied" // at least one field was written
	SaveStale   SaveResult = "stale"   // every field already holds a newer token
	SaveLocked  SaveResult = "locked"  // lock_ruleset is set for the (project, lane)
)

// Fields lists every field path w sets or resets, in registry order.
func (w OverrideWrite) Fields() []string {
	out := w.Set.Paths()
	for _, p := range w.Reset {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b string) int { return ruleset.FieldRank(a) - ruleset.FieldRank(b) })
	return out
}

// #endregion override-write

// #region comps-record
// CompsRecord is a normalized comps suggestion cached per (project, lane).
type CompsRecord struct {
	ID        int64         `json:"id"`
	ProjectID string        `json:"project_id"`
	Lane      string        `json:"lane"`
	Layer     ruleset.Layer `json:"layer"`
	Titles    []comps.Title `json:"titles"`
	Notes     []string      `json:"notes"`
	CreatedAt time.Time     `json:"created_at"`
}

// #endregion comps-record
