package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/comps"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/patch"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/store"
)

// #region errors
var (
	ErrEmptyWrite    = errors.New("write carries no patches or resets")
	ErrNoCompsEngine = errors.New("no comps engine configured")
	ErrUnknownPreset = errors.New("unknown preset")
)

// #endregion errors

// #region options
// Suggester fetches comps suggestions. *comps.Client satisfies it.
type Suggester interface {
	Suggest(ctx context.Context, q comps.Query) (comps.Suggestion, error)
}

// Options configures a Service. Zero values fall back to builtin lanes, no comps
// engine, no write timeout and a no-op logger.
type Options struct {
	Lanes              *lane.Table
	Comps              Suggester
	MinCompsConfidence float64
	WriteTimeout       time.Duration
	Logger             *zap.Logger
}

// #endregion options

// #region requests
// RebuildRequest asks for a fresh resolution of the persisted inputs.
// Unless Force is set, a rebuild whose inputs hash matches the active profile
// publishes nothing.
type RebuildRequest struct {
	ProjectID string
	Lane      string
	Force     bool
	Trigger   string
	Reason    string
}

// RebuildResult is the active profile after a rebuild. Changed is false for a no-op.
type RebuildResult struct {
	Profile resolve.EngineProfile `json:"profile"`
	Changed bool                  `json:"changed"`
}

// WriteRequest is an override write: an ordered patch batch against the effective
// ruleset at Scope, plus fields to reset at that scope.
type WriteRequest struct {
	ProjectID string        `json:"project_id"`
	Lane      string        `json:"lane"`
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id,omitempty"`
	Scope     ruleset.Scope `json:"scope"`
	Patches   []patch.Patch `json:"patch"`
	Reset     []string      `json:"reset,omitempty"`
}

// RefreshRequest asks the comps engine for new suggestions.
type RefreshRequest struct {
	ProjectID string
	Lane      string
	Logline   string
	Seeds     []string
	Limit     int
}

// IngestResult is a stored comps suggestion and the rebuild it triggered.
type IngestResult struct {
	Comps   store.CompsRecord `json:"comps"`
	Rebuild RebuildResult     `json:"rebuild"`
}

// #endregion requests
