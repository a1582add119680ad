package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/logging"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/scope"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/store"
)

const tracerName = "github.com/danielpatrickdp/story-engine/go-controller/internal/engine"

// #region service
type targetKey struct {
	project string
	lane    string
}

// Service is the single entry point for reading and changing rulesets. Profiles
// are only published here: resolution runs sequentially per (project, lane) and
// every durable override write goes through the scope coordinator.
type Service struct {
	lanes         *lane.Table
	store         *store.Store
	coord         *scope.Coordinator
	comps         Suggester
	minConfidence float64
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time

	mu      sync.Mutex
	targets map[targetKey]*sync.Mutex
}

// New wires a Service over st. The request token counter is seeded above every
// token already stored.
func New(ctx context.Context, st *store.Store, opts Options) (*Service, error) {
	lanes := opts.Lanes
	if lanes == nil {
		lanes = lane.BuiltinTable()
	}
	maxToken, err := st.MaxWriteToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed tokens: %w", err)
	}

	s := &Service{
		lanes:         lanes,
		store:         st,
		comps:         opts.Comps,
		minConfidence: opts.MinCompsConfidence,
		logger:        logging.OrNop(opts.Logger).Named("engine"),
		tracer:        otel.Tracer(tracerName),
		now:           func() time.Time { return time.Now().UTC() },
		targets:       make(map[targetKey]*sync.Mutex),
	}
	s.coord = scope.NewCoordinator(st, scope.Options{
		WriteTimeout: opts.WriteTimeout,
		FirstToken:   maxToken + 1,
		OnCommit:     s.afterWrite,
		Logger:       opts.Logger,
	})
	return s, nil
}

// Close waits for in-flight writes and their rebuilds. The store stays open.
func (s *Service) Close() {
	s.coord.Close()
}

// Lanes exposes the lane table the service resolves against.
func (s *Service) Lanes() *lane.Table {
	return s.lanes
}

func (s *Service) lockTarget(project, laneID string) func() {
	s.mu.Lock()
	k := targetKey{project: project, lane: laneID}
	m, ok := s.targets[k]
	if !ok {
		m = &sync.Mutex{}
		s.targets[k] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Service) startSpan(ctx context.Context, name, project, laneID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("project", project), attribute.String("lane", laneID))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// #endregion service

// #region reads
// Bounds returns the clamp bounds of every numeric field of a lane, exactly as
// ClampAndValidate enforces them.
func (s *Service) Bounds(laneID string) (map[string]lane.Bound, error) {
	p, err := s.lanes.Lookup(laneID)
	if err != nil {
		return nil, err
	}
	return p.FieldBounds(), nil
}

// Current returns the active profile, resolving one first if none was published.
func (s *Service) Current(ctx context.Context, project, laneID string) (resolve.EngineProfile, error) {
	if _, err := s.lanes.Lookup(laneID); err != nil {
		return resolve.EngineProfile{}, err
	}
	p, err := s.store.CurrentProfile(ctx, project, laneID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return resolve.EngineProfile{}, err
	}
	res, err := s.Rebuild(ctx, RebuildRequest{ProjectID: project, Lane: laneID, Trigger: logging.TriggerRebuild, Reason: "first read"})
	if err != nil {
		return resolve.EngineProfile{}, err
	}
	return res.Profile, nil
}

// Effective resolves the persisted inputs plus the run-scope overrides of session.
// Nothing is published; with an empty session it matches what Rebuild would publish.
func (s *Service) Effective(ctx context.Context, project, laneID, session string) (resolve.Resolution, error) {
	p, err := s.lanes.Lookup(laneID)
	if err != nil {
		return resolve.Resolution{}, err
	}
	in, err := s.loadInputs(ctx, project, p, session)
	if err != nil {
		return resolve.Resolution{}, err
	}
	return resolve.Resolve(in), nil
}

// Explain re-derives per-field provenance for the effective ruleset.
func (s *Service) Explain(ctx context.Context, project, laneID, session string) ([]ruleset.FieldProvenance, error) {
	res, err := s.Effective(ctx, project, laneID, session)
	if err != nil {
		return nil, err
	}
	return res.Provenance, nil
}

// History lists published profiles, newest first.
func (s *Service) History(ctx context.Context, project, laneID string, limit int) ([]resolve.EngineProfile, error) {
	if _, err := s.lanes.Lookup(laneID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListProfiles(ctx, project, laneID, limit)
}

// #endregion reads

// #region load-inputs
// loadInputs reads overrides, settings and cached comps concurrently.
func (s *Service) loadInputs(ctx context.Context, project string, p lane.Policy, session string) (resolve.Input, error) {
	var (
		overrides ruleset.Layer
		settings  store.Settings
		compsRec  store.CompsRecord
		haveComps bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		overrides, err = s.store.ProjectOverrides(gctx, project, p.ID)
		return err
	})
	g.Go(func() error {
		var err error
		settings, err = s.store.GetSettings(gctx, project, p.ID)
		return err
	})
	g.Go(func() error {
		rec, err := s.store.LatestComps(gctx, project, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		compsRec, haveComps = rec, true
		return nil
	})
	if err := g.Wait(); err != nil {
		return resolve.Input{}, fmt.Errorf("load inputs %s/%s: %w", project, p.ID, err)
	}

	in := resolve.Input{
		Lane:     p,
		Project:  overrides,
		Run:      s.coord.Sessions().Layer(session, project, p.ID),
		Bypass:   settings.Bypass,
		Strategy: settings.Strategy,
	}
	if haveComps {
		in.Comps = compsRec.Layer
	}
	if settings.Preset != "" {
		preset, ok := p.Presets[settings.Preset]
		if ok {
			in.PresetName = preset.Name
			in.Preset = preset.Values
		} else {
			s.logger.Warn("selected preset no longer exists, ignoring",
				zap.String("project", project), zap.String("lane", p.ID), zap.String("preset", settings.Preset))
		}
	}
	return in, nil
}

// #endregion load-inputs

// #region rebuild
// Rebuild resolves the persisted inputs and publishes a new profile when they
// changed since the active one.
func (s *Service) Rebuild(ctx context.Context, req RebuildRequest) (RebuildResult, error) {
	unlock := s.lockTarget(req.ProjectID, req.Lane)
	defer unlock()
	return s.rebuildLocked(ctx, req)
}

func (s *Service) rebuildLocked(ctx context.Context, req RebuildRequest) (res RebuildResult, err error) {
	ctx, span := s.startSpan(ctx, "engine.Rebuild", req.ProjectID, req.Lane,
		attribute.String("trigger", req.Trigger), attribute.Bool("force", req.Force))
	defer func() { endSpan(span, err) }()

	p, err := s.lanes.Lookup(req.Lane)
	if err != nil {
		return RebuildResult{}, err
	}
	in, err := s.loadInputs(ctx, req.ProjectID, p, "")
	if err != nil {
		return RebuildResult{}, err
	}
	resolved := resolve.Resolve(in)
	inputsJSON, err := json.Marshal(in)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("snapshot inputs: %w", err)
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = logging.TriggerRebuild
	}

	cur, err := s.store.CurrentProfile(ctx, req.ProjectID, req.Lane)
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return RebuildResult{}, err
	}

	if hasCurrent && !req.Force && cur.InputsHash == resolved.Profile.InputsHash {
		s.logResolution(ctx, logging.ResolutionEntry{
			ProfileID:   cur.ID,
			ProjectID:   req.ProjectID,
			Lane:        req.Lane,
			TriggerType: trigger,
			InputsHash:  cur.InputsHash,
			RulesHash:   resolve.RulesHash(cur.Rules),
			Decision:    logging.DecisionNoOp,
			Reason:      "inputs unchanged",
		})
		return RebuildResult{Profile: cur}, nil
	}

	prof := resolved.Profile
	prof.ID = uuid.New().String()
	prof.ProjectID = req.ProjectID
	prof.CreatedAt = s.now()
	if hasCurrent {
		prof.ParentID = cur.ID
	}
	if err := s.store.CommitProfile(ctx, prof); err != nil {
		return RebuildResult{}, fmt.Errorf("publish profile: %w", err)
	}

	s.logResolution(ctx, logging.ResolutionEntry{
		ProfileID:   prof.ID,
		ProjectID:   req.ProjectID,
		Lane:        req.Lane,
		TriggerType: trigger,
		InputsJSON:  string(inputsJSON),
		InputsHash:  prof.InputsHash,
		RulesHash:   resolve.RulesHash(prof.Rules),
		Decision:    logging.DecisionCommit,
		Reason:      req.Reason,
		CreatedAt:   prof.CreatedAt,
	})
	s.logger.Info("profile published",
		zap.String("project", req.ProjectID),
		zap.String("lane", req.Lane),
		zap.String("profile", prof.ID),
		zap.String("trigger", trigger),
		zap.Int("conflicts", len(prof.Conflicts)),
		zap.Int("warnings", len(prof.Warnings)))
	return RebuildResult{Profile: prof, Changed: true}, nil
}

// logResolution records a decision. The profile is already published, so a
// logging failure is reported but does not fail the rebuild.
func (s *Service) logResolution(ctx context.Context, e logging.ResolutionEntry) {
	if err := logging.LogResolution(ctx, s.store.DB(), e); err != nil {
		s.logger.Error("resolution log write failed", zap.String("profile", e.ProfileID), zap.Error(err))
	}
}

// #endregion rebuild
