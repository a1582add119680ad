package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/comps"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/logging"
)

// #region comps
// IngestComps validates an untrusted suggestion, caches it as the comps input
// for (project, lane) and republishes.
func (s *Service) IngestComps(ctx context.Context, project, laneID string, sug comps.Suggestion) (IngestResult, error) {
	unlock := s.lockTarget(project, laneID)
	defer unlock()

	if _, err := s.lanes.Lookup(laneID); err != nil {
		return IngestResult{}, err
	}
	n := comps.Normalize(sug, s.minConfidence)
	for _, note := range n.Notes {
		s.logger.Warn("comps input quarantined",
			zap.String("project", project), zap.String("lane", laneID), zap.String("note", note))
	}
	rec, err := s.store.SaveComps(ctx, project, laneID, n)
	if err != nil {
		return IngestResult{}, err
	}
	rb, err := s.rebuildLocked(ctx, RebuildRequest{
		ProjectID: project,
		Lane:      laneID,
		Trigger:   logging.TriggerComps,
		Reason:    fmt.Sprintf("comps %d: %d titles, %d fields", rec.ID, len(rec.Titles), len(rec.Layer)),
	})
	if err != nil {
		return IngestResult{Comps: rec}, err
	}
	return IngestResult{Comps: rec, Rebuild: rb}, nil
}

// RefreshComps fetches suggestions from the comps engine and ingests them.
func (s *Service) RefreshComps(ctx context.Context, req RefreshRequest) (res IngestResult, err error) {
	ctx, span := s.startSpan(ctx, "engine.RefreshComps", req.ProjectID, req.Lane)
	defer func() { endSpan(span, err) }()

	if s.comps == nil {
		return IngestResult{}, ErrNoCompsEngine
	}
	if _, err := s.lanes.Lookup(req.Lane); err != nil {
		return IngestResult{}, err
	}
	sug, err := s.comps.Suggest(ctx, comps.Query{
		ProjectID: req.ProjectID,
		Lane:      req.Lane,
		Logline:   req.Logline,
		Seeds:     req.Seeds,
		Limit:     req.Limit,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("refresh comps: %w", err)
	}
	span.SetAttributes(attribute.Int("titles", len(sug.Titles)))
	return s.IngestComps(ctx, req.ProjectID, req.Lane, sug)
}

// #endregion comps
