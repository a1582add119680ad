package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/logging"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/replay"
)

// #region session
// EndSession discards every run-scope override of a session. They are never
// promoted to project defaults.
func (s *Service) EndSession(sessionID string) int {
	n := s.coord.Sessions().End(sessionID)
	if n > 0 {
		s.logger.Info("session ended", zap.String("session", sessionID), zap.Int("layers", n))
	}
	return n
}

// #endregion session

// #region replay
// Replay re-runs every committed resolution logged for (project, lane) and checks
// that the recorded inputs still produce the recorded rules.
func (s *Service) Replay(ctx context.Context, project, laneID string) ([]replay.Result, replay.Summary, error) {
	entries, err := logging.ListResolutions(ctx, s.store.DB(), project, laneID, 0)
	if err != nil {
		return nil, replay.Summary{}, err
	}
	cases, err := replay.FromLog(entries)
	if err != nil {
		return nil, replay.Summary{}, fmt.Errorf("replay %s/%s: %w", project, laneID, err)
	}
	results := replay.Replay(cases)
	return results, replay.Summarize(results), nil
}

// ExportFixture snapshots the last committed resolutions of (project, lane) as a
// replay fixture. last <= 0 exports all of them.
func (s *Service) ExportFixture(ctx context.Context, project, laneID string, last int) (replay.Fixture, error) {
	entries, err := logging.ListResolutions(ctx, s.store.DB(), project, laneID, 0)
	if err != nil {
		return replay.Fixture{}, err
	}
	cases, err := replay.FromLog(entries)
	if err != nil {
		return replay.Fixture{}, fmt.Errorf("export %s/%s: %w", project, laneID, err)
	}
	if last > 0 && len(cases) > last {
		cases = cases[len(cases)-last:]
	}
	return replay.ExportFixture(cases, fmt.Sprintf("committed resolutions of %s/%s", project, laneID)), nil
}

// #endregion replay
