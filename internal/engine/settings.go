package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/logging"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/store"
)

// #region settings
// Settings returns the per (project, lane) switches.
func (s *Service) Settings(ctx context.Context, project, laneID string) (store.Settings, error) {
	if _, err := s.lanes.Lookup(laneID); err != nil {
		return store.Settings{}, err
	}
	return s.store.GetSettings(ctx, project, laneID)
}

// SetLock sets lock_ruleset. While locked, project-default writes settle as
// locked and change nothing; run-scope writes are unaffected.
func (s *Service) SetLock(ctx context.Context, project, laneID string, locked bool) (store.Settings, error) {
	unlock := s.lockTarget(project, laneID)
	defer unlock()

	st, err := s.Settings(ctx, project, laneID)
	if err != nil {
		return store.Settings{}, err
	}
	st.Locked = locked
	st.UpdatedAt = s.now()
	if err := s.store.SaveSettings(ctx, st); err != nil {
		return store.Settings{}, err
	}
	s.logger.Info("ruleset lock changed",
		zap.String("project", project), zap.String("lane", laneID), zap.Bool("locked", locked))
	return st, nil
}

// SetStrategy selects how conflicted overrides resolve and republishes.
func (s *Service) SetStrategy(ctx context.Context, project, laneID string, strategy resolve.Strategy) (RebuildResult, error) {
	if _, err := resolve.ParseStrategy(string(strategy)); err != nil {
		return RebuildResult{}, err
	}
	return s.updateSettings(ctx, project, laneID, "strategy "+string(strategy), func(st *store.Settings) error {
		st.Strategy = strategy
		return nil
	})
}

// SelectPreset selects a lane preset, or clears it with "", and republishes.
func (s *Service) SelectPreset(ctx context.Context, project, laneID, preset string) (RebuildResult, error) {
	return s.updateSettings(ctx, project, laneID, "preset "+orNone(preset), func(st *store.Settings) error {
		if preset != "" {
			p, err := s.lanes.Lookup(laneID)
			if err != nil {
				return err
			}
			if _, ok := p.Presets[preset]; !ok {
				return fmt.Errorf("%w %q for lane %s", ErrUnknownPreset, preset, laneID)
			}
		}
		st.Preset = preset
		return nil
	})
}

// SetBypass turns lane clamping off or on and republishes. Warnings are still
// produced while bypassed.
func (s *Service) SetBypass(ctx context.Context, project, laneID string, bypass bool) (RebuildResult, error) {
	return s.updateSettings(ctx, project, laneID, fmt.Sprintf("bypass %t", bypass), func(st *store.Settings) error {
		st.Bypass = bypass
		return nil
	})
}

func (s *Service) updateSettings(ctx context.Context, project, laneID, reason string, mutate func(*store.Settings) error) (RebuildResult, error) {
	unlock := s.lockTarget(project, laneID)
	defer unlock()

	st, err := s.Settings(ctx, project, laneID)
	if err != nil {
		return RebuildResult{}, err
	}
	if err := mutate(&st); err != nil {
		return RebuildResult{}, err
	}
	st.UpdatedAt = s.now()
	if err := s.store.SaveSettings(ctx, st); err != nil {
		return RebuildResult{}, err
	}
	return s.rebuildLocked(ctx, RebuildRequest{
		ProjectID: project,
		Lane:      laneID,
		Trigger:   logging.TriggerSettings,
		Reason:    reason,
	})
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// #endregion settings
