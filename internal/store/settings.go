package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
)

// #region get-settings
// GetSettings reads the settings row, falling back to DefaultSettings.
func (s *Store) GetSettings(ctx context.Context, projectID, lane string) (Settings, error) {
	out := DefaultSettings(projectID, lane)
	var locked, bypass int
	var strategy, updatedStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT locked, strategy, preset, bypass, updated_at FROM project_settings
		 WHERE project_id = ? AND lane = ?`, projectID, lane,
	).Scan(&locked, &strategy, &out.Preset, &bypass, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}

	out.Locked = locked != 0
	out.Bypass = bypass != 0
	out.Strategy, err = resolve.ParseStrategy(strategy)
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return out, nil
}

// #endregion get-settings

// #region save-settings
// SaveSettings upserts the whole settings row.
func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	if st.Strategy == "" {
		st.Strategy = resolve.StrategyHonorOverrides
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_settings (project_id, lane, locked, strategy, preset, bypass, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, lane) DO UPDATE SET
		   locked = excluded.locked, strategy = excluded.strategy, preset = excluded.preset,
		   bypass = excluded.bypass, updated_at = excluded.updated_at`,
		st.ProjectID, st.Lane, boolInt(st.Locked), string(st.Strategy), st.Preset, boolInt(st.Bypass),
		st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// #endregion save-settings
