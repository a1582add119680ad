package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region project-overrides
// ProjectOverrides loads the project-default override layer for (project, lane).
// Rows that no longer match the field registry are an error, never silently merged.
func (s *Store) ProjectOverrides(ctx context.Context, projectID, lane string) (ruleset.Layer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_path, value_json FROM project_overrides WHERE project_id = ? AND lane = ?`,
		projectID, lane,
	)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	layer := ruleset.Layer{}
	for rows.Next() {
		var path, valueJSON string
		if err := rows.Scan(&path, &valueJSON); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(valueJSON), &v); err != nil {
			return nil, fmt.Errorf("decode override %s: %w", path, err)
		}
		if err := layer.Set(path, v); err != nil {
			return nil, fmt.Errorf("load override %s: %w", path, err)
		}
	}
	return layer, rows.Err()
}

// #endregion project-overrides

// #region save-overrides
// SaveOverrides applies one project-default edit atomically. The write is skipped
// when lock_ruleset is set. Otherwise each field is guarded by its own token: a
// field that already holds a token at least as new keeps its stored value, and
// the rest of the edit applies. SaveStale means no field was newer.
func (s *Store) SaveOverrides(ctx context.Context, w OverrideWrite) (SaveResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked int
	err = tx.QueryRowContext(ctx,
		`SELECT locked FROM project_settings WHERE project_id = ? AND lane = ?`, w.ProjectID, w.Lane,
	).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("check lock: %w", err)
	}
	if locked != 0 {
		return SaveLocked, nil
	}

	fields := w.Fields()
	fresh := make(map[string]bool, len(fields))
	for _, path := range fields {
		var last uint64
		err := tx.QueryRowContext(ctx,
			`SELECT token FROM override_tokens WHERE project_id = ? AND lane = ? AND field_path = ?`,
			w.ProjectID, w.Lane, path,
		).Scan(&last)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("read token %s: %w", path, err)
		}
		if err == nil && last >= w.Token {
			continue
		}
		fresh[path] = true
		_, err = tx.ExecContext(ctx,
			`INSERT INTO override_tokens (project_id, lane, field_path, token) VALUES (?, ?, ?, ?)
			 ON CONFLICT(project_id, lane, field_path) DO UPDATE SET token = excluded.token`,
			w.ProjectID, w.Lane, path, w.Token,
		)
		if err != nil {
			return "", fmt.Errorf("write token %s: %w", path, err)
		}
	}
	if len(fields) > 0 && len(fresh) == 0 {
		return SaveStale, nil
	}

	for _, path := range w.Reset {
		if !fresh[path] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM project_overrides WHERE project_id = ? AND lane = ? AND field_path = ?`,
			w.ProjectID, w.Lane, path,
		); err != nil {
			return "", fmt.Errorf("reset override %s: %w", path, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, path := range w.Set.Paths() {
		if !fresh[path] {
			continue
		}
		valueJSON, err := json.Marshal(w.Set[path])
		if err != nil {
			return "", fmt.Errorf("marshal override %s: %w", path, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO project_overrides (project_id, lane, field_path, value_json, user_id, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(project_id, lane, field_path) DO UPDATE SET
			   value_json = excluded.value_json, user_id = excluded.user_id, updated_at = excluded.updated_at`,
			w.ProjectID, w.Lane, path, string(valueJSON), nullIfEmpty(w.UserID), now,
		)
		if err != nil {
			return "", fmt.Errorf("upsert override %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return SaveApplied, nil
}

// #endregion save-overrides

// #region max-token
// MaxWriteToken returns the highest request token ever stored, or 0. A new
// process seeds its token counter above it so restarts never look stale.
func (s *Store) MaxWriteToken(ctx context.Context) (uint64, error) {
	var top sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(token) FROM override_tokens`).Scan(&top); err != nil {
		return 0, fmt.Errorf("max token: %w", err)
	}
	if !top.Valid {
		return 0, nil
	}
	return uint64(top.Int64), nil
}

// #endregion max-token
