package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// #region log-resolution
// LogResolution writes a resolution entry to the resolution_log table.
func LogResolution(ctx context.Context, db *sql.DB, entry ResolutionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO resolution_log (profile_id, project_id, lane, trigger_type, inputs_json, inputs_hash, rules_hash, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ProfileID,
		entry.ProjectID,
		entry.Lane,
		entry.TriggerType,
		nullIfEmpty(entry.InputsJSON),
		nullIfEmpty(entry.InputsHash),
		nullIfEmpty(entry.RulesHash),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log resolution: %w", err)
	}
	return nil
}

// #endregion log-resolution

// #region list-resolutions
// ListResolutions returns logged resolutions for (project, lane) in log order,
// oldest first. limit <= 0 returns all rows.
func ListResolutions(ctx context.Context, db *sql.DB, projectID, lane string, limit int) ([]ResolutionEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, profile_id, project_id, lane, trigger_type, inputs_json, inputs_hash, rules_hash, decision, reason, created_at
		 FROM resolution_log WHERE project_id = ? AND lane = ? ORDER BY id ASC LIMIT ?`,
		projectID, lane, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	defer rows.Close()

	var out []ResolutionEntry
	for rows.Next() {
		var e ResolutionEntry
		var inputsJSON, inputsHash, rulesHash, reason sql.NullString
		var createdStr string
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.ProjectID, &e.Lane, &e.TriggerType,
			&inputsJSON, &inputsHash, &rulesHash, &e.Decision, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		e.InputsJSON = inputsJSON.String
		e.InputsHash = inputsHash.String
		e.RulesHash = rulesHash.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-resolutions

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
