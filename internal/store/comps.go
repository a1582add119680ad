package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/comps"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region save-comps
// SaveComps appends a normalized suggestion. The newest row is the active comps input.
func (s *Store) SaveComps(ctx context.Context, projectID, lane string, n comps.Normalized) (CompsRecord, error) {
	layer := n.Layer
	if layer == nil {
		layer = ruleset.Layer{}
	}
	titles := n.Titles
	if titles == nil {
		titles = []comps.Title{}
	}
	layerJSON, err := json.Marshal(layer)
	if err != nil {
		return CompsRecord{}, fmt.Errorf("marshal comps layer: %w", err)
	}
	titlesJSON, err := json.Marshal(titles)
	if err != nil {
		return CompsRecord{}, fmt.Errorf("marshal comps titles: %w", err)
	}
	notesJSON, err := json.Marshal(nonNilStrings(n.Notes))
	if err != nil {
		return CompsRecord{}, fmt.Errorf("marshal comps notes: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO comps_suggestions (project_id, lane, layer_json, titles_json, notes_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, lane, string(layerJSON), string(titlesJSON), string(notesJSON), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return CompsRecord{}, fmt.Errorf("insert comps: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return CompsRecord{}, fmt.Errorf("comps id: %w", err)
	}

	return CompsRecord{
		ID:        id,
		ProjectID: projectID,
		Lane:      lane,
		Layer:     layer.Clone(),
		Titles:    titles,
		Notes:     nonNilStrings(n.Notes),
		CreatedAt: now,
	}, nil
}

// #endregion save-comps

// #region latest-comps
// LatestComps returns the newest comps record for (project, lane).
func (s *Store) LatestComps(ctx context.Context, projectID, lane string) (CompsRecord, error) {
	rec := CompsRecord{ProjectID: projectID, Lane: lane}
	var layerJSON, titlesJSON, notesJSON, createdStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, layer_json, titles_json, notes_json, created_at FROM comps_suggestions
		 WHERE project_id = ? AND lane = ? ORDER BY id DESC LIMIT 1`, projectID, lane,
	).Scan(&rec.ID, &layerJSON, &titlesJSON, &notesJSON, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return CompsRecord{}, fmt.Errorf("comps %s/%s: %w", projectID, lane, ErrNotFound)
	}
	if err != nil {
		return CompsRecord{}, fmt.Errorf("get comps: %w", err)
	}

	// Layer.UnmarshalJSON re-validates every field against the registry.
	if err := json.Unmarshal([]byte(layerJSON), &rec.Layer); err != nil {
		return CompsRecord{}, fmt.Errorf("unmarshal comps layer: %w", err)
	}
	if err := json.Unmarshal([]byte(titlesJSON), &rec.Titles); err != nil {
		return CompsRecord{}, fmt.Errorf("unmarshal comps titles: %w", err)
	}
	if err := json.Unmarshal([]byte(notesJSON), &rec.Notes); err != nil {
		return CompsRecord{}, fmt.Errorf("unmarshal comps notes: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// #endregion latest-comps
