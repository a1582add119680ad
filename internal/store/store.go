package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/conflict"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS engine_profiles (
	profile_id     TEXT PRIMARY KEY,
	parent_id      TEXT,
	project_id     TEXT NOT NULL,
	lane           TEXT NOT NULL,
	rules_json     TEXT NOT NULL,
	rules_summary  TEXT NOT NULL,
	conflicts_json TEXT NOT NULL,
	warnings_json  TEXT NOT NULL,
	inputs_hash    TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES engine_profiles(profile_id)
);

CREATE INDEX IF NOT EXISTS idx_engine_profiles_target
	ON engine_profiles (project_id, lane, created_at);

CREATE TABLE IF NOT EXISTS active_profile (
	project_id  TEXT NOT NULL,
	lane        TEXT NOT NULL,
	profile_id  TEXT NOT NULL,
	PRIMARY KEY (project_id, lane),
	FOREIGN KEY (profile_id) REFERENCES engine_profiles(profile_id)
);

CREATE TABLE IF NOT EXISTS project_overrides (
	project_id  TEXT NOT NULL,
	lane        TEXT NOT NULL,
	field_path  TEXT NOT NULL,
	value_json  TEXT NOT NULL,
	user_id     TEXT,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (project_id, lane, field_path)
);

CREATE TABLE IF NOT EXISTS override_tokens (
	project_id  TEXT NOT NULL,
	lane        TEXT NOT NULL,
	field_path  TEXT NOT NULL,
	token       INTEGER NOT NULL,
	PRIMARY KEY (project_id, lane, field_path)
);

CREATE TABLE IF NOT EXISTS project_settings (
	project_id  TEXT NOT NULL,
	lane        TEXT NOT NULL,
	locked      INTEGER NOT NULL DEFAULT 0,
	strategy    TEXT NOT NULL DEFAULT 'honor_overrides',
	preset      TEXT NOT NULL DEFAULT '',
	bypass      INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (project_id, lane)
);

CREATE TABLE IF NOT EXISTS comps_suggestions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  TEXT NOT NULL,
	lane        TEXT NOT NULL,
	layer_json  TEXT NOT NULL,
	titles_json TEXT NOT NULL,
	notes_json  TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resolution_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_id   TEXT NOT NULL,
	project_id   TEXT NOT NULL,
	lane         TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	inputs_json  TEXT,
	inputs_hash  TEXT,
	rules_hash   TEXT,
	decision     TEXT NOT NULL,
	reason       TEXT,
	created_at   TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store persists engine profiles, project-default overrides and settings in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := filepath.Clean(dbPath) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region commit-profile
// CommitProfile inserts a new profile version and flips the active pointer for its
// (project, lane) in one transaction. Published profiles are never updated.
func (s *Store) CommitProfile(ctx context.Context, p resolve.EngineProfile) error {
	rulesJSON, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	conflictsJSON, err := json.Marshal(nonNilConflicts(p.Conflicts))
	if err != nil {
		return fmt.Errorf("marshal conflicts: %w", err)
	}
	warningsJSON, err := json.Marshal(nonNilStrings(p.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO engine_profiles (profile_id, parent_id, project_id, lane, rules_json, rules_summary,
		 conflicts_json, warnings_json, inputs_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullIfEmpty(p.ParentID), p.ProjectID, p.Lane, string(rulesJSON), p.RulesSummary,
		string(conflictsJSON), string(warningsJSON), p.InputsHash, p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_profile (project_id, lane, profile_id) VALUES (?, ?, ?)
		 ON CONFLICT(project_id, lane) DO UPDATE SET profile_id = excluded.profile_id`,
		p.ProjectID, p.Lane, p.ID,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion commit-profile

// #region get-current
// CurrentProfile reads the active profile for (project, lane).
func (s *Store) CurrentProfile(ctx context.Context, projectID, lane string) (resolve.EngineProfile, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_id FROM active_profile WHERE project_id = ? AND lane = ?`, projectID, lane,
	).Scan(&profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return resolve.EngineProfile{}, fmt.Errorf("active profile %s/%s: %w", projectID, lane, ErrNotFound)
	}
	if err != nil {
		return resolve.EngineProfile{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetProfile(ctx, profileID)
}

// #endregion get-current

// #region get-profile
const profileColumns = `profile_id, parent_id, project_id, lane, rules_json, rules_summary,
	conflicts_json, warnings_json, inputs_hash, created_at`

// GetProfile retrieves a specific profile version by ID.
func (s *Store) GetProfile(ctx context.Context, id string) (resolve.EngineProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM engine_profiles WHERE profile_id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return resolve.EngineProfile{}, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return resolve.EngineProfile{}, fmt.Errorf("get profile %s: %w", id, err)
	}
	return p, nil
}

// #endregion get-profile

// #region list-profiles
// ListProfiles returns the most recent profiles for (project, lane), newest first.
func (s *Store) ListProfiles(ctx context.Context, projectID, lane string, limit int) ([]resolve.EngineProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM engine_profiles
		 WHERE project_id = ? AND lane = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		projectID, lane, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []resolve.EngineProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// #endregion list-profiles

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (resolve.EngineProfile, error) {
	var p resolve.EngineProfile
	var parentID sql.NullString
	var rulesJSON, conflictsJSON, warningsJSON, createdStr string

	if err := row.Scan(&p.ID, &parentID, &p.ProjectID, &p.Lane, &rulesJSON, &p.RulesSummary,
		&conflictsJSON, &warningsJSON, &p.InputsHash, &createdStr); err != nil {
		return resolve.EngineProfile{}, err
	}
	if parentID.Valid {
		p.ParentID = parentID.String
	}
	if err := json.Unmarshal([]byte(rulesJSON), &p.Rules); err != nil {
		return resolve.EngineProfile{}, fmt.Errorf("unmarshal rules: %w", err)
	}
	p.Rules = p.Rules.Clone()
	if err := json.Unmarshal([]byte(conflictsJSON), &p.Conflicts); err != nil {
		return resolve.EngineProfile{}, fmt.Errorf("unmarshal conflicts: %w", err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &p.Warnings); err != nil {
		return resolve.EngineProfile{}, fmt.Errorf("unmarshal warnings: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return p, nil
}

// #endregion scan

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNilConflicts(c []conflict.Conflict) []conflict.Conflict {
	if c == nil {
		return []conflict.Conflict{}
	}
	return c
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
