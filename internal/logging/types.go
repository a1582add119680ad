package logging

import "time"

// #region decisions
const (
	DecisionCommit = "commit"
	DecisionNoOp   = "no_op"
)

// Trigger types recorded with each resolution.
const (
	TriggerRebuild  = "rebuild"
	TriggerWrite    = "write"
	TriggerComps    = "comps"
	TriggerSettings = "settings"
)

// #endregion decisions

// #region resolution-entry
// ResolutionEntry is a single row in the resolution_log table.
// InputsJSON is the full resolve.Input snapshot, enough to replay the resolution.
type ResolutionEntry struct {
	ID          int64
	ProfileID   string
	ProjectID   string
	Lane        string
	TriggerType string
	InputsJSON  string
	InputsHash  string
	RulesHash   string
	Decision    string // "commit" | "no_op"
	Reason      string
	CreatedAt   time.Time
}

// #endregion resolution-entry
