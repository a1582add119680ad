package replay

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/logging"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region types
// Case is one recorded resolution to re-run.
type Case struct {
	ID       string
	Input    resolve.Input
	Expected Expectation
}

// Expectation lists what a replayed resolution must reproduce. Empty fields
// are not checked.
type Expectation struct {
	InputsHash string
	RulesHash  string
	Values     ruleset.Layer
	Provenance map[string]ruleset.Provenance
	Conflicts  []ruleset.Dimension
	Warnings   *int
}

// Result captures the outcome of replaying one case.
type Result struct {
	ID         string                `json:"id"`
	Action     string                `json:"action"` // "match" | "mismatch"
	Reasons    []string              `json:"reasons,omitempty"`
	InputsHash string                `json:"inputs_hash"`
	RulesHash  string                `json:"rules_hash"`
	Profile    resolve.EngineProfile `json:"profile"`
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total      int `json:"total"`
	Matches    int `json:"matches"`
	Mismatches int `json:"mismatches"`
}

// #endregion types

// #region replay
// Replay re-runs each case through Resolve and checks it against its expectation.
// Resolution is pure, so any mismatch means the inputs or the engine drifted.
func Replay(cases []Case) []Result {
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		res := resolve.Resolve(c.Input)
		r := Result{
			ID:         c.ID,
			InputsHash: res.Profile.InputsHash,
			RulesHash:  resolve.RulesHash(res.Profile.Rules),
			Profile:    res.Profile,
		}
		r.Reasons = check(c.Expected, res, r)
		r.Action = "match"
		if len(r.Reasons) > 0 {
			r.Action = "mismatch"
		}
		results = append(results, r)
	}
	return results
}

func check(exp Expectation, res resolve.Resolution, r Result) []string {
	var reasons []string
	if exp.InputsHash != "" && exp.InputsHash != r.InputsHash {
		reasons = append(reasons, fmt.Sprintf("inputs hash %s, want %s", r.InputsHash, exp.InputsHash))
	}
	if exp.RulesHash != "" && exp.RulesHash != r.RulesHash {
		reasons = append(reasons, fmt.Sprintf("rules hash %s, want %s", r.RulesHash, exp.RulesHash))
	}
	for _, path := range exp.Values.Paths() {
		f, err := ruleset.Lookup(path)
		if err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		if got := f.Get(res.Profile.Rules); !f.Equal(got, exp.Values[path]) {
			reasons = append(reasons, fmt.Sprintf("%s = %v, want %v", path, got, exp.Values[path]))
		}
	}
	if len(exp.Provenance) > 0 {
		got := make(map[string]ruleset.Provenance, len(res.Provenance))
		for _, p := range res.Provenance {
			got[p.Field] = p.Source
		}
		for _, path := range slices.Sorted(maps.Keys(exp.Provenance)) {
			if got[path] != exp.Provenance[path] {
				reasons = append(reasons, fmt.Sprintf("%s provenance %s, want %s", path, got[path], exp.Provenance[path]))
			}
		}
	}
	if exp.Conflicts != nil {
		dims := make([]ruleset.Dimension, 0, len(res.Profile.Conflicts))
		for _, c := range res.Profile.Conflicts {
			dims = append(dims, c.Dimension)
		}
		if !slices.Equal(dims, exp.Conflicts) {
			reasons = append(reasons, fmt.Sprintf("conflicts %v, want %v", dims, exp.Conflicts))
		}
	}
	if exp.Warnings != nil && len(res.Profile.Warnings) != *exp.Warnings {
		reasons = append(reasons, fmt.Sprintf("%d warnings, want %d", len(res.Profile.Warnings), *exp.Warnings))
	}
	return reasons
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Action {
		case "match":
			s.Matches++
		case "mismatch":
			s.Mismatches++
		}
	}
	return s
}

// #endregion replay

// #region from-log
// FromLog turns committed resolution_log rows into replay cases that must
// reproduce the logged inputs and rules hashes. No-op rows are skipped; they
// did not publish a profile.
func FromLog(entries []logging.ResolutionEntry) ([]Case, error) {
	var cases []Case
	for _, e := range entries {
		if e.Decision != logging.DecisionCommit {
			continue
		}
		if e.InputsJSON == "" {
			return nil, fmt.Errorf("resolution %d: no inputs snapshot", e.ID)
		}
		var in resolve.Input
		if err := json.Unmarshal([]byte(e.InputsJSON), &in); err != nil {
			return nil, fmt.Errorf("resolution %d: decode inputs: %w", e.ID, err)
		}
		cases = append(cases, Case{
			ID:    e.ProfileID,
			Input: in,
			Expected: Expectation{
				InputsHash: e.InputsHash,
				RulesHash:  e.RulesHash,
			},
		})
	}
	return cases, nil
}

// #endregion from-log
