package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/comps"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/engine"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/patch"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/replay"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region read-commands
func newBoundsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bounds",
		Short: "Print the clamp bounds of every numeric field of a lane",
		Args:  cobra.NoArgs,
		RunE: a.run(func(_ context.Context, _ []string) (any, error) {
			return a.svc.Bounds(a.laneID())
		}),
	}
}

func newShowCmd(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active profile, or the effective ruleset of a session",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			if session != "" {
				res, err := a.svc.Effective(ctx, project, laneID, session)
				if err != nil {
					return nil, err
				}
				return res.Profile, nil
			}
			return a.svc.Current(ctx, project, laneID)
		}),
	}
	cmd.Flags().StringVar(&session, "session", "", "include the run-scope overrides of this session")
	return cmd
}

func newExplainCmd(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print where every resolved field came from",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			return a.svc.Explain(ctx, project, laneID, session)
		}),
	}
	cmd.Flags().StringVar(&session, "session", "", "include the run-scope overrides of this session")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List published profiles, newest first",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			return a.svc.History(ctx, project, laneID, limit)
		}),
	}
	cmd.Flags().IntVar(&limit, "last", 20, "show N most recent profiles")
	return cmd
}

// #endregion read-commands

// #region rebuild-commands
func newRebuildCmd(a *app) *cobra.Command {
	var force bool
	var reason string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Resolve the stored inputs and publish a profile if they changed",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			return a.svc.Rebuild(ctx, engine.RebuildRequest{
				ProjectID: project,
				Lane:      laneID,
				Force:     force,
				Reason:    reason,
			})
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "publish even when the inputs are unchanged")
	cmd.Flags().StringVar(&reason, "reason", "manual rebuild", "reason recorded in the resolution log")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var fixturePath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run logged resolutions, or a fixture, and check they reproduce the same rules",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			var results []replay.Result
			var sum replay.Summary
			if fixturePath != "" {
				f, err := replay.LoadFixture(fixturePath)
				if err != nil {
					return nil, err
				}
				cases, err := f.ToCases(a.svc.Lanes())
				if err != nil {
					return nil, err
				}
				results = replay.Replay(cases)
				sum = replay.Summarize(results)
			} else {
				project, laneID, err := a.target()
				if err != nil {
					return nil, err
				}
				results, sum, err = a.svc.Replay(ctx, project, laneID)
				if err != nil {
					return nil, err
				}
			}
			out := replayOutput{Results: results, Summary: sum}
			if sum.Mismatches > 0 {
				if err := a.emit(out); err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("replay: %d of %d resolutions mismatched", sum.Mismatches, sum.Total)
			}
			return out, nil
		}),
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "replay a fixture file instead of the resolution log")
	return cmd
}

func newFixtureCmd(a *app) *cobra.Command {
	var last int
	var outPath string
	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Export the last committed resolutions as a replay fixture",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			f, err := a.svc.ExportFixture(ctx, project, laneID, last)
			if err != nil {
				return nil, err
			}
			if outPath == "" {
				return f, nil
			}
			data, err := json.MarshalIndent(f, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("marshal fixture: %w", err)
			}
			if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
				return nil, fmt.Errorf("write fixture: %w", err)
			}
			return map[string]any{"path": outPath, "cases": len(f.Cases)}, nil
		}),
	}
	cmd.Flags().IntVar(&last, "last", 4, "number of most recent committed resolutions to export")
	cmd.Flags().StringVar(&outPath, "out", "", "output fixture path; stdout when empty")
	return cmd
}

type replayOutput struct {
	Results []replay.Result `json:"results"`
	Summary replay.Summary  `json:"summary"`
}

// #endregion rebuild-commands

// #region write-commands
type writeFlags struct {
	scope   string
	session string
	user    string
}

func (w *writeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.scope, "scope", string(ruleset.ScopeProjectDefault), "run or project_default")
	cmd.Flags().StringVar(&w.session, "session", "", "session id, required for run scope")
	cmd.Flags().StringVar(&w.user, "user", "", "user recorded on project-default overrides")
}

func (w *writeFlags) request(project, laneID string) (engine.WriteRequest, error) {
	sc, err := ruleset.ParseScope(w.scope)
	if err != nil {
		return engine.WriteRequest{}, err
	}
	return engine.WriteRequest{
		ProjectID: project,
		Lane:      laneID,
		UserID:    w.user,
		SessionID: w.session,
		Scope:     sc,
	}, nil
}

func newWriteCmd(a *app) *cobra.Command {
	var wf writeFlags
	var patchArg string
	var reset []string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Apply a JSON patch batch as overrides and wait for it to settle",
		Long: `Apply a JSON patch batch as overrides and wait for it to settle.

The batch is a JSON array of {"op":"replace","path":"/budgets/twists","value":3}.
Pass it inline with --patch, or --patch - to read it from stdin.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			req, err := wf.request(project, laneID)
			if err != nil {
				return nil, err
			}
			if patchArg != "" {
				r := io.Reader(strings.NewReader(patchArg))
				if patchArg == "-" {
					r = a.in
				}
				req.Patches, err = patch.Decode(r)
				if err != nil {
					return nil, err
				}
			}
			req.Reset = reset
			return a.svc.WriteAndWait(ctx, req)
		}),
	}
	wf.register(cmd)
	cmd.Flags().StringVar(&patchArg, "patch", "", "JSON patch array, or - for stdin")
	cmd.Flags().StringSliceVar(&reset, "reset", nil, "field paths whose overrides are removed")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   "reset FIELD...",
		Short: "Remove overrides at a scope so lower tiers show through",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.run(func(ctx context.Context, args []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			req, err := wf.request(project, laneID)
			if err != nil {
				return nil, err
			}
			req.Reset = args
			return a.svc.WriteAndWait(ctx, req)
		}),
	}
	wf.register(cmd)
	return cmd
}

// #endregion write-commands

// #region comps-commands
func newCompsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comps",
		Short: "Feed comparable-title suggestions into resolution",
	}

	var file string
	ingest := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a suggestion document ({titles, values}) from a file or stdin",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			sug, err := readSuggestion(a.in, file)
			if err != nil {
				return nil, err
			}
			return a.svc.IngestComps(ctx, project, laneID, sug)
		}),
	}
	ingest.Flags().StringVar(&file, "file", "-", "suggestion JSON file, or - for stdin")

	var logline string
	var seeds []string
	var limit int
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Ask the comps engine for suggestions and ingest them",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			return a.svc.RefreshComps(ctx, engine.RefreshRequest{
				ProjectID: project,
				Lane:      laneID,
				Logline:   logline,
				Seeds:     seeds,
				Limit:     limit,
			})
		}),
	}
	fetch.Flags().StringVar(&logline, "logline", "", "logline sent to the comps engine")
	fetch.Flags().StringSliceVar(&seeds, "seed", nil, "seed titles")
	fetch.Flags().IntVar(&limit, "limit", 10, "maximum titles to request")

	cmd.AddCommand(ingest, fetch)
	return cmd
}

func readSuggestion(stdin io.Reader, path string) (comps.Suggestion, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return comps.Suggestion{}, fmt.Errorf("read suggestion: %w", err)
	}
	var sug comps.Suggestion
	if err := json.Unmarshal(data, &sug); err != nil {
		return comps.Suggestion{}, fmt.Errorf("decode suggestion: %w", err)
	}
	return sug, nil
}

// #endregion comps-commands

// #region settings-commands
func newLockCmd(a *app, locked bool) *cobra.Command {
	use, short := "unlock", "Allow project-default writes again"
	if locked {
		use, short = "lock", "Reject project-default writes; run-scope writes still apply"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, _ []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			return a.svc.SetLock(ctx, project, laneID, locked)
		}),
	}
}

func newStrategyCmd(a *app) *cobra.Command {
	names := make([]string, len(resolve.Strategies))
	for i, s := range resolve.Strategies {
		names[i] = string(s)
	}
	return &cobra.Command{
		Use:       "strategy NAME",
		Short:     "Select how conflicted overrides resolve: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: a.run(func(ctx context.Context, args []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			return a.svc.SetStrategy(ctx, project, laneID, resolve.Strategy(args[0]))
		}),
	}
}

func newPresetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preset [NAME]",
		Short: "Select a lane preset; without NAME the preset is cleared",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(ctx context.Context, args []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return a.svc.SelectPreset(ctx, project, laneID, name)
		}),
	}
}

func newBypassCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bypass true|false",
		Short: "Turn lane clamping off or on; warnings are kept either way",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, args []string) (any, error) {
			project, laneID, err := a.target()
			if err != nil {
				return nil, err
			}
			on, err := strconv.ParseBool(args[0])
			if err != nil {
				return nil, fmt.Errorf("bypass: %w", err)
			}
			return a.svc.SetBypass(ctx, project, laneID, on)
		}),
	}
}

// #endregion settings-commands
