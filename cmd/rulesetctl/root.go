package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/comps"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/config"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/engine"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/lane"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/logging"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/store"
)

var errNoProject = errors.New("--project is required")

// #region app
// app holds the flags and the services opened for one command invocation.
type app struct {
	out io.Writer
	in  io.Reader
	cfg config.Config

	dbPath    string
	lanesFile string
	compsAddr string
	logLevel  string
	logJSON   bool
	project   string
	lane      string

	logger *zap.Logger
	store  *store.Store
	comps  *comps.Client
	svc    *engine.Service
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "rulesetctl",
		Short: "Resolve, inspect and override story engine rulesets",
		Long: `rulesetctl drives the ruleset resolution engine over a local SQLite database.

Every command prints JSON to stdout. Logs go to stderr.
Flags override the STORY_ENGINE_* environment variables.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVar(&a.dbPath, "db", "", "path to the SQLite database (STORY_ENGINE_DB)")
	f.StringVar(&a.lanesFile, "lanes-file", "", "YAML lane table (STORY_ENGINE_LANES_FILE)")
	f.StringVar(&a.compsAddr, "comps-addr", "", "comps engine gRPC address (STORY_ENGINE_COMPS_ADDR)")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (STORY_ENGINE_LOG_LEVEL)")
	f.BoolVar(&a.logJSON, "log-json", false, "log JSON instead of console lines (STORY_ENGINE_LOG_JSON)")
	f.StringVarP(&a.project, "project", "p", "", "project id")
	f.StringVarP(&a.lane, "lane", "l", "", "lane id; unknown lanes fall back to the default lane")

	root.AddCommand(
		newBoundsCmd(a),
		newShowCmd(a),
		newExplainCmd(a),
		newRebuildCmd(a),
		newWriteCmd(a),
		newResetCmd(a),
		newCompsCmd(a),
		newLockCmd(a, true),
		newLockCmd(a, false),
		newStrategyCmd(a),
		newPresetCmd(a),
		newBypassCmd(a),
		newHistoryCmd(a),
		newReplayCmd(a),
		newFixtureCmd(a),
	)
	return root
}

// #endregion app

// #region lifecycle
// loadConfig reads the environment and applies explicitly set flags over it.
func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = a.dbPath
	}
	if flags.Changed("lanes-file") {
		cfg.LanesFile = a.lanesFile
	}
	if flags.Changed("comps-addr") {
		cfg.CompsAddr = a.compsAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = a.logJSON
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) open(ctx context.Context) error {
	logger, err := logging.New(a.cfg.LogLevel, a.cfg.LogJSON)
	if err != nil {
		return err
	}
	a.logger = logger

	lanes, err := a.laneTable()
	if err != nil {
		return err
	}
	st, err := store.NewStore(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	client, err := comps.NewClient(a.cfg.CompsAddr, a.cfg.CompsTimeout)
	if err != nil {
		st.Close()
		return err
	}
	a.comps = client

	svc, err := engine.New(ctx, st, engine.Options{
		Lanes:              lanes,
		Comps:              client,
		MinCompsConfidence: a.cfg.MinCompsConfidence,
		WriteTimeout:       a.cfg.WriteTimeout,
		Logger:             logger,
	})
	if err != nil {
		client.Close()
		st.Close()
		return err
	}
	a.svc = svc
	return nil
}

// laneTable loads the lane table. A configured default lane wins over the
// file's default_lane.
func (a *app) laneTable() (*lane.Table, error) {
	t := lane.BuiltinTable()
	if a.cfg.LanesFile != "" {
		var err error
		if t, err = lane.LoadFile(a.cfg.LanesFile); err != nil {
			return nil, err
		}
	}
	if a.cfg.DefaultLane == "" {
		return t, nil
	}
	return t.WithDefault(a.cfg.DefaultLane)
}

func (a *app) close() {
	if a.svc != nil {
		a.svc.Close()
	}
	if a.comps != nil {
		a.comps.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// #endregion lifecycle

// #region helpers
// run opens the engine, runs fn and prints its result as JSON.
func (a *app) run(fn func(ctx context.Context, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a.in = cmd.InOrStdin()
		if err := a.open(ctx); err != nil {
			return err
		}
		defer a.close()

		v, err := fn(ctx, args)
		if err != nil {
			return err
		}
		return a.emit(v)
	}
}

// target returns the project and the lane to act on. An unknown lane falls back
// to the table's default lane with a warning.
func (a *app) target() (string, string, error) {
	if a.project == "" {
		return "", "", errNoProject
	}
	return a.project, a.laneID(), nil
}

func (a *app) laneID() string {
	p, fellBack := a.svc.Lanes().LookupOrDefault(a.lane)
	if fellBack {
		a.logger.Warn("unknown lane, using default lane",
			zap.String("lane", a.lane), zap.String("default", p.ID))
	}
	return p.ID
}

func (a *app) emit(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// #endregion helpers
