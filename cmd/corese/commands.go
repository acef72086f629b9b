package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"corese/pkg/config"
	"corese/pkg/ledger"
	"corese/pkg/logx"
	"corese/pkg/metrics"
	"corese/pkg/pathfind"
	"corese/pkg/persistence"
	"corese/pkg/rules"
	"corese/pkg/version"
	"corese/pkg/webapi"
)

// engine bundles the wired components a command needs.
type engine struct {
	cfg     *config.Config
	store   *persistence.Store
	events  *ledger.Ledger
	rules   *rules.Engine
	paths   *pathfind.Engine
	metrics *metrics.Metrics

	close func()
}

// openEngine loads config, opens the database, and wires the core components.
func openEngine(configPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Level == "debug" {
		logx.SetDebug(true, nil)
	}

	db, err := persistence.InitializeDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := persistence.NewStore(db)
	ruleEngine := rules.NewEngine(store)
	applyRuleConfig(ruleEngine, cfg.Rules)

	m := metrics.New()
	events := ledger.New(store)
	events.SetMetrics(m)
	paths := pathfind.NewEngine(store)
	paths.SetMetrics(m)

	return &engine{
		cfg:     cfg,
		store:   store,
		events:  events,
		rules:   ruleEngine,
		paths:   paths,
		metrics: m,
		close: func() {
			// Ignore error - operation should not fail due to close error
			_ = db.Close()
		},
	}, nil
}

// applyRuleConfig reconciles the engine's enablement flags with the config:
// rules named in disabled are switched off, everything else back on.
func applyRuleConfig(e *rules.Engine, rc config.RulesConfig) {
	disabled := make(map[string]bool, len(rc.Disabled))
	for _, id := range rc.Disabled {
		disabled[id] = true
	}
	for _, id := range e.RuleIDs() {
		e.SetDisabled(id, disabled[id])
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "corese",
		Short:         "Graph and governance engine for engineering artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "corese.yaml", "path to the config file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newCheckCmd(&configPath),
		newPathCmd(&configPath),
		newStatsCmd(&configPath),
		newToolsCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the query API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := openEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.close()

			// Rule enablement follows the config file while the server runs.
			watcher, err := config.NewWatcher(*configPath, func(rc config.RulesConfig) {
				applyRuleConfig(eng.rules, rc)
			})
			if err != nil {
				return err
			}
			defer func() {
				// Ignore error - operation should not fail due to close error
				_ = watcher.Close()
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := webapi.NewServer(eng.store, eng.events, eng.rules, eng.metrics)
			return srv.Start(ctx, eng.cfg.ListenAddr())
		},
	}
}

func newCheckCmd(configPath *string) *cobra.Command {
	var projectID, domain string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run consistency rules against a project's graph",
		RunE: func(_ *cobra.Command, _ []string) error {
			eng, err := openEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.close()

			result, err := eng.rules.Run(projectID, rules.RunOptions{Domain: domain})
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			if result.Summary.BySeverity[rules.SeverityError] > 0 {
				return fmt.Errorf("%d error-severity violations", result.Summary.BySeverity[rules.SeverityError])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project ID (required)")
	cmd.Flags().StringVar(&domain, "domain", "", "restrict the run to one rule domain")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newPathCmd(configPath *string) *cobra.Command {
	var projectID string
	var maxWeight float64
	var maxDepth int

	cmd := &cobra.Command{
		Use:   "path <start-node-id> <target-node-id>",
		Short: "Find the cheapest traversal between two artifacts",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			eng, err := openEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.close()

			if maxDepth == 0 {
				maxDepth = eng.cfg.Pathfind.MaxDepth
			}
			path, err := eng.paths.FindShortestPath(projectID, args[0], args[1], pathfind.Options{
				MaxWeight: maxWeight,
				MaxDepth:  maxDepth,
			})
			if err != nil {
				return err
			}
			if path == nil {
				return printJSON(map[string]any{"found": false})
			}
			return printJSON(map[string]any{"found": true, "path": path})
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project ID (required)")
	cmd.Flags().Float64Var(&maxWeight, "max-weight", 0, "reject paths costlier than this (0 = unbounded)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "hop limit (0 = config default)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newStatsCmd(configPath *string) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print graph and ledger statistics for a project",
		RunE: func(_ *cobra.Command, _ []string) error {
			eng, err := openEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.close()

			nodeCounts, err := eng.store.CountNodesByType(projectID)
			if err != nil {
				return err
			}
			edgeCounts, err := eng.store.CountEdgesByRelationType(projectID)
			if err != nil {
				return err
			}
			eventCounts, err := eng.events.EventCounts(projectID)
			if err != nil {
				return err
			}

			return printJSON(map[string]any{
				"nodes_by_type":          nodeCounts,
				"edges_by_relation_type": edgeCounts,
				"events_by_type":         eventCounts,
			})
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project ID (required)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("corese %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func printJSON(payload any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
