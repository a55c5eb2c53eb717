package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	tuningPath    string
	dbPath        string
	checkpointDir string
	guardrails    bool
	policyPaths   []string
	metricsAddr   string
	verbose       bool
	jsonOutput    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flysim",
		Short: "flysim - flyd fleet operations training simulator",
		Long: `flysim runs a simulated fleet of flyd workers that develop incidents over a
seven-day shift. You diagnose and remediate them; uptime, migrations and
risky actions are scored at the end.

Features:
  - Deterministic engine with seeded randomness and a virtual clock
  - Tuning files in YAML, JSON or CUE, reloaded while a game runs
  - Scripted incident drills in Starlark
  - Rego guardrails on risky operator actions
  - Session history in SQLite and resumable checkpoints
  - Websocket and NATS adapters for external consoles`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&tuningPath, "tuning", "t", "", "tuning file (.yaml, .json or .cue)")
	flags.StringVar(&dbPath, "db", "", "SQLite session history database")
	flags.StringVar(&checkpointDir, "checkpoints", "", "checkpoint directory (enables --resume)")
	flags.BoolVar(&guardrails, "guardrails", false, "evaluate Rego guardrails before risky actions")
	flags.StringSliceVar(&policyPaths, "policies", nil, "extra .rego/.json policy files or directories (implies --guardrails)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDrillCommand())

	return rootCmd
}
