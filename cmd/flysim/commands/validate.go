package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flysim/pkg/config"
	"github.com/openfroyo/flysim/pkg/policy"
	"github.com/openfroyo/flysim/pkg/sim"
)

func newValidateCommand() *cobra.Command {
	var drillPaths []string

	cmd := &cobra.Command{
		Use:   "validate [tuning-file...]",
		Short: "Validate tuning files, drills and policies",
		Long: `Validate configuration without starting a game.

This command checks:
  - Tuning files against the #Tuning schema and field constraints
  - Drill scripts (Starlark) against the tuned calendar and fleet
  - Extra guardrail policies given with --policies (Rego compilation)
  - The built-in incident catalog

Tuning files are taken from the arguments, or from --tuning when none are
given. Every problem is reported; the command fails if any check fails.`,
		Example: `  flysim validate fast.yaml slow.cue
  flysim validate --tuning fast.yaml --drill drills/storage.star
  flysim validate --policies ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v := &validation{loader: config.NewLoader(), out: cmd.OutOrStdout()}

			files := args
			if len(files) == 0 && tuningPath != "" {
				files = []string{tuningPath}
			}
			params := sim.DefaultParams()
			for _, f := range files {
				if p, ok := v.tuning(ctx, f); ok {
					params = p
				}
			}
			for _, d := range drillPaths {
				v.drill(ctx, d, params)
			}
			if len(policyPaths) > 0 {
				v.policies(ctx, policyPaths)
			}
			v.report("incident catalog", sim.CheckCatalog())

			return v.finish()
		},
	}

	cmd.Flags().StringSliceVar(&drillPaths, "drill", nil, "drill scripts to validate")
	return cmd
}

// validation runs checks and reports each one.
type validation struct {
	loader  *config.Loader
	out     io.Writer
	results []checkResult
}

type checkResult struct {
	Target string   `json:"target"`
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

func (v *validation) tuning(ctx context.Context, path string) (sim.Params, bool) {
	t, err := v.loader.LoadTuning(ctx, path)
	v.report(path, err)
	if err != nil {
		return sim.Params{}, false
	}
	return t.Params(), true
}

func (v *validation) drill(ctx context.Context, path string, p sim.Params) {
	injections, err := v.loader.LoadDrill(ctx, path, p)
	if err == nil {
		log.Debug().Str("path", path).Int("injections", len(injections)).Msg("Drill evaluated")
	}
	v.report(path, err)
}

func (v *validation) policies(ctx context.Context, paths []string) {
	eng, err := policy.NewEngine(log.Logger)
	if err == nil {
		err = eng.LoadPolicies(ctx, paths)
	}
	target := fmt.Sprintf("policies %v", paths)
	v.report(target, err)
}

func (v *validation) report(target string, err error) {
	r := checkResult{Target: target, OK: err == nil}
	var verrs config.ValidationErrors
	switch {
	case err == nil:
	case errors.As(err, &verrs):
		for _, e := range verrs {
			r.Errors = append(r.Errors, e.String())
		}
	default:
		r.Errors = []string{err.Error()}
	}
	v.results = append(v.results, r)
}

func (v *validation) finish() error {
	failed := 0
	for _, r := range v.results {
		if !r.OK {
			failed++
		}
	}

	if jsonOutput {
		if err := writeJSON(v.out, v.results); err != nil {
			return err
		}
	} else {
		for _, r := range v.results {
			if r.OK {
				fmt.Fprintf(v.out, "ok    %s\n", r.Target)
				continue
			}
			fmt.Fprintf(v.out, "FAIL  %s\n", r.Target)
			for _, e := range r.Errors {
				fmt.Fprintf(v.out, "      %s\n", e)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(v.results))
	}
	return nil
}
