package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flysim/pkg/config"
	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
)

func newDrillCommand() *cobra.Command {
	var listTypes bool

	cmd := &cobra.Command{
		Use:   "drill [script]",
		Short: "Preview a drill schedule",
		Long: `Evaluate a Starlark drill script against the tuned calendar and fleet and
print the incidents it schedules, in firing order. With --types, list the
incident types a drill may inject instead.

Drill scripts call inject(day, tick, type, worker="") once per incident and
may read INCIDENT_TYPES, DAY_LENGTH, TOTAL_DAYS and WORKERS.`,
		Example: `  flysim drill drills/storage.star
  flysim drill --tuning fast.yaml drills/storage.star --json
  flysim drill --types`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listTypes {
				return writeIncidentTypes(cmd.OutOrStdout())
			}
			if len(args) == 0 {
				return fmt.Errorf("a drill script is required")
			}

			ctx := cmd.Context()
			loader := config.NewLoader()
			params, _, err := loader.LoadParams(ctx, tuningPath)
			if err != nil {
				return fmt.Errorf("failed to load tuning: %w", err)
			}
			injections, err := loader.LoadDrill(ctx, args[0], params)
			if err != nil {
				return err
			}
			return writeDrill(cmd.OutOrStdout(), config.Drill{Name: args[0], Injections: injections}, params)
		},
	}

	cmd.Flags().BoolVar(&listTypes, "types", false, "list the injectable incident types")
	return cmd
}

func writeDrill(w io.Writer, d config.Drill, p sim.Params) error {
	if jsonOutput {
		if d.Injections == nil {
			d.Injections = []session.Injection{}
		}
		return writeJSON(w, d)
	}

	t := newTable("DAY", "TICK", "TYPE", "WORKER", "SEVERITY", "TITLE")
	for _, in := range d.Injections {
		worker := in.WorkerID
		if worker == "" && len(p.InitialWorkers) > 0 {
			worker = p.InitialWorkers[0].ID + " (default)"
		}
		spec, _ := sim.Spec(in.Type)
		t.add(in.Day, in.TimeInDay, in.Type, worker, spec.Severity, spec.Title)
	}
	return t.write(w)
}

func writeIncidentTypes(w io.Writer) error {
	type entry struct {
		Type     sim.IncidentType `json:"type"`
		Severity sim.Severity     `json:"severity"`
		Title    string           `json:"title"`
		Drain    bool             `json:"requires_drain"`
	}
	var entries []entry
	for _, typ := range sim.IncidentTypes() {
		spec, _ := sim.Spec(typ)
		entries = append(entries, entry{Type: typ, Severity: spec.Severity, Title: spec.Title, Drain: spec.RequiresDrain})
	}
	if jsonOutput {
		return writeJSON(w, entries)
	}
	t := newTable("TYPE", "SEVERITY", "TITLE", "DRAIN")
	for _, e := range entries {
		t.add(e.Type, e.Severity, e.Title, e.Drain)
	}
	return t.write(w)
}
