package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

// simEpoch is the virtual start time of headless runs.
var simEpoch = time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC)

func newSimulateCommand() *cobra.Command {
	var (
		seed      uint64
		strategy  string
		reaction  int
		drillPath string
		days      int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a full game headlessly on a virtual clock",
		Long: `Run a complete game without waiting for wall-clock time. Ticks and incident
generation are scheduled on a virtual clock in the same order the live timers
would fire them, and a built-in autopilot plays the operator:

  idle      never acts
  careful   investigates, reads logs, then applies the quick fix
  reckless  forces FSM transitions and drains critical workers

The same seed, tuning, drill and strategy always produce the same game.`,
		Example: `  # Seven days with the careful autopilot
  flysim simulate --seed 42 --strategy careful

  # A two-day drill, recorded to the history database
  flysim simulate --days 2 --drill drills/storage.star --db flysim.db --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			telCfg := telemetry.TestConfig()
			telCfg.Logging.Output = "stderr"
			telCfg.Logging.Level = "warn"
			rt, err := newRuntime(ctx, telCfg)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if days > 0 {
				rt.params.TotalDays = days
			}
			pilot, err := newAutopilot(strategy, reaction)
			if err != nil {
				return err
			}
			drill, err := rt.loadDrill(ctx, drillPath)
			if err != nil {
				return err
			}
			opts, err := rt.sessionOptions(ctx, seed, "", drill)
			if err != nil {
				return err
			}

			now := simEpoch
			opts.Now = func() time.Time { return now }
			sess, err := session.New(opts)
			if err != nil {
				return err
			}

			log.Info().
				Str("session", sess.ID()).
				Uint64("seed", sess.Seed()).
				Str("strategy", strategy).
				Int("drill_injections", len(drill)).
				Msg("Starting headless simulation")

			rep := newSimReport(sess.ID(), sess.Seed(), strategy)
			step := func(in sim.Intent) (sim.State, error) {
				out, err := sess.Step(ctx, in)
				if err != nil {
					return sim.State{}, err
				}
				if in.Kind.IsAction() {
					rep.action(in, out)
				}
				return out.State, nil
			}

			st, err := step(sim.StartGame())
			if err != nil {
				return err
			}
			if rt.speed != 1 {
				if st, err = step(sim.Intent{Kind: sim.IntentSetSpeed, GameSpeed: rt.speed}); err != nil {
					return err
				}
			}

			p := sess.Params()
			nextTick := now.Add(p.TickInterval(st.GameSpeed))
			nextIncident := now.Add(p.IncidentInterval)
			for !st.Ended {
				if err := ctx.Err(); err != nil {
					sess.Close(ctx)
					return err
				}

				var in sim.Intent
				if nextIncident.Before(nextTick) {
					now, in = nextIncident, sim.GenerateIncidentIntent()
					nextIncident = now.Add(p.IncidentInterval)
				} else {
					now, in = nextTick, sim.Tick()
				}
				if st, err = step(in); err != nil {
					return err
				}
				if in.Kind != sim.IntentTick {
					continue
				}
				rep.Ticks++
				nextTick = now.Add(p.TickInterval(st.GameSpeed))

				if act, ok := pilot.Next(st); ok && !st.Ended {
					if st, err = step(act); err != nil {
						return err
					}
				}
			}

			sess.Close(ctx)
			rep.finish(st, now.Sub(simEpoch))
			return rep.write(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVar(&strategy, "strategy", strategyCareful, "autopilot strategy (idle, careful, reckless)")
	cmd.Flags().IntVar(&reaction, "reaction", 5, "ticks the autopilot waits between actions")
	cmd.Flags().StringVar(&drillPath, "drill", "", "Starlark drill script")
	cmd.Flags().IntVar(&days, "days", 0, "override the number of days")

	return cmd
}

// simReport summarises a headless game.
type simReport struct {
	SessionID string `json:"session_id"`
	Seed      uint64 `json:"seed"`
	Strategy  string `json:"strategy"`

	Ticks       int           `json:"ticks"`
	VirtualTime time.Duration `json:"virtual_time_ns"`

	Day          int            `json:"day"`
	Score        sim.Score      `json:"score"`
	Rating       sim.Rating     `json:"rating"`
	Workers      int            `json:"workers"`
	Incidents    int            `json:"incidents"`
	Resolved     int            `json:"resolved"`
	Actions      int            `json:"actions"`
	Denied       int            `json:"denied"`
	ActionCounts map[string]int `json:"action_counts"`
}

func newSimReport(id string, seed uint64, strategy string) *simReport {
	return &simReport{
		SessionID:    id,
		Seed:         seed,
		Strategy:     strategy,
		ActionCounts: make(map[string]int),
	}
}

func (r *simReport) action(in sim.Intent, out session.Outcome) {
	r.Actions++
	r.ActionCounts[string(in.Kind)]++
	if out.Denied {
		r.Denied++
	}
}

func (r *simReport) finish(s sim.State, elapsed time.Duration) {
	r.VirtualTime = elapsed
	r.Day = s.Day
	r.Score = s.Score
	r.Rating = s.FinalRating
	if r.Rating == "" {
		r.Rating = sim.Rate(s.Score)
	}
	r.Workers = len(s.Workers)
	r.Incidents = len(s.Incidents)
	for _, inc := range s.Incidents {
		if inc.Resolved {
			r.Resolved++
		}
	}
}

func (r *simReport) write(w io.Writer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "Session     %s (seed %d, %s)\n", r.SessionID, r.Seed, r.Strategy)
	fmt.Fprintf(w, "Duration    %d ticks, %s simulated\n", r.Ticks, r.VirtualTime.Round(time.Second))
	fmt.Fprintf(w, "Fleet       %d workers\n", r.Workers)
	fmt.Fprintf(w, "Incidents   %d raised, %d resolved\n", r.Incidents, r.Resolved)
	fmt.Fprintf(w, "Uptime      %.2f%%\n", r.Score.Uptime)
	fmt.Fprintf(w, "Migrations  %d successful, %d failed\n", r.Score.SuccessfulMigrations, r.Score.FailedMigrations)
	fmt.Fprintf(w, "Risky       %d\n", r.Score.RiskyActions)
	fmt.Fprintf(w, "Actions     %d (%d denied)\n", r.Actions, r.Denied)

	kinds := make([]string, 0, len(r.ActionCounts))
	for k := range r.ActionCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-22s %d\n", k, r.ActionCounts[k])
	}
	fmt.Fprintf(w, "Rating      %s\n", r.Rating)
	return nil
}
