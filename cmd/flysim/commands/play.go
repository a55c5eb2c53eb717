package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

func newPlayCommand() *cobra.Command {
	var (
		seed      uint64
		resumeID  string
		drillPath string
		noBell    bool
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a game in the terminal",
		Long: `Play a shift interactively. The game runs in real time; type commands at the
prompt. Workers and incidents can be referred to by ID or by their number
in the status board. Type "help" for the command list.`,
		Example: `  flysim play
  flysim play --tuning fast.yaml --guardrails
  flysim play --checkpoints ~/.flysim/checkpoints --resume 6f0c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			telCfg := telemetry.DefaultConfig()
			telCfg.Logging.Level = "warn"
			telCfg.Metrics.ListenAddress = ""
			telCfg.Events.EnableAsync = false
			rt, err := newRuntime(ctx, telCfg)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			drill, err := rt.loadDrill(ctx, drillPath)
			if err != nil {
				return err
			}
			opts, err := rt.sessionOptions(ctx, seed, resumeID, drill)
			if err != nil {
				return err
			}
			opts.AutoStart = resumeID == ""
			sess, err := session.New(opts)
			if err != nil {
				return err
			}

			c := &console{
				sess:      sess,
				out:       cmd.OutOrStdout(),
				bell:      !noBell,
				totalDays: sess.Params().TotalDays,
			}
			rt.tel.Events.Subscribe(c.onEvent, telemetry.FilterBySession(sess.ID()))

			runErr := make(chan error, 1)
			go func() { runErr <- sess.Run(ctx) }()

			rt.watchTuning(ctx, sess)
			rt.watchPolicies(ctx)
			rt.applySpeed(ctx, sess)

			c.printf("flysim session %s. Type \"help\" for commands.\n", sess.ID())
			c.status(sess.Snapshot())

			lines := make(chan string)
			go readLines(os.Stdin, lines)

			for {
				select {
				case <-ctx.Done():
					sess.Stop()
					return nil
				case err := <-runErr:
					return err
				case line, ok := <-lines:
					if !ok {
						sess.Stop()
						return nil
					}
					if quit := c.handle(ctx, line); quit {
						sess.Stop()
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume the checkpointed session with this ID")
	cmd.Flags().StringVar(&drillPath, "drill", "", "Starlark drill script")
	cmd.Flags().BoolVar(&noBell, "no-bell", false, "do not ring the terminal bell on new incidents")

	return cmd
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// console renders the game as text and turns typed commands into intents.
type console struct {
	sess      *session.Session
	out       io.Writer
	bell      bool
	totalDays int
	mu        sync.Mutex
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) onEvent(e telemetry.Event) {
	switch e.Type {
	case telemetry.EventTypeIncidentCreated:
		bell := ""
		if c.bell {
			bell = "\a"
		}
		c.printf("%s[%s] NEW %s on %s (%s)\n", bell, e.Level, e.Message, e.WorkerID, e.IncidentID)
	case telemetry.EventTypeIncidentResolved:
		c.printf("resolved %s\n", e.IncidentID)
	case telemetry.EventTypeDayStarted, telemetry.EventTypeWorkerProvisioned, telemetry.EventTypeGameEnded:
		c.printf("== %s\n", e.Message)
	}
}

const playHelp = `Commands:
  status | s                     show the board
  start | pause | resume         game control
  speed <x>                      set game speed (0.5 .. 10)
  restart <worker>               restart flyd
  drain <worker>                 drain machines off a worker
  containerd <worker>            check containerd
  lvm <worker>                   inspect LVM thin pools
  investigate <incident>         investigate an incident
  logs <incident>                view flyd logs for an incident
  force <incident>               force the stuck FSM transition
  fix <incident>                 apply the incident's quick fix
  help                           this text
  quit                           leave (progress is checkpointed)
`

// handle runs one command line and reports whether the player quit.
func (c *console) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	snap := c.sess.Snapshot()
	cmd, arg := strings.ToLower(fields[0]), ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	var in sim.Intent
	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		c.printf("%s", playHelp)
		return false
	case "status", "s":
		c.status(snap)
		return false
	case "start":
		in = sim.StartGame()
	case "pause":
		in = sim.PauseGame()
	case "resume":
		in = sim.ResumeGame()
	case "speed":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || !sim.ValidGameSpeed(v) {
			c.printf("usage: speed <x>, 0 < x <= %g\n", sim.MaxGameSpeed)
			return false
		}
		in = sim.Intent{Kind: sim.IntentSetSpeed, GameSpeed: v}
	case "restart", "drain", "containerd", "lvm":
		id, ok := workerRef(snap, arg)
		if !ok {
			c.printf("unknown worker %q\n", arg)
			return false
		}
		in = map[string]func(string) sim.Intent{
			"restart":    sim.RestartFlyd,
			"drain":      sim.DrainWorker,
			"containerd": sim.CheckContainerd,
			"lvm":        sim.InspectLVM,
		}[cmd](id)
	case "investigate", "logs", "force", "fix":
		id, ok := incidentRef(snap, arg)
		if !ok {
			c.printf("unknown incident %q\n", arg)
			return false
		}
		in = map[string]func(string) sim.Intent{
			"investigate": sim.Investigate,
			"logs":        sim.ViewLogs,
			"force":       sim.ForceTransition,
			"fix":         sim.QuickFixIncident,
		}[cmd](id)
	default:
		c.printf("unknown command %q, try help\n", cmd)
		return false
	}

	out, err := c.sess.Dispatch(ctx, in)
	if err != nil {
		c.printf("error: %v\n", err)
		return false
	}
	for _, v := range out.Violations {
		c.printf("guardrail %s (%s): %s\n", v.Policy, v.Severity, v.Message)
	}
	if fb := out.State.Feedback; fb != nil && in.Kind.IsAction() {
		c.printf("[%s] %s\n%s\n", fb.Kind, fb.Title, fb.Message)
	}
	if out.State.Ended {
		c.status(out.State)
	}
	return false
}

// status prints the worker board and the open incidents.
func (c *console) status(s sim.State) {
	var b strings.Builder
	fmt.Fprintf(&b, "Day %d/%d  t=%d  speed %.1fx  uptime %.2f%%  risky %d  region %s",
		s.Day, c.totalDays, s.TimeInDay, s.GameSpeed, s.Score.Uptime, s.Score.RiskyActions, sim.RegionHealth(s))
	if s.Paused {
		b.WriteString("  [paused]")
	}
	b.WriteString("\n")

	for i, w := range s.Workers {
		fmt.Fprintf(&b, " %d. %-18s %-8s cpu %3.0f mem %3.0f disk %3.0f  flyd %-10s containerd %-8s net %-12s machines %d",
			i+1, w.Name, w.Status, w.CPU, w.Memory, w.Disk, w.FlydStatus, w.ContainerdHealth, w.NetworkStatus, w.ActiveMachines)
		for _, op := range w.ActiveFSMs {
			fmt.Fprintf(&b, "  [%s %s %.0f%%]", op.Type, op.State, op.Progress)
		}
		b.WriteString("\n")
	}

	active := sim.ActiveIncidents(s)
	if len(active) == 0 {
		b.WriteString(" no open incidents\n")
	}
	for i, inc := range active {
		flags := ""
		if inc.Investigated {
			flags += " investigated"
		}
		if inc.LogViewed {
			flags += " logs"
		}
		fmt.Fprintf(&b, " #%d %-8s %-34s %s%s\n", i+1, inc.Severity, inc.Title, inc.WorkerID, flags)
	}
	if s.Ended {
		fmt.Fprintf(&b, "Game over: %s\n", s.FinalRating)
	}
	c.printf("%s", b.String())
}

// workerRef resolves a worker ID or 1-based board number.
func workerRef(s sim.State, ref string) (string, bool) {
	if ref == "" && len(s.Workers) == 1 {
		return s.Workers[0].ID, true
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(s.Workers) {
		return s.Workers[n-1].ID, true
	}
	if _, ok := s.Worker(ref); ok {
		return ref, true
	}
	return "", false
}

// incidentRef resolves an incident ID or its #number among open incidents.
func incidentRef(s sim.State, ref string) (string, bool) {
	active := sim.ActiveIncidents(s)
	if ref == "" && len(active) == 1 {
		return active[0].ID, true
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil && n >= 1 && n <= len(active) {
		return active[n-1].ID, true
	}
	if _, ok := s.Incident(ref); ok {
		return ref, true
	}
	log.Debug().Str("ref", ref).Msg("Incident reference not found")
	return "", false
}
