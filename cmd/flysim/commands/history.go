package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flysim/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse recorded sessions",
		Long: `List the sessions recorded in the --db history database, newest first.
Use "history show" for one session's incidents, actions and daily scores, and
"history checkpoints" for the sessions that can be resumed.`,
		Example: `  flysim history --db flysim.db
  flysim history show 6f0c... --db flysim.db --json
  flysim history checkpoints --checkpoints ~/.flysim/checkpoints`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return writeSessions(cmd.OutOrStdout(), sessions)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of sessions to skip")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryCheckpointsCommand())
	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var actionLimit int

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one recorded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			d, err := loadSessionDetail(ctx, store, args[0], actionLimit)
			if err != nil {
				if stores.IsNotFound(err) {
					return fmt.Errorf("no recorded session %s", args[0])
				}
				return err
			}
			return d.write(cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&actionLimit, "actions", 50, "maximum number of actions to show")
	return cmd
}

func newHistoryCheckpointsCommand() *cobra.Command {
	var remove string

	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List resumable checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if checkpointDir == "" {
				return errors.New("--checkpoints is required")
			}
			cps, err := stores.OpenCheckpointStore(checkpointDir)
			if err != nil {
				return err
			}
			defer cps.Close()

			if remove != "" {
				if err := cps.Delete(ctx, remove); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted checkpoint %s\n", remove)
				return nil
			}

			list, err := cps.List(ctx)
			if err != nil {
				return err
			}
			return writeCheckpoints(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().StringVar(&remove, "delete", "", "delete the checkpoint of this session instead of listing")
	return cmd
}

func openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("--db is required")
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func writeSessions(w io.Writer, sessions []*stores.Session) error {
	if jsonOutput {
		if sessions == nil {
			sessions = []*stores.Session{}
		}
		return writeJSON(w, sessions)
	}
	t := newTable("ID", "PLAYER", "STATUS", "STARTED", "DAY", "UPTIME", "RATING")
	for _, s := range sessions {
		t.add(s.ID, s.Player, s.Status, formatTime(s.StartedAt), s.Day, fmt.Sprintf("%.2f%%", s.Uptime), orDash(s.FinalRating))
	}
	return t.write(w)
}

func writeCheckpoints(w io.Writer, list []stores.Checkpoint) error {
	if jsonOutput {
		type entry struct {
			SessionID string  `json:"session_id"`
			Seed      uint64  `json:"seed"`
			SavedAt   string  `json:"saved_at"`
			Day       int     `json:"day"`
			Uptime    float64 `json:"uptime"`
			Ended     bool    `json:"ended"`
		}
		out := make([]entry, 0, len(list))
		for _, cp := range list {
			out = append(out, entry{
				SessionID: cp.SessionID,
				Seed:      cp.Seed,
				SavedAt:   cp.SavedAt.UTC().Format("2006-01-02T15:04:05Z"),
				Day:       cp.State.Day,
				Uptime:    cp.State.Score.Uptime,
				Ended:     cp.State.Ended,
			})
		}
		return writeJSON(w, out)
	}
	t := newTable("SESSION", "SEED", "SAVED", "DAY", "UPTIME", "RESUMABLE")
	for _, cp := range list {
		t.add(cp.SessionID, cp.Seed, formatTime(cp.SavedAt), cp.State.Day, fmt.Sprintf("%.2f%%", cp.State.Score.Uptime), !cp.State.Ended)
	}
	return t.write(w)
}

// sessionDetail is everything recorded about one session.
type sessionDetail struct {
	Session   *stores.Session          `json:"session"`
	Incidents []*stores.IncidentRecord `json:"incidents"`
	Actions   []*stores.ActionRecord   `json:"actions"`
	Scores    []*stores.ScoreSample    `json:"scores"`
}

func loadSessionDetail(ctx context.Context, store stores.Store, id string, actionLimit int) (*sessionDetail, error) {
	sess, err := store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &sessionDetail{Session: sess}
	if d.Incidents, err = store.ListIncidents(ctx, id); err != nil {
		return nil, err
	}
	if d.Actions, err = store.ListActions(ctx, id, actionLimit, 0); err != nil {
		return nil, err
	}
	if d.Scores, err = store.ListScoreSamples(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sessionDetail) write(w io.Writer) error {
	if jsonOutput {
		return writeJSON(w, d)
	}

	s := d.Session
	fmt.Fprintf(w, "Session  %s\n", s.ID)
	fmt.Fprintf(w, "Player   %s (seed %d)\n", s.Player, s.Seed)
	fmt.Fprintf(w, "Status   %s, day %d, uptime %.2f%%\n", s.Status, s.Day, s.Uptime)
	fmt.Fprintf(w, "Started  %s\n", formatTime(s.StartedAt))
	if s.EndedAt != nil {
		fmt.Fprintf(w, "Ended    %s\n", formatTime(*s.EndedAt))
	}
	fmt.Fprintf(w, "Rating   %s\n", orDash(s.FinalRating))

	fmt.Fprintln(w, "\nIncidents")
	it := newTable("DAY", "TYPE", "SEVERITY", "WORKER", "TITLE", "RESOLVED")
	for _, inc := range d.Incidents {
		resolved := "-"
		if inc.ResolvedAt != nil {
			resolved = formatTime(*inc.ResolvedAt)
		}
		it.add(inc.Day, inc.Type, inc.Severity, inc.WorkerID, inc.Title, resolved)
	}
	if err := it.write(w); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nActions")
	at := newTable("DAY", "TICK", "INTENT", "TARGET", "OUTCOME", "TITLE")
	for _, a := range d.Actions {
		target := orDash(a.WorkerID)
		if a.IncidentID != nil {
			target = *a.IncidentID
		}
		at.add(a.Day, a.TimeInDay, a.Intent, target, a.Outcome, a.Title)
	}
	if err := at.write(w); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nScores")
	st := newTable("DAY", "UPTIME", "MIGRATIONS OK", "MIGRATIONS FAILED", "RISKY")
	for _, sc := range d.Scores {
		st.add(sc.Day, fmt.Sprintf("%.2f%%", sc.Uptime), sc.SuccessfulMigrations, sc.FailedMigrations, sc.RiskyActions)
	}
	return st.write(w)
}
