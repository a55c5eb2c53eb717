package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/telemetry"
	"github.com/openfroyo/flysim/pkg/transport/natsbus"
	"github.com/openfroyo/flysim/pkg/transport/ws"
)

func newServeCommand() *cobra.Command {
	var (
		listen       string
		seed         uint64
		resumeID     string
		drillPath    string
		natsURL      string
		natsPrefix   string
		autoStart    bool
		tracing      string
		otlpEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a game behind a websocket endpoint",
		Long: `Run one session and expose it to an external console.

Endpoints:
  /ws        websocket: snapshot, outcome and event frames out; intent frames in
  /metrics   Prometheus metrics
  /healthz   liveness

With --nats, events are also published to <prefix>.events.<type> and intents
are accepted as requests on <prefix>.intents.<session id>.`,
		Example: `  flysim serve --listen :8080
  flysim serve --nats nats://localhost:4222 --guardrails --db flysim.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			telCfg := telemetry.DefaultConfig()
			if tracing == "stdout" {
				telCfg = telemetry.DevelopmentConfig()
			}
			telCfg.Metrics.ListenAddress = ""
			if tracing != "" && tracing != "none" {
				telCfg.Tracing.Enabled = true
				telCfg.Tracing.Exporter = tracing
				telCfg.Tracing.Endpoint = otlpEndpoint
			}
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
			opts.AutoStart = autoStart && resumeID == ""
			sess, err := session.New(opts)
			if err != nil {
				return err
			}

			wsServer, err := ws.NewServer(sess, ws.Options{
				Logger: rt.tel.Logger,
				Events: rt.tel.Events,
			})
			if err != nil {
				return err
			}

			if natsURL != "" {
				bus, err := natsbus.Connect(natsbus.Config{URL: natsURL, Prefix: natsPrefix}, rt.tel.Logger)
				if err != nil {
					return err
				}
				defer bus.Close()
				bus.Forward(rt.tel.Events, telemetry.FilterBySession(sess.ID()))
				if err := bus.ServeIntents(ctx, sess.ID(), sess); err != nil {
					return err
				}
			}

			mux := http.NewServeMux()
			mux.Handle("/ws", wsServer.Handler())
			mux.Handle(rt.tel.Config.Metrics.Path, rt.tel.Metrics.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprintf(w, "ok %s\n", sess.ID())
			})
			srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			errCh := make(chan error, 2)
			go func() { errCh <- sess.Run(ctx) }()
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("http server: %w", err)
				}
			}()

			rt.watchTuning(ctx, sess)
			rt.watchPolicies(ctx)
			rt.applySpeed(ctx, sess)

			log.Info().
				Str("listen", listen).
				Str("session", sess.ID()).
				Uint64("seed", sess.Seed()).
				Bool("guardrails", rt.guard != nil).
				Msg("Serving flysim session")

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
			}

			shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
			sess.Stop()

			if errors.Is(runErr, context.Canceled) {
				return nil
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "HTTP listen address")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume the checkpointed session with this ID")
	cmd.Flags().StringVar(&drillPath, "drill", "", "Starlark drill script")
	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS server URL for event forwarding and remote intents")
	cmd.Flags().StringVar(&natsPrefix, "nats-prefix", natsbus.DefaultPrefix, "NATS subject prefix")
	cmd.Flags().BoolVar(&autoStart, "start", false, "start the game immediately instead of waiting for START_GAME")
	cmd.Flags().StringVar(&tracing, "tracing", "none", "trace exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP collector endpoint for --tracing otlp")

	return cmd
}
