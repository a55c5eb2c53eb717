package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/flysim/pkg/config"
	"github.com/openfroyo/flysim/pkg/policy"
	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/stores"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

// runtime holds the components a command wires into a session, built from
// the global flags.
type runtime struct {
	tel         *telemetry.Telemetry
	loader      *config.Loader
	params      sim.Params
	speed       float64
	store       *stores.SQLiteStore
	checkpoints *stores.CheckpointStore
	guard       *policy.Engine
}

func newRuntime(ctx context.Context, telCfg *telemetry.Config) (*runtime, error) {
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		telCfg.Metrics.Enabled = true
		telCfg.Metrics.ListenAddress = metricsAddr
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if telCfg.Metrics.ListenAddress != "" {
		go func() {
			if err := tel.Metrics.Serve(ctx); err != nil {
				log.Warn().Err(err).Str("addr", telCfg.Metrics.ListenAddress).Msg("Metrics endpoint stopped")
			}
		}()
	}

	rt := &runtime{tel: tel, loader: config.NewLoader()}
	if err := rt.open(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) open(ctx context.Context) error {
	var err error
	rt.params, rt.speed, err = rt.loader.LoadParams(ctx, tuningPath)
	if err != nil {
		return fmt.Errorf("failed to load tuning: %w", err)
	}

	if dbPath != "" {
		store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
		if err != nil {
			return err
		}
		if err := store.Init(ctx); err != nil {
			return err
		}
		rt.store = store
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	if checkpointDir != "" {
		cps, err := stores.OpenCheckpointStore(checkpointDir)
		if err != nil {
			return err
		}
		rt.checkpoints = cps
	}

	if guardrails || len(policyPaths) > 0 {
		eng, err := policy.NewEngine(*rt.tel.Logger.Zerolog())
		if err != nil {
			return fmt.Errorf("failed to create policy engine: %w", err)
		}
		if len(policyPaths) > 0 {
			if err := eng.LoadPolicies(ctx, policyPaths); err != nil {
				return err
			}
		}
		rt.guard = eng
	}
	return nil
}

// Close flushes telemetry and releases the stores.
func (rt *runtime) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := rt.tel.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.checkpoints != nil {
		_ = rt.checkpoints.Close()
	}
}

// sessionOptions returns options for a fresh session, or for the session
// named by resumeID when it is set.
func (rt *runtime) sessionOptions(ctx context.Context, seed uint64, resumeID string, drill []session.Injection) (session.Options, error) {
	p := rt.params
	opts := session.Options{
		Seed:      seed,
		Params:    &p,
		Telemetry: rt.tel,
		Drill:     drill,
	}
	if rt.store != nil {
		opts.Recorder = stores.NewRecorder(rt.store, player())
	}
	if rt.guard != nil {
		opts.Guard = rt.guard
	}
	if rt.checkpoints != nil {
		opts.Checkpointer = rt.checkpoints
	}

	if resumeID == "" {
		return opts, nil
	}
	if rt.checkpoints == nil {
		return opts, errors.New("--resume requires --checkpoints")
	}
	cp, err := rt.checkpoints.Load(ctx, resumeID)
	if err != nil {
		return opts, err
	}
	if cp.State.Ended {
		return opts, fmt.Errorf("session %s already ended", resumeID)
	}
	opts.ID = cp.SessionID
	opts.Seed = cp.Seed
	opts.Initial = &cp.State
	log.Info().
		Str("session", cp.SessionID).
		Int("day", cp.State.Day).
		Time("saved_at", cp.SavedAt).
		Msg("Resuming session from checkpoint")
	return opts, nil
}

// loadDrill evaluates the drill script at path, if any.
func (rt *runtime) loadDrill(ctx context.Context, path string) ([]session.Injection, error) {
	if path == "" {
		return nil, nil
	}
	return rt.loader.LoadDrill(ctx, path, rt.params)
}

// watchTuning hot-reloads the tuning file into sess.
func (rt *runtime) watchTuning(ctx context.Context, sess *session.Session) {
	if tuningPath == "" {
		return
	}
	w := config.NewWatcher(rt.loader, tuningPath, *rt.tel.Logger.Zerolog())
	err := w.Watch(ctx, func(t config.Tuning) {
		if err := sess.Reconfigure(t.Params()); err != nil {
			log.Warn().Err(err).Msg("Tuning reload rejected")
			return
		}
		log.Info().Str("path", tuningPath).Msg("Tuning reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to watch tuning file")
	}
}

// watchPolicies hot-reloads the extra policy paths.
func (rt *runtime) watchPolicies(ctx context.Context) {
	if rt.guard == nil || len(policyPaths) == 0 {
		return
	}
	if err := rt.guard.Watch(ctx, policyPaths); err != nil {
		log.Warn().Err(err).Msg("Failed to watch policies")
	}
}

// applySpeed sets the tuned game speed once the game has started.
func (rt *runtime) applySpeed(ctx context.Context, sess *session.Session) {
	if rt.speed == 1 || rt.speed <= 0 {
		return
	}
	if _, err := sess.Dispatch(ctx, sim.Intent{Kind: sim.IntentSetSpeed, GameSpeed: rt.speed}); err != nil {
		log.Warn().Err(err).Float64("speed", rt.speed).Msg("Failed to apply game speed")
	}
}

func player() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}
