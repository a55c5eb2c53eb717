package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

// ErrStopped is returned by Dispatch once the session loop has exited.
var ErrStopped = errors.New("session stopped")

type request struct {
	intent sim.Intent
	reply  chan Outcome
}

// Session owns the latest snapshot of one game. Run serialises every intent
// through a single goroutine: player intents from Dispatch, and the tick and
// incident timers, which are armed only while the game is running.
type Session struct {
	id   string
	seed uint64

	tel *telemetry.Telemetry
	log *telemetry.Logger

	recorder     Recorder
	guard        Guard
	checkpointer Checkpointer

	now   func() time.Time
	rand  sim.Rand
	newID func(prefix string) string

	// Owned by the loop goroutine (or the Step caller).
	state     sim.State
	params    sim.Params
	drill     []Injection
	drillNext int
	started   bool
	finished  bool
	autoStart bool
	resumed   bool

	snapshot atomic.Pointer[sim.State]

	requests chan request
	reconfig chan sim.Params
	stop     chan struct{}
	done     chan struct{}
	active   atomic.Bool
	stopOnce sync.Once

	obsMu     sync.Mutex
	observers map[int]chan sim.State
	nextObs   int
}

// New validates the options and builds a session. The incident catalog is
// checked here so a missing table entry fails at startup.
func New(opts Options) (*Session, error) {
	if err := sim.CheckCatalog(); err != nil {
		return nil, err
	}

	params := sim.DefaultParams()
	if opts.Params != nil {
		params = *opts.Params
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	for _, inj := range opts.Drill {
		if err := inj.Type.Validate(); err != nil {
			return nil, sim.NewConfigError("invalid drill injection", err).
				WithCode(sim.ErrCodeUnknownIncident)
		}
	}

	s := &Session{
		id:           opts.ID,
		seed:         opts.Seed,
		tel:          opts.Telemetry,
		recorder:     opts.Recorder,
		guard:        opts.Guard,
		checkpointer: opts.Checkpointer,
		now:          opts.Now,
		rand:         opts.Rand,
		newID:        opts.NewID,
		params:       params,
		autoStart:    opts.AutoStart,
		requests:     make(chan request),
		reconfig:     make(chan sim.Params, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		observers:    make(map[int]chan sim.State),
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.tel == nil {
		s.tel = telemetry.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.seed == 0 {
		s.seed = uint64(time.Now().UnixNano())
	}
	if s.rand == nil {
		s.rand = sim.NewRand(s.seed)
	}
	s.log = s.tel.Logger.NewComponentLogger("session").WithSessionID(s.id)

	if opts.Initial != nil {
		s.state = *opts.Initial
		s.resumed = true
	} else {
		s.state = sim.NewState(params)
	}
	s.publishSnapshot()

	s.drill = append([]Injection(nil), opts.Drill...)
	sort.SliceStable(s.drill, func(i, j int) bool {
		if s.drill[i].Day != s.drill[j].Day {
			return s.drill[i].Day < s.drill[j].Day
		}
		return s.drill[i].TimeInDay < s.drill[j].TimeInDay
	})
	// Injections already behind a resumed clock have fired before.
	for s.resumed && s.drillNext < len(s.drill) && s.drill[s.drillNext].due(s.state) {
		s.drillNext++
	}

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Seed returns the seed of the default random source.
func (s *Session) Seed() uint64 { return s.seed }

// Snapshot returns the latest state. It is safe to call from any goroutine.
func (s *Session) Snapshot() sim.State {
	return *s.snapshot.Load()
}

// Params returns the parameters in effect. Only safe from the Step caller or
// before Run.
func (s *Session) Params() sim.Params { return s.params }

// Run processes intents until ctx is cancelled or Stop is called. The
// session is recorded as ended (or abandoned) on the way out.
func (s *Session) Run(ctx context.Context) error {
	if !s.active.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s is already running", s.id)
	}
	defer close(s.done)

	s.begin(ctx)
	if s.autoStart {
		s.apply(ctx, sim.StartGame())
	}

	var t timers
	defer t.disarm()

	for {
		t.rearm(s.state, s.params)

		select {
		case <-ctx.Done():
			s.finish(context.Background())
			return ctx.Err()
		case <-s.stop:
			s.finish(ctx)
			return nil
		case req := <-s.requests:
			req.reply <- s.apply(ctx, req.intent)
		case p := <-s.reconfig:
			s.params = p
			s.log.Info("parameters reloaded")
		case <-t.tickC():
			s.apply(ctx, sim.Tick())
		case <-t.incidentC():
			s.apply(ctx, sim.GenerateIncidentIntent())
		}
	}
}

// Stop ends Run and waits for it to return.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.active.Load() {
		<-s.done
	}
}

// Dispatch queues an intent for the loop and waits for its outcome. It
// blocks until Run picks the intent up. Malformed intents are rejected
// before they are queued.
func (s *Session) Dispatch(ctx context.Context, in sim.Intent) (Outcome, error) {
	if err := in.Validate(); err != nil {
		return Outcome{}, err
	}

	req := request{intent: in, reply: make(chan Outcome, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return Outcome{}, ErrStopped
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	select {
	case out := <-req.reply:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Step applies an intent synchronously, without timers. It is used to drive
// a session on a virtual clock and must not be mixed with Run.
func (s *Session) Step(ctx context.Context, in sim.Intent) (Outcome, error) {
	if s.active.Load() {
		return Outcome{}, fmt.Errorf("session %s is driven by Run", s.id)
	}
	if err := in.Validate(); err != nil {
		return Outcome{}, err
	}
	s.begin(ctx)
	return s.apply(ctx, in), nil
}

// Close records the end of a Step-driven session.
func (s *Session) Close(ctx context.Context) {
	if s.active.Load() {
		s.Stop()
		return
	}
	s.finish(ctx)
}

// Reconfigure swaps the parameters used by subsequent reductions. Existing
// workers and incidents keep their values.
func (s *Session) Reconfigure(p sim.Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if !s.active.Load() {
		s.params = p
		return nil
	}
	// Keep only the newest pending reload.
	select {
	case <-s.reconfig:
	default:
	}
	select {
	case s.reconfig <- p:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// Subscribe returns a channel receiving every changed snapshot. A slow
// observer misses intermediate snapshots but always gets the latest one.
func (s *Session) Subscribe() (<-chan sim.State, func()) {
	ch := make(chan sim.State, 1)
	ch <- s.Snapshot()

	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	s.obsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Session) publishSnapshot() {
	snap := s.state
	s.snapshot.Store(&snap)

	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for _, ch := range s.observers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session) env() sim.Env {
	return sim.Env{
		Now:    s.now(),
		Rand:   s.rand,
		Params: s.params,
		NewID:  s.newID,
	}
}

func (s *Session) begin(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	s.log.Zerolog().Info().
		Uint64("seed", s.seed).
		Bool("resumed", s.resumed).
		Int("workers", len(s.state.Workers)).
		Msg("session started")
	if s.recorder != nil && !s.resumed {
		s.recordErr(s.recorder.RecordStart(ctx, s.id, s.seed, s.now()), "start")
	}
	s.updateGauges()
}

func (s *Session) finish(ctx context.Context) {
	if s.finished || !s.started {
		return
	}
	s.finished = true

	if s.checkpointer != nil && !s.state.Ended {
		s.saveCheckpoint(ctx)
	}
	if s.recorder != nil {
		s.recordErr(s.recorder.RecordEnd(ctx, s.id, s.state, s.now()), "end")
	}
	s.log.Zerolog().Info().
		Int("day", s.state.Day).
		Float64("uptime", s.state.Score.Uptime).
		Bool("ended", s.state.Ended).
		Msg("session closed")
}

func (s *Session) saveCheckpoint(ctx context.Context) {
	ctx, end := s.tel.Operation(ctx, "session.checkpoint", s.id, telemetry.AttrDay.Int(s.state.Day))
	end(s.checkpointer.SaveCheckpoint(ctx, s.id, s.seed, s.state))
}

func (s *Session) recordErr(err error, what string) {
	if err == nil {
		return
	}
	s.log.WithError(err).WithField("record", what).Warn("failed to record session history")
	s.tel.Metrics.RecordError("store")
}
