package session

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

// apply runs one intent through the guard and the reducer, then reports
// what changed to metrics, events, the recorder and the observers.
func (s *Session) apply(ctx context.Context, in sim.Intent) Outcome {
	timer := telemetry.NewTimer()
	ctx, span := s.tel.Tracer.StartDispatchSpan(ctx, s.id, string(in.Kind), in.Target())
	defer span.End()

	prev := s.state
	requested := in
	var out Outcome

	if in.Kind.IsAction() && s.guard != nil {
		out.Violations, out.Denied = s.check(ctx, in, prev)
		if out.Denied {
			in = sim.ShowFeedback(deniedFeedback(out.Violations))
		}
	}

	env := s.env()
	res := sim.Step(prev, in, env)
	s.state = res.State
	out.State = res.State
	out.Changed = res.Changed

	if res.Created != nil {
		s.onCreated(ctx, *res.Created)
	}
	for _, inc := range sim.ResolvedBetween(prev, res.State) {
		s.onResolved(ctx, inc)
	}
	if in.Kind == sim.IntentTick && res.Changed {
		s.onTick(ctx, res)
	}
	if requested.Kind.IsAction() {
		s.onAction(ctx, requested, prev, res, out.Denied, env)
	}

	if res.Changed {
		s.updateGauges()
		s.publishSnapshot()
	}

	span.SetAttributes(
		telemetry.AttrDay.Int(res.State.Day),
		telemetry.AttrTimeInDay.Int(res.State.TimeInDay),
		telemetry.AttrChanged.Bool(res.Changed),
	)
	telemetry.RecordSuccess(span)
	s.tel.Metrics.ObserveDispatch(string(requested.Kind), timer.Duration())

	// Drill injections fire after the tick that made them due.
	if in.Kind == sim.IntentTick && res.Changed {
		s.fireDrill(ctx)
		out.State = s.state
	}
	return out
}

// check asks the guard about an action. A failing guard allows the action.
func (s *Session) check(ctx context.Context, in sim.Intent, st sim.State) ([]Violation, bool) {
	verdict, err := s.guard.Check(ctx, in, st)
	if err != nil {
		s.log.WithError(err).WithIntent(string(in.Kind)).Warn("guardrail evaluation failed")
		s.tel.Metrics.RecordError("guardrail")
		return nil, false
	}
	if verdict == nil {
		return nil, false
	}

	for _, v := range verdict.Violations {
		telemetry.AddEvent(ctx, "guardrail.violation",
			attribute.String("policy", v.Policy),
			attribute.String("severity", v.Severity))
		s.tel.Metrics.RecordGuardrailViolation(v.Policy, v.Severity)
		_ = s.tel.Events.PublishGuardrailViolation(s.id, string(in.Kind), v.Policy, v.Severity, v.Message)
		s.log.Zerolog().Warn().
			Str("intent", string(in.Kind)).
			Str("policy", v.Policy).
			Str("severity", v.Severity).
			Msg(v.Message)
	}
	return verdict.Violations, !verdict.Allowed
}

func deniedFeedback(violations []Violation) sim.Feedback {
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.Message)
	}
	msg := strings.Join(msgs, " ")
	if msg == "" {
		msg = "This action was blocked by a guardrail."
	}
	return sim.Feedback{Kind: sim.FeedbackWarning, Title: "Action Blocked", Message: msg}
}

func (s *Session) onCreated(ctx context.Context, inc sim.Incident) {
	s.tel.Metrics.RecordIncidentCreated(string(inc.Type))
	_ = s.tel.Events.PublishIncidentCreated(s.id, inc.ID, inc.WorkerID, string(inc.Type), string(inc.Severity), inc.Title)
	s.log.WithIncidentID(inc.ID).WithWorkerID(inc.WorkerID).
		WithField("type", string(inc.Type)).
		Infof("incident created: %s", inc.Title)

	if s.recorder != nil {
		s.recordErr(s.recorder.RecordIncident(ctx, s.id, inc, s.state.Day), "incident")
	}
}

func (s *Session) onResolved(ctx context.Context, inc sim.Incident) {
	s.tel.Metrics.RecordIncidentResolved(string(inc.Type))
	_ = s.tel.Events.PublishIncidentResolved(s.id, inc.ID, inc.WorkerID, string(inc.Type))
	s.log.WithIncidentID(inc.ID).Debugf("incident resolved: %s", inc.Title)

	if s.recorder != nil {
		s.recordErr(s.recorder.RecordResolution(ctx, s.id, inc), "resolution")
	}
}

func (s *Session) onTick(ctx context.Context, res sim.Result) {
	s.tel.Metrics.RecordTick()
	rep := res.Tick

	for _, id := range rep.Provisioned {
		_ = s.tel.Events.PublishWorkerProvisioned(s.id, id)
		s.log.WithWorkerID(id).Info("worker provisioned")
	}
	for _, op := range rep.Completed {
		_ = s.tel.Events.PublishMigrationCompleted(s.id, op.WorkerID, op.ID)
	}

	if rep.DayStarted {
		_ = s.tel.Events.PublishDayStarted(s.id, res.State.Day, res.State.Score.Uptime)
		s.log.Zerolog().Info().
			Int("day", res.State.Day).
			Float64("uptime", res.State.Score.Uptime).
			Msg("day started")
		if s.recorder != nil {
			s.recordErr(s.recorder.RecordDay(ctx, s.id, res.State, s.now()), "day")
		}
		if s.checkpointer != nil && !rep.GameEnded {
			s.saveCheckpoint(ctx)
		}
	}

	if rep.GameEnded {
		_ = s.tel.Events.PublishGameEnded(s.id, string(res.State.FinalRating), res.State.Score.Uptime)
		s.log.Zerolog().Info().
			Str("rating", string(res.State.FinalRating)).
			Float64("uptime", res.State.Score.Uptime).
			Msg("game ended")
		s.finish(ctx)
	}
}

func (s *Session) onAction(ctx context.Context, in sim.Intent, prev sim.State, res sim.Result, denied bool, env sim.Env) {
	fb := newFeedback(prev, res)
	outcome := "none"
	title := ""
	switch {
	case denied:
		outcome = "denied"
	case fb != nil:
		outcome = string(fb.Kind)
		title = fb.Title
	}

	s.tel.Metrics.RecordAction(string(in.Kind), outcome)
	_ = s.tel.Events.PublishActionResolved(s.id, string(in.Kind), in.Target(), outcome, title)
	s.log.WithIntent(string(in.Kind)).
		WithField("target", in.Target()).
		WithField("outcome", outcome).
		Debug("action dispatched")

	if s.recorder != nil {
		s.recordErr(s.recorder.RecordAction(ctx, s.id, in, fb, denied, res.State, env.Now), "action")
	}
}

// newFeedback returns the feedback a reduction produced, if any. Snapshots
// share the feedback pointer until a reduction replaces it.
func newFeedback(prev sim.State, res sim.Result) *sim.Feedback {
	fb := res.State.Feedback
	if !res.Changed || fb == nil || fb == prev.Feedback {
		return nil
	}
	return fb
}

func (s *Session) fireDrill(ctx context.Context) {
	for s.drillNext < len(s.drill) && s.state.Running() {
		inj := s.drill[s.drillNext]
		if !inj.due(s.state) {
			return
		}
		s.drillNext++

		worker := inj.WorkerID
		if worker == "" && len(s.state.Workers) > 0 {
			worker = s.state.Workers[0].ID
		}
		inc := sim.NewIncident(inj.Type, worker, s.state, s.env())
		s.log.WithWorkerID(worker).WithField("type", string(inj.Type)).Info("drill injection")
		opCtx, end := s.tel.Operation(ctx, "session.drill", s.id,
			telemetry.AttrWorkerID.String(worker),
			telemetry.AttrIncidentID.String(inc.ID))
		s.apply(opCtx, sim.AddIncident(inc))
		end(nil)
	}
}

// updateGauges refreshes the fleet gauges from the current snapshot.
func (s *Session) updateGauges() {
	st := s.state
	s.tel.Metrics.SetUptime(st.Score.Uptime)
	s.tel.Metrics.SetDay(st.Day)

	workers := make(map[string]int)
	for _, w := range st.Workers {
		workers[string(w.Status)]++
	}
	s.tel.Metrics.SetWorkerCounts(workers)

	active := make(map[string]int)
	for _, inc := range sim.ActiveIncidents(st) {
		active[string(inc.Severity)]++
	}
	s.tel.Metrics.SetActiveIncidents(active)
}
