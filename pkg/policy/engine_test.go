package policy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/flysim/pkg/sim"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func testState() sim.State {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return sim.State{
		Day:       1,
		GameSpeed: 1,
		Started:   true,
		Workers: []sim.Worker{
			{ID: "worker-1", Name: "fly-worker-ord-01", Status: sim.WorkerHealthy, ActiveMachines: 12},
			{ID: "worker-2", Name: "fly-worker-ord-02", Status: sim.WorkerHealthy, ActiveMachines: 8},
		},
		Incidents: []sim.Incident{
			{
				ID:        "inc-1",
				Type:      sim.IncidentFlydStalled,
				Severity:  sim.SeverityHigh,
				WorkerID:  "worker-1",
				Title:     "flyd Process Stalled",
				CreatedAt: now,
			},
		},
	}
}

func violationsFor(r *Result, policy string) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Policy == policy {
			out = append(out, v)
		}
	}
	return out
}

func evaluate(t *testing.T, eng *Engine, in sim.Intent, s sim.State) *Result {
	t.Helper()
	r, err := eng.Evaluate(context.Background(), BuildInput(in, s))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(r.Errors) > 0 {
		t.Fatalf("policy errors: %v", r.Errors)
	}
	return r
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{
		"drain-capacity",
		"drain-during-migration",
		"force-transition-requires-investigation",
		"risk-budget",
	}
	if len(policies) != len(want) {
		t.Fatalf("expected %d built-in policies, got %d", len(want), len(policies))
	}
	for i, name := range want {
		if policies[i].Name != name {
			t.Errorf("policy %d = %s, want %s", i, policies[i].Name, name)
		}
		if !policies[i].Enabled {
			t.Errorf("built-in policy %s is disabled", name)
		}
	}
}

func TestForceTransitionPolicy(t *testing.T) {
	eng := newTestEngine(t)
	const name = "force-transition-requires-investigation"

	tests := []struct {
		name           string
		mutate         func(*sim.Incident)
		wantViolations int
	}{
		{"uninvestigated", func(*sim.Incident) {}, 1},
		{"investigated", func(inc *sim.Incident) { inc.Investigated = true }, 0},
		{"already resolved", func(inc *sim.Incident) { inc.Resolved = true }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testState()
			tt.mutate(&s.Incidents[0])

			r := evaluate(t, eng, sim.ForceTransition("inc-1"), s)
			got := violationsFor(r, name)
			if len(got) != tt.wantViolations {
				t.Fatalf("expected %d violations, got %+v", tt.wantViolations, got)
			}
			if !r.Allowed {
				t.Error("a warning must not block the action")
			}
			if len(got) == 1 {
				if got[0].Severity != SeverityWarning || got[0].Target != "inc-1" {
					t.Errorf("unexpected violation: %+v", got[0])
				}
				if !strings.Contains(got[0].Message, "flyd Process Stalled") {
					t.Errorf("message does not name the incident: %q", got[0].Message)
				}
			}
		})
	}
}

func TestDrainDuringMigrationPolicy(t *testing.T) {
	eng := newTestEngine(t)
	const name = "drain-during-migration"

	tests := []struct {
		name        string
		progress    float64
		wantAllowed bool
	}{
		{"migration in flight", 40, false},
		{"migration finished", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testState()
			s.Workers[0].Status = sim.WorkerDegraded
			s.Workers[0].ActiveFSMs = []sim.FSMOperation{
				{ID: "op-1", Type: sim.OperationMigration, State: sim.StateCloning, Progress: tt.progress},
			}

			r := evaluate(t, eng, sim.DrainWorker("worker-1"), s)
			if r.Allowed != tt.wantAllowed {
				t.Fatalf("Allowed = %v, want %v (%+v)", r.Allowed, tt.wantAllowed, r.Violations)
			}
			got := violationsFor(r, name)
			if tt.wantAllowed {
				if len(got) != 0 {
					t.Errorf("unexpected violations: %+v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Severity != SeverityError {
				t.Fatalf("expected one error violation, got %+v", got)
			}
			if !strings.Contains(got[0].Message, "cloning") {
				t.Errorf("message does not mention the FSM state: %q", got[0].Message)
			}
		})
	}
}

func TestDrainCapacityPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	const name = "drain-capacity"

	s := testState()
	if got := violationsFor(evaluate(t, eng, sim.DrainWorker("worker-1"), s), name); len(got) != 0 {
		t.Errorf("two healthy workers: unexpected violations %+v", got)
	}

	single := testState()
	single.Workers = single.Workers[:1]
	got := violationsFor(evaluate(t, eng, sim.DrainWorker("worker-1"), single), name)
	if len(got) != 1 {
		t.Fatalf("last healthy worker: expected one violation, got %+v", got)
	}
	if !strings.Contains(got[0].Message, "12 machines") {
		t.Errorf("unexpected message: %q", got[0].Message)
	}

	if err := eng.SetLimits(ctx, Limits{RiskBudget: 10, MinHealthyWorkers: 2}); err != nil {
		t.Fatalf("SetLimits: %v", err)
	}
	if got := violationsFor(evaluate(t, eng, sim.DrainWorker("worker-1"), s), name); len(got) != 1 {
		t.Errorf("raised minimum: expected one violation, got %+v", got)
	}
}

func TestRiskBudgetPolicy(t *testing.T) {
	eng := newTestEngine(t)
	const name = "risk-budget"

	s := testState()
	s.Score.RiskyActions = 10

	if got := violationsFor(evaluate(t, eng, sim.QuickFixIncident("inc-1"), s), name); len(got) != 1 {
		t.Fatalf("expected budget warning, got %+v", got)
	}
	if got := violationsFor(evaluate(t, eng, sim.Investigate("inc-1"), s), name); len(got) != 0 {
		t.Errorf("investigate is not risky: %+v", got)
	}

	s.Score.RiskyActions = 9
	if got := violationsFor(evaluate(t, eng, sim.QuickFixIncident("inc-1"), s), name); len(got) != 0 {
		t.Errorf("under budget: %+v", got)
	}

	if err := eng.SetLimits(context.Background(), Limits{RiskBudget: 5, MinHealthyWorkers: 1}); err != nil {
		t.Fatalf("SetLimits: %v", err)
	}
	if got := violationsFor(evaluate(t, eng, sim.QuickFixIncident("inc-1"), s), name); len(got) != 1 {
		t.Errorf("lowered budget: expected warning, got %+v", got)
	}
}

func TestCheck(t *testing.T) {
	eng := newTestEngine(t)

	s := testState()
	s.Workers[0].ActiveFSMs = []sim.FSMOperation{
		{ID: "op-1", Type: sim.OperationMigration, State: sim.StatePending, Progress: 0},
	}

	verdict, err := eng.Check(context.Background(), sim.DrainWorker("worker-1"), s)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if verdict.Allowed {
		t.Fatal("expected drain during migration to be denied")
	}
	found := false
	for _, v := range verdict.Violations {
		if v.Policy == "drain-during-migration" && v.Severity == "error" {
			found = true
		}
	}
	if !found {
		t.Errorf("denying violation missing: %+v", verdict.Violations)
	}

	verdict, err = eng.Check(context.Background(), sim.RestartFlyd("worker-1"), s)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !verdict.Allowed || len(verdict.Violations) != 0 {
		t.Errorf("restart should pass cleanly: %+v", verdict)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	const name = "force-transition-requires-investigation"

	if err := eng.DisablePolicy(name); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}
	r := evaluate(t, eng, sim.ForceTransition("inc-1"), testState())
	if len(violationsFor(r, name)) != 0 {
		t.Error("disabled policy still produced violations")
	}
	for _, evaluated := range r.EvaluatedPolicies {
		if evaluated == name {
			t.Error("disabled policy was evaluated")
		}
	}

	if err := eng.ReloadPolicies(ctx, nil); err != nil {
		t.Fatalf("ReloadPolicies: %v", err)
	}
	p, err := eng.GetPolicy(name)
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if p.Enabled {
		t.Error("disable did not survive reload")
	}

	if err := eng.EnablePolicy(name); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}
	if got := violationsFor(evaluate(t, eng, sim.ForceTransition("inc-1"), testState()), name); len(got) != 1 {
		t.Errorf("re-enabled policy: expected one violation, got %+v", got)
	}

	if err := eng.DisablePolicy("nope"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestAddPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "no-restart-on-day-one",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package flysim.custom.day_one

import rego.v1

deny contains "Restarts are locked on day one." if {
	input.intent.type == "RESTART_FLYD"
	input.clock.day == 1
}
`,
	}
	if err := eng.AddPolicy(ctx, custom); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	r := evaluate(t, eng, sim.RestartFlyd("worker-1"), testState())
	got := violationsFor(r, custom.Name)
	if r.Allowed || len(got) != 1 {
		t.Fatalf("expected custom policy to deny, got %+v", r)
	}
	if got[0].Severity != SeverityError || got[0].Message != "Restarts are locked on day one." {
		t.Errorf("unexpected violation: %+v", got[0])
	}

	broken := Policy{Name: "broken", Rego: "package x\n\ndeny contains if {"}
	if err := eng.AddPolicy(ctx, broken); err == nil {
		t.Error("expected compile error")
	}
}

func TestReloadPoliciesKeepsPreviousSetOnError(t *testing.T) {
	eng := newTestEngine(t)
	before := len(eng.ListPolicies())

	err := eng.ReloadPolicies(context.Background(), []Policy{{Name: "broken", Rego: "package x\n\ndeny contains if {"}})
	if err == nil {
		t.Fatal("expected reload to fail")
	}
	if got := len(eng.ListPolicies()); got != before {
		t.Errorf("policy count changed from %d to %d", before, got)
	}
}

func TestEvaluateCancelledContext(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Evaluate(ctx, BuildInput(sim.RestartFlyd("worker-1"), testState())); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestBuildInput(t *testing.T) {
	s := testState()
	s.Workers[1].Status = sim.WorkerDegraded
	s.Incidents[0].Severity = sim.SeverityCritical

	in := BuildInput(sim.Investigate("inc-1"), s)
	if in.Incident == nil || in.Incident.ID != "inc-1" {
		t.Fatalf("incident not resolved: %+v", in.Incident)
	}
	if in.Worker == nil || in.Worker.ID != "worker-1" {
		t.Fatalf("incident worker not resolved: %+v", in.Worker)
	}

	want := FleetInput{Workers: 2, HealthyWorkers: 1, ActiveIncidents: 1, CriticalIncidents: 1}
	if in.Fleet != want {
		t.Errorf("Fleet = %+v, want %+v", in.Fleet, want)
	}

	missing := BuildInput(sim.DrainWorker("worker-9"), s)
	if missing.Worker != nil || missing.Incident != nil {
		t.Errorf("unknown target resolved: %+v", missing)
	}
}
