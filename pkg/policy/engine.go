package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
)

// Limits are the tunable thresholds policies read from data.flysim.limits.
type Limits struct {
	// RiskBudget is the number of risky actions after which every further
	// risky action draws a warning.
	RiskBudget int `json:"risk_budget"`

	// MinHealthyWorkers is the healthy capacity a drain must leave behind
	// to avoid a warning.
	MinHealthyWorkers int `json:"min_healthy_workers"`
}

// DefaultLimits returns the stock thresholds.
func DefaultLimits() Limits {
	return Limits{RiskBudget: 10, MinHealthyWorkers: 1}
}

// Engine evaluates guardrail policies against player actions. It satisfies
// session.Guard.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	disabled map[string]bool
	store    storage.Store
	logger   zerolog.Logger
}

var _ session.Guard = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		disabled: make(map[string]bool),
		store:    inmem.NewFromObject(map[string]interface{}{"flysim": map[string]interface{}{"limits": limitsValue(DefaultLimits())}}),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// limitsValue converts l to the generic JSON form the store holds.
func limitsValue(l Limits) map[string]interface{} {
	raw, _ := json.Marshal(l)
	var v map[string]interface{}
	_ = json.Unmarshal(raw, &v)
	return v
}

// SetLimits replaces the thresholds. Compiled policies see the new values
// on their next evaluation.
func (e *Engine) SetLimits(ctx context.Context, l Limits) error {
	path := storage.MustParsePath("/flysim/limits")
	if err := storage.WriteOne(ctx, e.store, storage.ReplaceOp, path, limitsValue(l)); err != nil {
		return fmt.Errorf("failed to write limits: %w", err)
	}
	e.logger.Debug().
		Int("risk_budget", l.RiskBudget).
		Int("min_healthy_workers", l.MinHealthyWorkers).
		Msg("Limits updated")
	return nil
}

// Check implements session.Guard.
func (e *Engine) Check(ctx context.Context, in sim.Intent, s sim.State) (*session.Verdict, error) {
	result, err := e.Evaluate(ctx, BuildInput(in, s))
	if err != nil {
		return nil, err
	}

	verdict := &session.Verdict{Allowed: result.Allowed}
	for _, v := range result.Violations {
		verdict.Violations = append(verdict.Violations, session.Violation{
			Policy:   v.Policy,
			Severity: string(v.Severity),
			Message:  v.Message,
		})
	}
	return verdict, nil
}

// Evaluate runs every enabled policy against input. Policies that fail to
// evaluate are logged and listed in Result.Errors. An error is returned
// only when ctx is done.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("intent", string(input.Intent.Type)).
				Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity.Blocks() {
			result.Allowed = false
			break
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("intent", string(input.Intent.Type)).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	target := input.Intent.IncidentID
	if target == "" {
		target = input.Intent.WorkerID
	}

	var violations []Violation
	for _, r := range results {
		if len(r.Expressions) == 0 {
			continue
		}
		denySet, ok := r.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, target))
		}
	}
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation creates a Violation from one member of a deny set.
func createViolation(p Policy, result interface{}, target string) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
		Target:   target,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// compile parses a policy and prepares its deny query.
func (e *Engine) compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", p.Name)
	}

	query := module.Package.Path.String() + ".deny"
	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Store(e.store),
		rego.Query(query),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if e.disabled[p.Name] {
		p.Enabled = false
	}
	return &compiledPolicy{policy: p, query: prepared, compiled: time.Now()}, nil
}

// AddPolicy compiles and registers a policy, replacing any policy with the
// same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, err := e.compile(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
	}
	e.policies[p.Name] = cp
	e.logger.Debug().Str("policy", p.Name).Msg("Policy compiled successfully")
	return nil
}

// LoadPolicies loads policy files and directories on top of the current set.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	for _, p := range policies {
		if err := e.AddPolicy(ctx, p); err != nil {
			return err
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded successfully")
	return nil
}

// ReloadPolicies rebuilds the policy set from the built-ins and the given
// policies. The previous set stays in force if any policy fails to compile.
func (e *Engine) ReloadPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy)
	for _, p := range append(BuiltinPolicies(), policies...) {
		cp, err := e.compile(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		next[p.Name] = cp
	}
	e.policies = next

	e.logger.Info().Int("count", len(next)).Msg("Policies reloaded")
	return nil
}

// Watch reloads policies from paths whenever a file under them changes.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return NewLoader(e.logger).Watch(ctx, paths, func(policies []Policy) error {
		return e.ReloadPolicies(ctx, policies)
	})
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := BuiltinPolicies()
	for _, p := range builtins {
		if err := e.AddPolicy(ctx, p); err != nil {
			return err
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return Policy{}, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name. The choice survives reloads.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	if enabled {
		delete(e.disabled, name)
	} else {
		e.disabled[name] = true
	}

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
