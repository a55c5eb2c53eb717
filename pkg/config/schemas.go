package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/openfroyo/flysim/pkg/sim"
)

// Names of the built-in schemas.
const (
	SchemaTuning    = "#Tuning"
	SchemaWorker    = "#Worker"
	SchemaInjection = "#Injection"
	SchemaDrill     = "#Drill"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSource(builtinSchemas()); err != nil {
		// The built-in source is generated from the incident catalog and
		// must always compile.
		panic(err)
	}
	return sr
}

// Context returns the CUE context the schemas were compiled in. Values
// unified with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSource compiles a CUE source and registers every top-level
// definition it declares under its own name, e.g. "#Tuning".
func (sr *SchemaRegistry) RegisterSource(src string) error {
	val := sr.ctx.CompileString(src, cue.Filename("schemas.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schemas: %w", err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	for iter.Next() {
		if !iter.Selector().IsDefinition() {
			continue
		}
		sr.schemas[iter.Selector().String()] = iter.Value()
	}
	return nil
}

// RegisterSchema registers a single CUE expression under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema. Data is
// passed through its JSON form so custom marshalers such as Duration are
// honoured.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	dataVal := sr.ctx.CompileBytes(raw)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	return sr.Validate(schemaName, schema.Unify(dataVal))
}

// Validate checks an already unified value and converts any failure into
// ValidationErrors.
func (sr *SchemaRegistry) Validate(schemaName string, val cue.Value) error {
	if err := val.Validate(cue.Concrete(true)); err != nil {
		errs := convertCUEErrors(err)
		if len(errs) == 0 {
			return fmt.Errorf("%s: %w", schemaName, err)
		}
		return errs
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinSchemas renders the built-in definitions. The incident type
// disjunction follows the catalog.
func builtinSchemas() string {
	quoted := make([]string, 0, len(sim.IncidentTypes()))
	for _, t := range sim.IncidentTypes() {
		quoted = append(quoted, fmt.Sprintf("%q", string(t)))
	}
	return fmt.Sprintf(builtinSchemaSource, strings.Join(quoted, " | "))
}

const builtinSchemaSource = `
// A Go duration string such as "1s" or "250ms", or whole milliseconds.
#Duration: (string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$") | (int & >=0)

#Percent: number & >=0 & <=100

#Probability: number & >=0 & <=1

#Worker: {
	id:        string & =~"^[a-zA-Z0-9_.-]+$"
	name:      string & !=""
	cpu:       #Percent
	memory:    #Percent
	disk:      #Percent
	machines?: int & >=0
}

// Every field is optional in a tuning file; missing ones keep their
// defaults.
#Tuning: {
	tick_period?:                  #Duration
	game_speed?:                   number & >0 & <=10
	incident_interval?:            #Duration
	day_length?:                   int & >0
	total_days?:                   int & >0
	max_workers?:                  int & >0
	machines_per_worker?:          int & >0
	restart_duration?:             #Duration
	auto_resolve_min_age?:         #Duration
	feedback_ttl?:                 #Duration
	uptime_impact_cap?:            number & >0 & <=100
	base_incident_rate?:           #Probability
	degraded_stress_multiplier?:   number & >=1
	drain_success_rate?:           #Probability
	emergency_drain_success_rate?: #Probability
	force_success_rate?:           #Probability
	investigated_bonus?:           number & >=0
	jitter?:                       number & >=0 & <=50
	gauge_floor?:                  number & >=0 & <100
	workers?: [#Worker, ...#Worker]
}

#IncidentType: %s

#Injection: {
	day:     int & >=1
	tick:    int & >=0
	type:    #IncidentType
	worker?: string
}

#Drill: {
	name?: string
	injections: [...#Injection]
}
`
