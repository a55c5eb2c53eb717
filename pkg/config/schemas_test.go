package config

import (
	"context"
	"errors"
	"testing"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{SchemaTuning, SchemaWorker, SchemaInjection, SchemaDrill, "#IncidentType", "#Duration"} {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}
			if schema.Err() != nil {
				t.Errorf("schema has errors: %v", schema.Err())
			}
		})
	}

	names := sr.ListSchemas()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("ListSchemas not sorted: %v", names)
		}
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("window", `{start: int & >=0, end: int & >start}`); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}
	ctx := context.Background()
	if err := sr.ValidateAgainstSchema(ctx, "window", map[string]int{"start": 1, "end": 3}); err != nil {
		t.Errorf("valid data rejected: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "window", map[string]int{"start": 3, "end": 1}); err == nil {
		t.Error("expected end <= start to fail")
	}

	if err := sr.RegisterSchema("broken", `{a: }`); err == nil {
		t.Error("expected compile error")
	}
}

func TestSchemaRegistry_ValidateTuning(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	if err := sr.ValidateAgainstSchema(ctx, SchemaTuning, DefaultTuning()); err != nil {
		t.Fatalf("default tuning rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Tuning)
	}{
		{"probability above one", func(tu *Tuning) { tu.DrainSuccessRate = 1.5 }},
		{"zero day length", func(tu *Tuning) { tu.DayLength = 0 }},
		{"no workers", func(tu *Tuning) { tu.Workers = []WorkerTuning{} }},
		{"worker cpu above 100", func(tu *Tuning) { tu.Workers[0].CPU = 120 }},
		{"bad worker id", func(tu *Tuning) { tu.Workers[0].ID = "worker 1" }},
		{"game speed too high", func(tu *Tuning) { tu.GameSpeed = 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tu := DefaultTuning()
			tt.mutate(&tu)
			err := sr.ValidateAgainstSchema(ctx, SchemaTuning, tu)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ve ValidationErrors
			if !errors.As(err, &ve) || len(ve) == 0 {
				t.Errorf("expected ValidationErrors, got %T: %v", err, err)
			}
		})
	}
}

func TestSchemaRegistry_ValidateInjection(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	for _, typ := range sim.IncidentTypes() {
		inj := session.Injection{Day: 1, TimeInDay: 0, Type: typ}
		if err := sr.ValidateAgainstSchema(ctx, SchemaInjection, inj); err != nil {
			t.Errorf("%s rejected: %v", typ, err)
		}
	}

	bad := []session.Injection{
		{Day: 0, TimeInDay: 0, Type: sim.IncidentFlydStalled},
		{Day: 1, TimeInDay: -1, Type: sim.IncidentFlydStalled},
		{Day: 1, TimeInDay: 0, Type: "meteor_strike"},
	}
	for _, inj := range bad {
		if err := sr.ValidateAgainstSchema(ctx, SchemaInjection, inj); err == nil {
			t.Errorf("expected %+v to be rejected", inj)
		}
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.ValidateAgainstSchema(context.Background(), "#Missing", map[string]int{}); err == nil {
		t.Fatal("expected error for unknown schema")
	}
}
