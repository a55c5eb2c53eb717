package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
)

// Loader reads tuning files and drill scripts.
type Loader struct {
	schemas   *SchemaRegistry
	starlark  *StarlarkEvaluator
	validator *validator.Validate
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	return &Loader{
		schemas:   NewSchemaRegistry(),
		starlark:  NewStarlarkEvaluator(5 * time.Second),
		validator: v,
	}
}

// Schemas returns the schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadTuning reads a tuning file. The format follows the extension: .cue
// files are unified with the #Tuning schema, .yaml, .yml and .json files are
// decoded strictly. Fields the file omits keep their DefaultTuning values.
func (l *Loader) LoadTuning(ctx context.Context, path string) (Tuning, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("failed to read tuning file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return l.parseCUE(ctx, path, content)
	case ".yaml", ".yml", ".json":
		return l.parseYAML(ctx, path, content)
	default:
		return Tuning{}, fmt.Errorf("unsupported tuning file extension %q", filepath.Ext(path))
	}
}

// ParseInline parses inline CUE tuning content.
func (l *Loader) ParseInline(ctx context.Context, content string) (Tuning, error) {
	return l.parseCUE(ctx, "inline", []byte(content))
}

func (l *Loader) parseCUE(ctx context.Context, path string, content []byte) (Tuning, error) {
	cctx := l.schemas.Context()
	val := cctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		if errs := convertCUEErrors(err); len(errs) > 0 {
			return Tuning{}, withFile(errs, path)
		}
		return Tuning{}, fmt.Errorf("failed to compile %s: %w", path, err)
	}

	schema, ok := l.schemas.GetSchema(SchemaTuning)
	if !ok {
		return Tuning{}, fmt.Errorf("schema %s not found", SchemaTuning)
	}
	unified := schema.Unify(val)
	if err := l.schemas.Validate(SchemaTuning, unified); err != nil {
		var ve ValidationErrors
		if errors.As(err, &ve) {
			return Tuning{}, withFile(ve, path)
		}
		return Tuning{}, err
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return Tuning{}, fmt.Errorf("failed to export tuning: %w", err)
	}
	t := DefaultTuning()
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("failed to decode tuning: %w", err)
	}
	if err := l.ValidateTuning(ctx, t); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

func (l *Loader) parseYAML(ctx context.Context, path string, content []byte) (Tuning, error) {
	t := DefaultTuning()
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, withFile(yamlErrors(err), path)
	}
	if err := l.ValidateTuning(ctx, t); err != nil {
		var ve ValidationErrors
		if errors.As(err, &ve) {
			return Tuning{}, withFile(ve, path)
		}
		return Tuning{}, err
	}
	return t, nil
}

// ValidateTuning checks a tuning against its struct tags, the #Tuning schema
// and the engine's own parameter rules.
func (l *Loader) ValidateTuning(ctx context.Context, t Tuning) error {
	var errs ValidationErrors

	if err := l.validator.Struct(t); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate tuning: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	if err := l.schemas.ValidateAgainstSchema(ctx, SchemaTuning, t); err != nil {
		return err
	}

	if t.MaxWorkers < len(t.Workers) {
		errs = append(errs, ValidationError{
			Path:    "max_workers",
			Message: fmt.Sprintf("%d is below the %d configured workers", t.MaxWorkers, len(t.Workers)),
		})
	}
	seen := make(map[string]bool, len(t.Workers))
	for i, w := range t.Workers {
		if seen[w.ID] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("workers.%d.id", i),
				Message: fmt.Sprintf("duplicate worker id %q", w.ID),
			})
		}
		seen[w.ID] = true
	}
	if len(errs) > 0 {
		return errs
	}

	return t.Params().Validate()
}

// LoadParams reads a tuning file and returns the engine parameters and the
// initial game speed. An empty path yields the defaults.
func (l *Loader) LoadParams(ctx context.Context, path string) (sim.Params, float64, error) {
	if path == "" {
		return sim.DefaultParams(), 1, nil
	}
	t, err := l.LoadTuning(ctx, path)
	if err != nil {
		return sim.Params{}, 0, err
	}
	return t.Params(), t.GameSpeed, nil
}

// LoadDrill runs a Starlark drill script and returns its injections in
// firing order.
func (l *Loader) LoadDrill(ctx context.Context, path string, p sim.Params) ([]session.Injection, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read drill script: %w", err)
	}
	return l.EvaluateDrill(ctx, filepath.Base(path), string(content), p)
}

// fieldPath turns a validator namespace such as "Tuning.workers[0].cpu"
// into "workers.0.cpu".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	ns = strings.ReplaceAll(ns, "[", ".")
	return strings.ReplaceAll(ns, "]", "")
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{Path: strings.Join(e.Path(), ".")}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
		}
		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)
		out = append(out, ve)
	}
	return out
}

// yamlErrors splits a yaml.TypeError into one entry per problem.
func yamlErrors(err error) ValidationErrors {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		out := make(ValidationErrors, 0, len(te.Errors))
		for _, msg := range te.Errors {
			out = append(out, ValidationError{Message: msg})
		}
		return out
	}
	return ValidationErrors{{Message: err.Error()}}
}

func withFile(errs ValidationErrors, path string) ValidationErrors {
	for i := range errs {
		if errs[i].File == "" {
			errs[i].File = path
		}
	}
	return errs
}
