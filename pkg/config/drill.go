package config

import (
	"context"
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
)

// Drill is a scripted incident schedule.
type Drill struct {
	Name       string              `json:"name,omitempty"`
	Injections []session.Injection `json:"injections"`
}

// EvaluateDrill runs a drill script. Scripts call
//
//	inject(day, tick, type, worker="")
//
// once per incident and may read INCIDENT_TYPES, DAY_LENGTH, TOTAL_DAYS and
// WORKERS. Injections are returned sorted by game time; injections sharing
// a time keep script order.
func (l *Loader) EvaluateDrill(ctx context.Context, name, script string, p sim.Params) ([]session.Injection, error) {
	var injections []session.Injection

	inject := starlark.NewBuiltin("inject", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			day, tick int
			typ       string
			worker    string
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "day", &day, "tick", &tick, "type", &typ, "worker?", &worker); err != nil {
			return nil, err
		}

		if day < 1 || day > p.TotalDays {
			return nil, fmt.Errorf("%s: day %d outside 1..%d", b.Name(), day, p.TotalDays)
		}
		if tick < 0 || tick >= p.DayLength {
			return nil, fmt.Errorf("%s: tick %d outside 0..%d", b.Name(), tick, p.DayLength-1)
		}
		t := sim.IncidentType(typ)
		if _, ok := sim.Spec(t); !ok {
			return nil, fmt.Errorf("%s: unknown incident type %q", b.Name(), typ)
		}

		injections = append(injections, session.Injection{
			Day:       day,
			TimeInDay: tick,
			Type:      t,
			WorkerID:  worker,
		})
		return starlark.None, nil
	})

	types := make([]string, 0, len(sim.IncidentTypes()))
	for _, t := range sim.IncidentTypes() {
		types = append(types, string(t))
	}
	workers := make([]string, 0, len(p.InitialWorkers))
	for _, w := range p.InitialWorkers {
		workers = append(workers, w.ID)
	}

	input := map[string]interface{}{
		"INCIDENT_TYPES": types,
		"DAY_LENGTH":     p.DayLength,
		"TOTAL_DAYS":     p.TotalDays,
		"WORKERS":        workers,
	}
	if _, err := l.starlark.run(ctx, name, script, input, starlark.StringDict{"inject": inject}); err != nil {
		return nil, fmt.Errorf("drill %s: %w", name, err)
	}

	sort.SliceStable(injections, func(i, j int) bool {
		a, b := injections[i], injections[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.TimeInDay < b.TimeInDay
	})

	drill := Drill{Name: name, Injections: injections}
	if drill.Injections == nil {
		drill.Injections = []session.Injection{}
	}
	if err := l.schemas.ValidateAgainstSchema(ctx, SchemaDrill, drill); err != nil {
		return nil, fmt.Errorf("drill %s: %w", name, err)
	}
	return injections, nil
}
