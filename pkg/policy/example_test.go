package policy_test

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/flysim/pkg/policy"
	"github.com/openfroyo/flysim/pkg/sim"
)

func ExampleEngine_Check() {
	eng, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		panic(err)
	}

	s := sim.NewState(sim.DefaultParams())
	s.Workers[0].ActiveFSMs = []sim.FSMOperation{
		{ID: "mig-1", Type: sim.OperationMigration, State: sim.StateHydrating, Progress: 55},
	}

	verdict, err := eng.Check(context.Background(), sim.DrainWorker(s.Workers[0].ID), s)
	if err != nil {
		panic(err)
	}

	fmt.Println("allowed:", verdict.Allowed)
	for _, v := range verdict.Violations {
		fmt.Println(v.Severity, v.Policy)
	}
	// Output:
	// allowed: false
	// warning drain-capacity
	// error drain-during-migration
}
