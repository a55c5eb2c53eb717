package telemetry_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/flysim/pkg/telemetry"
)

// Example_eventPublishing subscribes to incident events with synchronous
// delivery, which keeps the output ordered.
func Example_eventPublishing() {
	cfg := telemetry.TestConfig()

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Printf("%s [%s] %s\n", e.Type, e.Level, e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeIncidentCreated, telemetry.EventTypeGameEnded))

	_ = tel.Events.PublishIncidentCreated("s1", "incident-1", "worker-1", "kernel_panic", "critical", "Kernel Panic")
	_ = tel.Events.PublishDayStarted("s1", 2, 97.5)
	_ = tel.Events.PublishGameEnded("s1", "Competent Operator", 96)

	// Output:
	// incident.created [error] Kernel Panic
	// game.ended [info] Shift over: Competent Operator
}

// Example_structuredLogging shows the field helpers used by the session runtime.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("session").
		WithSessionID("7f0c").
		WithIntent("DRAIN_WORKER").
		WithWorkerID("worker-2")

	logger.Info("dispatching intent")
	logger.WithError(fmt.Errorf("guardrail denied")).Warn("intent replaced with feedback")
}
