// Package telemetry provides observability for flysim sessions.
//
// It bundles four pillars behind a single Telemetry value:
//
//  1. Structured logging with zerolog, including component loggers and
//     session, worker, incident and intent fields.
//  2. OpenTelemetry tracing, one span per dispatched intent (stdout, otlp or none).
//  3. Prometheus metrics describing the fleet: uptime, workers by status,
//     unresolved incidents by severity, lifecycle counters and dispatch latency.
//  4. An event publisher that fans simulation events (incident.created,
//     day.started, game.ended and friends) out to subscribers such as the NATS
//     forwarder or the terminal bell.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Print("\a")
//	}, telemetry.FilterByType(telemetry.EventTypeIncidentCreated))
//
//	go tel.Metrics.Serve(ctx)
//
// Side operations of a session get their own span through Operation; a
// failure is logged with the trace ID and counted by error class:
//
//	ctx, end := tel.Operation(ctx, "session.checkpoint", sessionID)
//	end(store.SaveCheckpoint(ctx, sessionID, seed, state))
//
// Every constructor accepts a disabled configuration and returns a working
// no-op value, so callers never nil-check individual pillars. Nop returns a
// fully disabled bundle for tests.
package telemetry
