package telemetry

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Telemetry bundles logging, tracing, metrics and events for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return build(cfg, logger)
}

// NewTelemetryWithWriter is NewTelemetry with logs sent to w.
func NewTelemetryWithWriter(cfg *Config, w io.Writer) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return build(cfg, NewLoggerWithWriter(cfg.Logging, w))
}

func build(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry with every pillar disabled.
func Nop() *Telemetry {
	cfg := TestConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// Shutdown drains events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// Operation starts a span for a side operation of a session, such as a
// checkpoint save or a drill injection. The returned func ends the span;
// a non-nil error is recorded on the span, logged and counted under the
// operation's error class.
func (t *Telemetry) Operation(ctx context.Context, name, sessionID string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, AttrSessionID.String(sessionID))
	ctx, span := t.Tracer.StartSpan(ctx, name, attrs...)
	timer := NewTimer()
	return ctx, func(err error) {
		defer span.End()
		if err == nil {
			RecordSuccess(span)
			return
		}
		RecordError(span, err)
		class := errorClass(name)
		span.SetAttributes(AttrErrorClass.String(class))
		t.Metrics.RecordError(class)
		t.Logger.WithSessionID(sessionID).
			WithField("operation", name).
			WithField("trace_id", TraceID(ctx)).
			WithField("elapsed", timer.Duration()).
			WithError(err).
			Warn("operation failed")
	}
}

// errorClass maps "session.checkpoint" to "checkpoint".
func errorClass(operation string) string {
	if i := strings.LastIndexByte(operation, '.'); i >= 0 {
		return operation[i+1:]
	}
	return operation
}
