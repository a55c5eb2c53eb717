package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

// DefaultPrefix is the subject root for everything the bus publishes.
const DefaultPrefix = "flysim"

// Dispatcher applies intents received over NATS.
type Dispatcher interface {
	Dispatch(ctx context.Context, in sim.Intent) (session.Outcome, error)
}

// publisher is the subset of *nats.Conn used for forwarding.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Config configures the connection.
type Config struct {
	URL    string
	Prefix string

	// Name identifies the client to the server.
	Name string

	ConnectTimeout time.Duration
	ReconnectWait  time.Duration

	// DispatchTimeout bounds each remote intent.
	DispatchTimeout time.Duration
}

// Bus forwards telemetry events to NATS subjects and optionally serves
// intents over request/reply.
type Bus struct {
	nc     *nats.Conn
	pub    publisher
	prefix string
	cfg    Config
	log    *telemetry.Logger
	subs   []*nats.Subscription
}

// Connect dials the NATS server. The client reconnects forever once the
// first connection succeeds.
func Connect(cfg Config, logger *telemetry.Logger) (*Bus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "flysim"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	log := logger.NewComponentLogger("natsbus")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	b := newBus(nc, cfg, log)
	b.nc = nc
	return b, nil
}

func newBus(pub publisher, cfg Config, log *telemetry.Logger) *Bus {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 5 * time.Second
	}
	return &Bus{pub: pub, prefix: cfg.Prefix, cfg: cfg, log: log}
}

// EventSubject returns the subject an event type is published on, e.g.
// flysim.events.incident.created.
func (b *Bus) EventSubject(eventType string) string {
	return b.prefix + ".events." + eventType
}

// IntentSubject returns the request subject for a session's intents.
func (b *Bus) IntentSubject(sessionID string) string {
	return b.prefix + ".intents." + sessionID
}

// Forward subscribes the bus to events. A nil filter forwards everything.
func (b *Bus) Forward(events *telemetry.EventPublisher, filter telemetry.EventFilter) {
	events.Subscribe(b.publishEvent, filter)
}

func (b *Bus) publishEvent(e telemetry.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.log.WithError(err).Error("failed to encode event")
		return
	}
	if err := b.pub.Publish(b.EventSubject(e.Type), data); err != nil {
		b.log.WithError(err).WithField("event", e.Type).Warn("failed to publish event")
	}
}

// ServeIntents answers requests on IntentSubject(sessionID). Each request
// body is a sim.Intent; the reply is a Reply.
func (b *Bus) ServeIntents(ctx context.Context, sessionID string, d Dispatcher) error {
	if b.nc == nil {
		return fmt.Errorf("natsbus: not connected")
	}
	subject := b.IntentSubject(sessionID)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply := b.handleIntent(ctx, d, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			b.log.WithError(err).Warn("failed to respond to intent")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	b.log.WithField("subject", subject).Info("serving intents")
	return nil
}

// Reply answers an intent request.
type Reply struct {
	Changed    bool                `json:"changed"`
	Denied     bool                `json:"denied,omitempty"`
	Violations []session.Violation `json:"violations,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func (b *Bus) handleIntent(ctx context.Context, d Dispatcher, data []byte) []byte {
	var reply Reply

	var in sim.Intent
	if err := json.Unmarshal(data, &in); err != nil {
		reply.Error = fmt.Sprintf("invalid intent: %v", err)
	} else if !in.Kind.IsClient() {
		reply.Error = fmt.Sprintf("intent %q is not accepted remotely", in.Kind)
	} else {
		dctx, cancel := context.WithTimeout(ctx, b.cfg.DispatchTimeout)
		out, err := d.Dispatch(dctx, in)
		cancel()
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Changed = out.Changed
			reply.Denied = out.Denied
			reply.Violations = out.Violations
		}
	}

	raw, _ := json.Marshal(reply)
	return raw
}

// Close unsubscribes and drains the connection.
func (b *Bus) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
	}
}
