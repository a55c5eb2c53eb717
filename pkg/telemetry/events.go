package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable simulation occurrence published to subscribers such as
// the NATS forwarder, the terminal bell or the websocket bridge.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`

	SessionID  string `json:"session_id,omitempty"`
	WorkerID   string `json:"worker_id,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`

	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeIncidentCreated    = "incident.created"
	EventTypeIncidentResolved   = "incident.resolved"
	EventTypeActionResolved     = "action.resolved"
	EventTypeDayStarted         = "day.started"
	EventTypeWorkerProvisioned  = "worker.provisioned"
	EventTypeMigrationCompleted = "migration.completed"
	EventTypeGameEnded          = "game.ended"
	EventTypeGuardrailViolation = "guardrail.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles one event.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In async mode events are
// queued and delivered in publish order by a single goroutine, in batches of
// at most MaxBatchSize or whatever arrived within FlushInterval.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish stamps and delivers an event. In async mode a full queue drops the
// event and returns an error; the simulation never blocks on subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Source == "" {
		event.Source = "session"
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, %s dropped", event.Type)
	}
}

// PublishIncidentCreated announces a new incident.
func (ep *EventPublisher) PublishIncidentCreated(sessionID, incidentID, workerID, incidentType, severity, title string) error {
	return ep.Publish(Event{
		Type:       EventTypeIncidentCreated,
		SessionID:  sessionID,
		WorkerID:   workerID,
		IncidentID: incidentID,
		Message:    title,
		Level:      levelForSeverity(severity),
		Data: map[string]interface{}{
			"incident_type": incidentType,
			"severity":      severity,
		},
	})
}

// PublishIncidentResolved announces a resolved incident.
func (ep *EventPublisher) PublishIncidentResolved(sessionID, incidentID, workerID, incidentType string) error {
	return ep.Publish(Event{
		Type:       EventTypeIncidentResolved,
		SessionID:  sessionID,
		WorkerID:   workerID,
		IncidentID: incidentID,
		Message:    fmt.Sprintf("%s resolved", incidentType),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"incident_type": incidentType,
		},
	})
}

// PublishActionResolved reports the feedback a player action produced.
func (ep *EventPublisher) PublishActionResolved(sessionID, intent, target, outcome, title string) error {
	level := EventLevelInfo
	switch outcome {
	case "warning":
		level = EventLevelWarning
	case "error":
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:      EventTypeActionResolved,
		SessionID: sessionID,
		Message:   title,
		Level:     level,
		Data: map[string]interface{}{
			"intent":  intent,
			"target":  target,
			"outcome": outcome,
		},
	})
}

func (ep *EventPublisher) PublishDayStarted(sessionID string, day int, uptime float64) error {
	return ep.Publish(Event{
		Type:      EventTypeDayStarted,
		SessionID: sessionID,
		Message:   fmt.Sprintf("Day %d started", day),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"day":    day,
			"uptime": uptime,
		},
	})
}

func (ep *EventPublisher) PublishWorkerProvisioned(sessionID, workerID string) error {
	return ep.Publish(Event{
		Type:      EventTypeWorkerProvisioned,
		SessionID: sessionID,
		WorkerID:  workerID,
		Message:   fmt.Sprintf("Worker %s joined the fleet", workerID),
		Level:     EventLevelInfo,
	})
}

func (ep *EventPublisher) PublishMigrationCompleted(sessionID, workerID, operationID string) error {
	return ep.Publish(Event{
		Type:      EventTypeMigrationCompleted,
		SessionID: sessionID,
		WorkerID:  workerID,
		Message:   fmt.Sprintf("Migration %s completed", operationID),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"operation_id": operationID,
		},
	})
}

// PublishGameEnded announces the final rating.
func (ep *EventPublisher) PublishGameEnded(sessionID, rating string, uptime float64) error {
	return ep.Publish(Event{
		Type:      EventTypeGameEnded,
		SessionID: sessionID,
		Message:   fmt.Sprintf("Shift over: %s", rating),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"rating": rating,
			"uptime": uptime,
		},
	})
}

// PublishGuardrailViolation reports a policy hit on a player intent.
func (ep *EventPublisher) PublishGuardrailViolation(sessionID, intent, policy, severity, message string) error {
	level := EventLevelWarning
	if severity == "error" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:      EventTypeGuardrailViolation,
		Source:    "guardrails",
		SessionID: sessionID,
		Message:   message,
		Level:     level,
		Data: map[string]interface{}{
			"intent":   intent,
			"policy":   policy,
			"severity": severity,
		},
	})
}

func levelForSeverity(severity string) string {
	switch severity {
	case "critical":
		return EventLevelError
	case "high", "medium":
		return EventLevelWarning
	default:
		return EventLevelInfo
	}
}

// Subscribe adds a subscriber. A nil filter receives everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	flushEvery := ep.config.FlushInterval
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-ep.ctx.Done():
			// Drain whatever was queued before shutdown.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers queued events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel only allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	floor := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= floor
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterBySession only allows events from one session.
func FilterBySession(sessionID string) EventFilter {
	return func(event Event) bool {
		return event.SessionID == sessionID
	}
}
