package ws

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

// Frame types.
const (
	TypeIntent   = "intent"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeSnapshot = "snapshot"
	TypeOutcome  = "outcome"
	TypeEvent    = "event"
)

// InboundFrame is a message from a client.
type InboundFrame struct {
	Type string `json:"type"`

	// ID is echoed on the matching outcome or pong.
	ID string `json:"id,omitempty"`

	Intent *sim.Intent `json:"intent,omitempty"`
}

// SnapshotFrame carries a full state after every change.
type SnapshotFrame struct {
	Type  string    `json:"type"`
	State sim.State `json:"state"`
}

// OutcomeFrame answers an intent frame.
type OutcomeFrame struct {
	Type       string              `json:"type"`
	ID         string              `json:"id,omitempty"`
	Intent     sim.IntentKind      `json:"intent"`
	Changed    bool                `json:"changed"`
	Denied     bool                `json:"denied,omitempty"`
	Violations []session.Violation `json:"violations,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// EventFrame forwards a telemetry event.
type EventFrame struct {
	Type  string          `json:"type"`
	Event telemetry.Event `json:"event"`
}

// PongFrame answers a ping frame.
type PongFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// InboundSchema returns the JSON Schema document for client frames. The
// intent and incident type enums come from the catalog.
func InboundSchema() map[string]interface{} {
	var workerKinds, incidentKinds []sim.IntentKind
	for _, k := range sim.ClientIntents {
		switch k {
		case sim.IntentRestartFlyd, sim.IntentDrainWorker, sim.IntentCheckContainerd, sim.IntentInspectLVM:
			workerKinds = append(workerKinds, k)
		case sim.IntentInvestigate, sim.IntentViewLogs, sim.IntentForceTransition, sim.IntentQuickFix:
			incidentKinds = append(incidentKinds, k)
		}
	}

	requireWhen := func(kinds interface{}, field string) map[string]interface{} {
		return map[string]interface{}{
			"if": map[string]interface{}{
				"properties": map[string]interface{}{"type": map[string]interface{}{"enum": kinds}},
			},
			"then": map[string]interface{}{"required": []string{field}},
		}
	}

	return map[string]interface{}{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{"type"},
		"properties": map[string]interface{}{
			"type":   map[string]interface{}{"enum": []string{TypeIntent, TypePing}},
			"id":     map[string]interface{}{"type": "string", "maxLength": 64},
			"intent": map[string]interface{}{"$ref": "#/$defs/intent"},
		},
		"if": map[string]interface{}{
			"properties": map[string]interface{}{"type": map[string]interface{}{"const": TypeIntent}},
		},
		"then": map[string]interface{}{"required": []string{"intent"}},
		"$defs": map[string]interface{}{
			"intent": map[string]interface{}{
				"type":     "object",
				"required": []string{"type"},
				"properties": map[string]interface{}{
					"type":         map[string]interface{}{"enum": sim.ClientIntents},
					"workerId":     map[string]interface{}{"type": "string", "minLength": 1},
					"incidentId":   map[string]interface{}{"type": "string", "minLength": 1},
					"incidentType": map[string]interface{}{"enum": sim.IncidentTypes()},
					"gameSpeed":    map[string]interface{}{"type": "number", "exclusiveMinimum": 0, "maximum": sim.MaxGameSpeed},
				},
				"allOf": []interface{}{
					requireWhen(workerKinds, "workerId"),
					requireWhen(incidentKinds, "incidentId"),
					requireWhen([]sim.IntentKind{sim.IntentSetSpeed}, "gameSpeed"),
					requireWhen([]sim.IntentKind{sim.IntentMarkSeen}, "incidentType"),
				},
			},
		},
	}
}

// compileInboundSchema compiles InboundSchema.
func compileInboundSchema() (*jsonschema.Schema, error) {
	raw, err := json.Marshal(InboundSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to encode inbound schema: %w", err)
	}
	schema, err := jsonschema.CompileString("flysim-inbound.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile inbound schema: %w", err)
	}
	return schema, nil
}

// decodeFrame validates msg against the schema and decodes it.
func decodeFrame(schema *jsonschema.Schema, msg []byte) (InboundFrame, error) {
	var doc interface{}
	if err := json.Unmarshal(msg, &doc); err != nil {
		return InboundFrame{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return InboundFrame{}, err
	}

	var f InboundFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		return InboundFrame{}, fmt.Errorf("invalid frame: %w", err)
	}
	return f, nil
}
