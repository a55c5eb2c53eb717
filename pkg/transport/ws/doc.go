// Package ws exposes a running session to a presentation layer over
// websocket.
//
// Clients send JSON frames validated against InboundSchema:
//
//	{"type": "intent", "id": "7", "intent": {"type": "DRAIN_WORKER", "workerId": "worker-1"}}
//	{"type": "ping", "id": "8"}
//
// and receive snapshot frames on every state change, one outcome frame per
// intent frame, pong frames, and event frames for telemetry events when the
// server was given an event publisher. Frames that fail validation are
// dropped without a reply.
package ws
