// Package event defines the incoming telemetry event model.
//
// Events arrive from the external chronik log with an open string type
// tag. The engine dispatches on a closed Type enumeration; anything it
// does not recognize maps to TypeCustom so the Observer's switch stays
// exhaustive.
package event

import (
	"fmt"
	"time"
)

// Type is the closed enumeration of event kinds the engine understands.
type Type string

const (
	TypeCIResult         Type = "ci.result"
	TypeDeployResult     Type = "deploy.result"
	TypeIncidentDetected Type = "incident.detected"
	TypePatternGood      Type = "pattern.good"
	TypePatternBad       Type = "pattern.bad"
	TypeEpicUpdate       Type = "epic.update"
	TypeOperatorCommand  Type = "operator.command"

	// TypeCustom is the fallback for any unrecognized declared type.
	TypeCustom Type = "custom"
)

// knownTypes maps raw wire strings to their Type.
var knownTypes = map[string]Type{
	string(TypeCIResult):         TypeCIResult,
	string(TypeDeployResult):     TypeDeployResult,
	string(TypeIncidentDetected): TypeIncidentDetected,
	string(TypePatternGood):      TypePatternGood,
	string(TypePatternBad):       TypePatternBad,
	string(TypeEpicUpdate):       TypeEpicUpdate,
	string(TypeOperatorCommand):  TypeOperatorCommand,
}

// ParseType maps a declared type string to a Type, falling back to TypeCustom.
func ParseType(s string) Type {
	if t, ok := knownTypes[s]; ok {
		return t
	}
	return TypeCustom
}

// Event is one discrete record pulled from the external event log.
// Immutable once received; keyed by ID in the engine's append-only index.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Kind returns the closed-enumeration type of the event.
func (e *Event) Kind() Type { return ParseType(e.Type) }

// String returns a payload value as a string, or "" when absent or not a string.
func (e *Event) String(key string) string {
	v, ok := e.Payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Command is a parsed operator command carried in an operator.command payload.
type Command struct {
	Tool    string         `json:"tool"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// ParseCommand extracts an operator command from an event payload.
// A well-formed command names both a tool and a command verb.
func ParseCommand(payload map[string]any) (*Command, error) {
	tool, _ := payload["tool"].(string)
	verb, _ := payload["command"].(string)
	if tool == "" || verb == "" {
		return nil, fmt.Errorf("event: malformed operator command: tool=%q command=%q", tool, verb)
	}
	args, _ := payload["args"].(map[string]any)
	return &Command{Tool: tool, Command: verb, Args: args}, nil
}
