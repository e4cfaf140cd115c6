package protocol

import "time"

// InstanceState is the wire form of one agent instance inside an
// action_state_update broadcast. Position and rotation travel as positional
// triples.
type InstanceState struct {
	Position           [3]float64     `json:"position"`
	Rotation           [3]float64     `json:"rotation"`
	CurrentAction      string         `json:"current_action"`
	ActionParameters   map[string]any `json:"action_parameters,omitempty"`
	InteractingObjects []string       `json:"interacting_objects"`
	LastUpdateTime     time.Time      `json:"last_update_time"`
	CustomState        map[string]any `json:"custom_state,omitempty"`
}

// NewActionResultEnvelope wraps a dispatch result for transmission back to
// the requesting peer.
func NewActionResultEnvelope(result ActionResult) Envelope {
	p := Payload{"success": result.Success}
	if result.Data != nil {
		p["data"] = result.Data
	}
	if result.Error != "" {
		p["error"] = result.Error
	}
	return Envelope{
		Category: CategorySystem,
		Action:   ActionResultMessage,
		Payload:  p,
	}
}

// NewStateUpdateEnvelope builds the broadcast emitted after every agent
// instance mutation.
func NewStateUpdateEnvelope(instanceID string, state InstanceState) Envelope {
	return Envelope{
		Category: CategorySystem,
		Action:   ActionStateUpdateMessage,
		Payload: Payload{
			"instance_id": instanceID,
			"state":       state,
		},
	}
}

// NewEnvironmentUpdateEnvelope builds the broadcast emitted after an
// environment key changes.
func NewEnvironmentUpdateEnvelope(key string, value any) Envelope {
	return Envelope{
		Category: CategorySystem,
		Action:   EnvironmentUpdateMessage,
		Payload:  Payload{"key": key, "value": value},
	}
}

// NewFailureReply builds the error response sent when an inbound message
// cannot be dispatched at all (malformed envelope, transport-level trouble).
func NewFailureReply(message string) Envelope {
	return Envelope{
		Category: CategorySystem,
		Action:   "error",
		Payload:  Payload{"status": "failure", "error": message},
	}
}

// NewHandshakeEnvelope is the system message a dialing peer announces itself
// with once a connection is established.
func NewHandshakeEnvelope(apiKey string) Envelope {
	return Envelope{
		Category:  CategorySystem,
		Action:    ActionHandshake,
		APIKey:    apiKey,
		Timestamp: time.Now().Format(time.RFC3339),
		Payload:   Payload{},
	}
}

// NewDisconnectEnvelope is the best-effort goodbye sent before an orderly
// shutdown.
func NewDisconnectEnvelope() Envelope {
	return Envelope{
		Category:  CategorySystem,
		Action:    ActionDisconnect,
		Timestamp: time.Now().Format(time.RFC3339),
		Payload:   Payload{},
	}
}
