package protocol

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports a structurally malformed envelope. It is always
// recoverable: the connection stays open and the sender gets a failure reply.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid envelope: " + e.Reason
}

// routing fields lifted out of the flat wire object; everything else is
// payload.
const (
	fieldCategory  = "category"
	fieldAction    = "action"
	fieldAPIKey    = "api_key"
	fieldTimestamp = "timestamp"
)

// Encode serializes an envelope to its flat wire form.
func Encode(env Envelope) ([]byte, error) {
	out := make(map[string]any, len(env.Payload)+4)
	for k, v := range env.Payload {
		out[k] = v
	}
	out[fieldCategory] = string(env.Category)
	out[fieldAction] = env.Action
	if env.APIKey != "" {
		out[fieldAPIKey] = env.APIKey
	}
	if env.Timestamp != "" {
		out[fieldTimestamp] = env.Timestamp
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses and structurally validates one wire message. It fails with a
// ValidationError when the bytes are not a JSON object, the action field is
// absent, or a reserved action is missing one of its required fields.
// Unknown actions decode cleanly; rejecting them is the dispatcher's job.
func Decode(data []byte) (Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, &ValidationError{Reason: "payload is not well-formed JSON"}
	}

	action, ok := raw[fieldAction].(string)
	if !ok || action == "" {
		return Envelope{}, &ValidationError{Reason: "action not specified"}
	}

	env := Envelope{
		Category: CategoryUser,
		Action:   action,
		Payload:  make(Payload, len(raw)),
	}
	if c, ok := raw[fieldCategory].(string); ok && c != "" {
		env.Category = Category(c)
	}
	if key, ok := raw[fieldAPIKey].(string); ok {
		env.APIKey = key
	}
	if ts, ok := raw[fieldTimestamp].(string); ok {
		env.Timestamp = ts
	}
	for k, v := range raw {
		switch k {
		case fieldCategory, fieldAction, fieldAPIKey, fieldTimestamp:
		default:
			env.Payload[k] = v
		}
	}

	if err := checkRequiredFields(env.Action, env.Payload); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// checkRequiredFields enforces the field rules for reserved actions. These
// are protocol-level: they hold whether or not a handler is registered.
func checkRequiredFields(action string, p Payload) error {
	switch action {
	case ActionImportModel:
		if _, ok := p.String("model_path"); !ok {
			return &ValidationError{Reason: "import_model requires model_path"}
		}
	case ActionPlaceModel:
		if _, ok := p.String("model_name"); !ok {
			return &ValidationError{Reason: "place_model requires model_name"}
		}
		if _, ok := p.Vec3("coordinates"); ok {
			return nil
		}
		_, hasPos := p.Vec3("position")
		_, hasRot := p.Vec3("rotation")
		if !hasPos || !hasRot {
			return &ValidationError{Reason: "place_model requires coordinates or position and rotation"}
		}
	case ActionAnalyzeEnvironment:
		// No required fields.
	}
	return nil
}
