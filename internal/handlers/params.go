package handlers

import "github.com/scenebridge/scenebridge/pkg/protocol"

// Parameter prototypes for the built-in actions. They exist so the
// introspection API can publish a JSON schema per action; the handlers
// themselves work on the decoded payload directly.

type ImportModelParams struct {
	ModelPath string `json:"model_path"`
}

type PlaceModelParams struct {
	ModelName   string         `json:"model_name"`
	Coordinates *protocol.Vec3 `json:"coordinates,omitempty"`
	Position    *protocol.Vec3 `json:"position,omitempty"`
	Rotation    *protocol.Vec3 `json:"rotation,omitempty"`
}

type GetStateParams struct {
	InstanceID string `json:"instance_id,omitempty"`
}

type UpdateStateParams struct {
	InstanceID string         `json:"instance_id"`
	State      map[string]any `json:"state"`
}

type AgentCommandParams struct {
	InstanceID     string         `json:"instance_id"`
	TargetPosition *protocol.Vec3 `json:"target_position,omitempty"`
	Action         string         `json:"action,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}
