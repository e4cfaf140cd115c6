package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scenebridge/scenebridge/internal/action"
	"github.com/scenebridge/scenebridge/internal/state"
	"github.com/scenebridge/scenebridge/pkg/protocol"
)

// Actions beyond the protocol-reserved set that the built-in registry
// provides.
const (
	ActionGetState     = "get_state"
	ActionUpdateState  = "update_state"
	ActionAgentCommand = "agent_command"
)

// Permission strings guarding the built-in actions. Destructive actions the
// system recognizes but ships no handler for (delete_environment,
// reset_scene, modify_core_settings) are expected to require
// PermissionAdmin when registered.
const (
	PermissionAssetsImport      = "assets.import"
	PermissionEnvironmentModify = "environment.modify"
	PermissionAdmin             = "admin"
)

// DefaultCallerPermissions is what the wiring layer grants a newly attached
// session when permissive grants are enabled.
var DefaultCallerPermissions = []string{
	PermissionAssetsImport,
	PermissionEnvironmentModify,
}

// RegisterBuiltins installs the standard action set into the registry.
func RegisterBuiltins(reg *action.Registry, engine *state.Engine, assets AssetLoader, surface PlacementSurface) {
	reg.Register(action.Descriptor{
		ActionID:            protocol.ActionImportModel,
		RequiredPermissions: []string{PermissionAssetsImport},
		Params:              ImportModelParams{},
	}, &ImportModelHandler{Assets: assets})

	reg.Register(action.Descriptor{
		ActionID:            protocol.ActionPlaceModel,
		RequiredPermissions: []string{PermissionEnvironmentModify},
		Params:              PlaceModelParams{},
	}, &PlaceModelHandler{Assets: assets, Surface: surface, Engine: engine})

	reg.Register(action.Descriptor{
		ActionID: protocol.ActionAnalyzeEnvironment,
	}, &AnalyzeEnvironmentHandler{Engine: engine})

	reg.Register(action.Descriptor{
		ActionID: ActionGetState,
		Params:   GetStateParams{},
	}, &GetStateHandler{Engine: engine})

	reg.Register(action.Descriptor{
		ActionID:            ActionUpdateState,
		RequiredPermissions: []string{PermissionEnvironmentModify},
		Params:              UpdateStateParams{},
	}, &UpdateStateHandler{Engine: engine})

	reg.Register(action.Descriptor{
		ActionID: ActionAgentCommand,
		Params:   AgentCommandParams{},
	}, &AgentCommandHandler{Engine: engine})
}

// ImportModelHandler asks the asset service to load a model by path.
type ImportModelHandler struct {
	Assets AssetLoader
}

func (h *ImportModelHandler) Validate(params protocol.Payload) bool {
	_, ok := params.String("model_path")
	return ok
}

func (h *ImportModelHandler) Execute(ctx context.Context, params protocol.Payload) (protocol.ActionResult, error) {
	path, _ := params.String("model_path")
	handle, err := h.Assets.LoadAsset(ctx, path)
	if err != nil {
		return protocol.ActionResult{}, fmt.Errorf("import %s: %w", path, err)
	}
	return protocol.OK(map[string]any{
		"model_path": path,
		"handle":     string(handle),
	}), nil
}

// PlaceModelHandler loads a model and places it in the scene, creating a
// tracked instance whose state is broadcast through the sync engine.
type PlaceModelHandler struct {
	Assets  AssetLoader
	Surface PlacementSurface
	Engine  *state.Engine
}

func (h *PlaceModelHandler) Validate(params protocol.Payload) bool {
	if _, ok := params.String("model_name"); !ok {
		return false
	}
	_, _, ok := resolvePose(params)
	return ok
}

func (h *PlaceModelHandler) Execute(ctx context.Context, params protocol.Payload) (protocol.ActionResult, error) {
	name, _ := params.String("model_name")
	position, rotation, _ := resolvePose(params)

	handle, err := h.Assets.LoadAsset(ctx, name)
	if err != nil {
		return protocol.ActionResult{}, fmt.Errorf("load %s: %w", name, err)
	}
	ref, err := h.Surface.Place(ctx, handle, position, rotation)
	if err != nil {
		return protocol.ActionResult{}, fmt.Errorf("place %s: %w", name, err)
	}

	instanceID := string(ref)
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	currentAction := protocol.ActionPlaceModel
	h.Engine.UpdateAgentState(instanceID, state.Update{
		Position:      &position,
		Rotation:      &rotation,
		CurrentAction: &currentAction,
		CustomState:   map[string]any{"model_name": name},
	})

	return protocol.OK(map[string]any{
		"instance_id": instanceID,
		"model_name":  name,
		"position":    position,
		"rotation":    rotation,
	}), nil
}

// resolvePose extracts the placement pose: either a bare coordinates triple
// (zero rotation) or an explicit position/rotation pair.
func resolvePose(params protocol.Payload) (position, rotation protocol.Vec3, ok bool) {
	if coords, found := params.Vec3("coordinates"); found {
		return coords, protocol.Vec3{}, true
	}
	position, hasPos := params.Vec3("position")
	rotation, hasRot := params.Vec3("rotation")
	if !hasPos || !hasRot {
		return protocol.Vec3{}, protocol.Vec3{}, false
	}
	return position, rotation, true
}

// AnalyzeEnvironmentHandler snapshots the named collections tracked in
// environment state.
type AnalyzeEnvironmentHandler struct {
	Engine *state.Engine
}

func (h *AnalyzeEnvironmentHandler) Validate(protocol.Payload) bool {
	return true
}

func (h *AnalyzeEnvironmentHandler) Execute(_ context.Context, _ protocol.Payload) (protocol.ActionResult, error) {
	env := h.Engine.Environment()
	data := make(map[string]any, 3)
	for _, collection := range []string{"structures", "paths", "areas"} {
		if v, ok := env[collection]; ok {
			data[collection] = v
		} else {
			data[collection] = []any{}
		}
	}
	return protocol.OK(data), nil
}

// GetStateHandler returns one instance's snapshot, or the environment map
// when no instance id is given.
type GetStateHandler struct {
	Engine *state.Engine
}

func (h *GetStateHandler) Validate(protocol.Payload) bool {
	return true
}

func (h *GetStateHandler) Execute(_ context.Context, params protocol.Payload) (protocol.ActionResult, error) {
	instanceID, ok := params.String("instance_id")
	if !ok {
		return protocol.OK(map[string]any{"environment": h.Engine.Environment()}), nil
	}
	st, found := h.Engine.Instance(instanceID)
	if !found {
		return protocol.ActionResult{}, fmt.Errorf("%s: %w", instanceID, state.ErrInstanceNotFound)
	}
	return protocol.OK(map[string]any{
		"instance_id": instanceID,
		"state":       st.Wire(),
	}), nil
}

// UpdateStateHandler merges a partial state payload into an instance through
// the sync engine, which broadcasts the result as usual.
type UpdateStateHandler struct {
	Engine *state.Engine
}

func (h *UpdateStateHandler) Validate(params protocol.Payload) bool {
	if _, ok := params.String("instance_id"); !ok {
		return false
	}
	_, ok := params.Map("state")
	return ok
}

func (h *UpdateStateHandler) Execute(_ context.Context, params protocol.Payload) (protocol.ActionResult, error) {
	instanceID, _ := params.String("instance_id")
	stateMap, _ := params.Map("state")
	h.Engine.UpdateAgentState(instanceID, state.UpdateFromPayload(protocol.Payload(stateMap)))
	return protocol.OK(map[string]any{"instance_id": instanceID}), nil
}

// AgentCommandHandler forwards remote peer commands (movement targets,
// action triggers) to the sync engine.
type AgentCommandHandler struct {
	Engine *state.Engine
}

func (h *AgentCommandHandler) Validate(params protocol.Payload) bool {
	_, ok := params.String("instance_id")
	return ok
}

func (h *AgentCommandHandler) Execute(ctx context.Context, params protocol.Payload) (protocol.ActionResult, error) {
	instanceID, _ := params.String("instance_id")
	command := params
	if nested, ok := params.Map("command"); ok {
		command = protocol.Payload(nested)
	}
	if err := h.Engine.ApplyRemoteCommand(ctx, instanceID, command); err != nil {
		return protocol.ActionResult{}, err
	}
	return protocol.OK(map[string]any{"instance_id": instanceID}), nil
}
