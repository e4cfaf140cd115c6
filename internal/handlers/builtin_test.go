package handlers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/scenebridge/scenebridge/internal/action"
	"github.com/scenebridge/scenebridge/internal/auth"
	"github.com/scenebridge/scenebridge/internal/state"
	"github.com/scenebridge/scenebridge/pkg/protocol"
)

type mockAssets struct {
	mu      sync.Mutex
	loaded  []string
	missing map[string]bool
}

func (m *mockAssets) LoadAsset(_ context.Context, path string) (AssetHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[path] {
		return "", fmt.Errorf("%s: %w", path, ErrAssetNotFound)
	}
	m.loaded = append(m.loaded, path)
	return AssetHandle("handle:" + path), nil
}

type mockSurface struct {
	mu     sync.Mutex
	placed []protocol.Vec3
	refs   int
}

func (m *mockSurface) Place(_ context.Context, _ AssetHandle, position, _ protocol.Vec3) (InstanceRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, position)
	m.refs++
	return InstanceRef(fmt.Sprintf("placed-%d", m.refs)), nil
}

type captureBroadcaster struct {
	mu        sync.Mutex
	envelopes []protocol.Envelope
}

func (b *captureBroadcaster) Broadcast(env protocol.Envelope) {
	b.mu.Lock()
	b.envelopes = append(b.envelopes, env)
	b.mu.Unlock()
}

func (b *captureBroadcaster) count(actionName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, env := range b.envelopes {
		if env.Action == actionName {
			n++
		}
	}
	return n
}

type fixture struct {
	dispatcher *action.Dispatcher
	engine     *state.Engine
	broadcasts *captureBroadcaster
	assets     *mockAssets
	perms      *auth.PermissionManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine := state.NewEngine(state.Options{})
	t.Cleanup(engine.Close)

	broadcasts := &captureBroadcaster{}
	engine.SetBroadcaster(broadcasts)

	assets := &mockAssets{missing: make(map[string]bool)}
	reg := action.NewRegistry(nil)
	RegisterBuiltins(reg, engine, assets, &mockSurface{})

	perms := auth.NewPermissionManager()
	dispatcher := action.NewDispatcher(reg, perms, "K", nil)
	engine.SetDispatcher(dispatcher)

	return &fixture{
		dispatcher: dispatcher,
		engine:     engine,
		broadcasts: broadcasts,
		assets:     assets,
		perms:      perms,
	}
}

func (f *fixture) grantDefaults(callerID string) {
	for _, p := range DefaultCallerPermissions {
		f.perms.Grant(callerID, p)
	}
}

func TestPlaceModelScenario(t *testing.T) {
	f := newFixture(t)
	f.grantDefaults("caller")

	env, err := protocol.Decode([]byte(`{
		"category": "user",
		"action": "place_model",
		"api_key": "K",
		"model_name": "Cube",
		"position": {"x": 1, "y": 2, "z": 3},
		"rotation": {"x": 0, "y": 0, "z": 0}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	result := f.dispatcher.Dispatch(context.Background(), "caller", env)
	if !result.Success {
		t.Fatalf("result = %#v", result)
	}
	instanceID, _ := result.Data["instance_id"].(string)
	if instanceID == "" {
		t.Fatalf("no instance id in %v", result.Data)
	}

	st, ok := f.engine.Instance(instanceID)
	if !ok {
		t.Fatal("placement did not create an instance")
	}
	if st.Position != (protocol.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("instance position = %v", st.Position)
	}
	if f.broadcasts.count(protocol.ActionStateUpdateMessage) != 1 {
		t.Fatal("placement must trigger exactly one state broadcast")
	}
}

func TestPlaceModelWrongAPIKey(t *testing.T) {
	f := newFixture(t)
	f.grantDefaults("caller")

	env, err := protocol.Decode([]byte(`{
		"category": "user",
		"action": "place_model",
		"api_key": "wrong",
		"model_name": "Cube",
		"position": {"x": 1, "y": 2, "z": 3},
		"rotation": {"x": 0, "y": 0, "z": 0}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	result := f.dispatcher.Dispatch(context.Background(), "caller", env)
	if result.Success || result.Error != "Invalid API key" {
		t.Fatalf("result = %#v", result)
	}
	if f.broadcasts.count(protocol.ActionStateUpdateMessage) != 0 {
		t.Fatal("rejected dispatch must not broadcast")
	}
}

func TestPlaceModelWithCoordinates(t *testing.T) {
	f := newFixture(t)
	f.grantDefaults("caller")

	env := protocol.Envelope{
		Category: protocol.CategoryUser,
		Action:   protocol.ActionPlaceModel,
		APIKey:   "K",
		Payload: protocol.Payload{
			"model_name":  "Tree",
			"coordinates": map[string]any{"x": 5.0, "y": 0.0, "z": 5.0},
		},
	}
	result := f.dispatcher.Dispatch(context.Background(), "caller", env)
	if !result.Success {
		t.Fatalf("result = %#v", result)
	}
	instanceID, _ := result.Data["instance_id"].(string)
	st, _ := f.engine.Instance(instanceID)
	if st.Position != (protocol.Vec3{X: 5, Z: 5}) {
		t.Fatalf("position = %v", st.Position)
	}
	if st.Rotation != (protocol.Vec3{}) {
		t.Fatalf("coordinates form must imply zero rotation, got %v", st.Rotation)
	}
}

func TestImportModelNotFound(t *testing.T) {
	f := newFixture(t)
	f.grantDefaults("caller")
	f.assets.missing["models/ghost.fbx"] = true

	env := protocol.Envelope{
		Category: protocol.CategoryUser,
		Action:   protocol.ActionImportModel,
		APIKey:   "K",
		Payload:  protocol.Payload{"model_path": "models/ghost.fbx"},
	}
	result := f.dispatcher.Dispatch(context.Background(), "caller", env)
	if result.Success {
		t.Fatalf("result = %#v", result)
	}
	if result.Error == "" {
		t.Fatal("failure must carry the handler's message")
	}
}

func TestImportModelRequiresPermission(t *testing.T) {
	f := newFixture(t)

	env := protocol.Envelope{
		Category: protocol.CategoryUser,
		Action:   protocol.ActionImportModel,
		APIKey:   "K",
		Payload:  protocol.Payload{"model_path": "models/tree.fbx"},
	}
	result := f.dispatcher.Dispatch(context.Background(), "ungranted-caller", env)
	if result.Success || result.Error != "Insufficient permissions" {
		t.Fatalf("result = %#v", result)
	}
}

func TestAnalyzeEnvironment(t *testing.T) {
	f := newFixture(t)
	f.engine.UpdateEnvironment("structures", []any{"tower", "bridge"})

	env := protocol.Envelope{
		Category: protocol.CategoryUser,
		Action:   protocol.ActionAnalyzeEnvironment,
		APIKey:   "K",
		Payload:  protocol.Payload{},
	}
	result := f.dispatcher.Dispatch(context.Background(), "caller", env)
	if !result.Success {
		t.Fatalf("result = %#v", result)
	}
	structures, ok := result.Data["structures"].([]any)
	if !ok || len(structures) != 2 {
		t.Fatalf("structures = %v", result.Data["structures"])
	}
	if _, ok := result.Data["paths"].([]any); !ok {
		t.Fatal("absent collections must report empty lists")
	}
}

func TestGetStateForInstanceAndEnvironment(t *testing.T) {
	f := newFixture(t)
	pos := protocol.Vec3{X: 7}
	f.engine.UpdateAgentState("a1", state.Update{Position: &pos})

	byInstance := f.dispatcher.Dispatch(context.Background(), "caller", protocol.Envelope{
		Category: protocol.CategoryUser,
		Action:   ActionGetState,
		APIKey:   "K",
		Payload:  protocol.Payload{"instance_id": "a1"},
	})
	if !byInstance.Success {
		t.Fatalf("result = %#v", byInstance)
	}
	wire, ok := byInstance.Data["state"].(protocol.InstanceState)
	if !ok || wire.Position != [3]float64{7, 0, 0} {
		t.Fatalf("state = %#v", byInstance.Data["state"])
	}

	missing := f.dispatcher.Dispatch(context.Background(), "caller", protocol.Envelope{
		Category: protocol.CategoryUser,
		Action:   ActionGetState,
		APIKey:   "K",
		Payload:  protocol.Payload{"instance_id": "nope"},
	})
	if missing.Success {
		t.Fatal("unknown instance must fail")
	}

	environment := f.dispatcher.Dispatch(context.Background(), "caller", protocol.Envelope{
		Category: protocol.CategoryUser,
		Action:   ActionGetState,
		APIKey:   "K",
		Payload:  protocol.Payload{},
	})
	if !environment.Success {
		t.Fatalf("result = %#v", environment)
	}
	if _, ok := environment.Data["environment"]; !ok {
		t.Fatal("bare get_state must return the environment map")
	}
}

func TestUpdateStateMergesThroughEngine(t *testing.T) {
	f := newFixture(t)
	f.grantDefaults("caller")

	result := f.dispatcher.Dispatch(context.Background(), "caller", protocol.Envelope{
		Category: protocol.CategoryUser,
		Action:   ActionUpdateState,
		APIKey:   "K",
		Payload: protocol.Payload{
			"instance_id": "a9",
			"state": map[string]any{
				"position":       map[string]any{"x": 4.0, "y": 5.0, "z": 6.0},
				"current_action": "patrol",
			},
		},
	})
	if !result.Success {
		t.Fatalf("result = %#v", result)
	}
	st, ok := f.engine.Instance("a9")
	if !ok || st.CurrentAction != "patrol" || st.Position.Y != 5 {
		t.Fatalf("state = %#v", st)
	}
	if f.broadcasts.count(protocol.ActionStateUpdateMessage) != 1 {
		t.Fatal("update_state must broadcast")
	}
}

func TestAgentCommandRoutesToEngine(t *testing.T) {
	f := newFixture(t)

	result := f.dispatcher.Dispatch(context.Background(), "caller", protocol.Envelope{
		Category: protocol.CategorySystem,
		Action:   ActionAgentCommand,
		Payload: protocol.Payload{
			"instance_id":     "a1",
			"target_position": map[string]any{"x": 0.05, "y": 0.0, "z": 0.0},
		},
	})
	if !result.Success {
		t.Fatalf("result = %#v", result)
	}
	started, _ := f.engine.MovementStats()
	if started != 1 {
		t.Fatalf("movement tasks started = %d", started)
	}

	malformed := f.dispatcher.Dispatch(context.Background(), "caller", protocol.Envelope{
		Category: protocol.CategorySystem,
		Action:   ActionAgentCommand,
		Payload:  protocol.Payload{"instance_id": "a1", "junk": true},
	})
	if malformed.Success {
		t.Fatal("malformed command must produce a failure reply")
	}
}
