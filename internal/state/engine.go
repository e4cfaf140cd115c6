package state

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scenebridge/scenebridge/pkg/protocol"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrMalformedCommand = errors.New("malformed remote command")
)

// AgentState is the canonical state of one managed instance. It is owned
// exclusively by the Engine; callers only ever see copies.
type AgentState struct {
	InstanceID         string
	Position           protocol.Vec3
	Rotation           protocol.Vec3
	CurrentAction      string
	ActionParameters   map[string]any
	InteractingObjects []string
	LastUpdateTime     time.Time
	CustomState        map[string]any
	Status             string
}

// Wire converts the state to its broadcast form.
func (s AgentState) Wire() protocol.InstanceState {
	custom := s.CustomState
	if s.Status != "" {
		custom = make(map[string]any, len(s.CustomState)+1)
		for k, v := range s.CustomState {
			custom[k] = v
		}
		custom["status"] = s.Status
	}
	return protocol.InstanceState{
		Position:           s.Position.Triple(),
		Rotation:           s.Rotation.Triple(),
		CurrentAction:      s.CurrentAction,
		ActionParameters:   s.ActionParameters,
		InteractingObjects: s.InteractingObjects,
		LastUpdateTime:     s.LastUpdateTime,
		CustomState:        custom,
	}
}

// Update is a partial mutation applied to an instance. Nil fields are left
// untouched; ActionParameters and InteractingObjects replace wholesale while
// CustomState merges key-wise.
type Update struct {
	Position           *protocol.Vec3
	Rotation           *protocol.Vec3
	CurrentAction      *string
	ActionParameters   map[string]any
	InteractingObjects []string
	CustomState        map[string]any
	Status             *string
}

// UpdateFromPayload lifts the wire form of a state update into a typed one.
// Unrecognized or badly shaped fields are ignored.
func UpdateFromPayload(p protocol.Payload) Update {
	var u Update
	if v, ok := p.Vec3("position"); ok {
		u.Position = &v
	}
	if v, ok := p.Vec3("rotation"); ok {
		u.Rotation = &v
	}
	if s, ok := p.String("current_action"); ok {
		u.CurrentAction = &s
	}
	if m, ok := p.Map("action_parameters"); ok {
		u.ActionParameters = m
	}
	if l, ok := p.Strings("interacting_objects"); ok {
		u.InteractingObjects = l
	}
	if m, ok := p.Map("custom_state"); ok {
		u.CustomState = m
	}
	if s, ok := p.String("status"); ok {
		u.Status = &s
	}
	return u
}

// Observer receives state change notifications. For instance mutations the
// key is the instance id and the value an AgentState copy (nil after
// removal); for environment mutations the key/value pair is the changed
// entry. Notification order follows registration order.
type Observer interface {
	OnStateChanged(key string, value any)
}

// Broadcaster pushes outbound envelopes to every connected peer. The Engine
// calls it outside its own lock.
type Broadcaster interface {
	Broadcast(env protocol.Envelope)
}

// Dispatcher executes action commands arriving from the remote peer.
type Dispatcher interface {
	Dispatch(ctx context.Context, callerID string, env protocol.Envelope) protocol.ActionResult
}

// Options tune the engine's movement loop.
type Options struct {
	// MoveSpeed is the interpolation speed in units per second.
	MoveSpeed float64
	// TickInterval is the movement task period.
	TickInterval time.Duration
	// Epsilon is the remaining distance below which movement stops.
	Epsilon float64
	Logger  *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

const (
	defaultMoveSpeed    = 5.0
	defaultTickInterval = 50 * time.Millisecond
	defaultEpsilon      = 0.1
)

// Engine owns the canonical per-instance state and the process-wide
// environment map. Every mutation notifies observers and, when a
// broadcaster is attached, emits the matching outbound message. The
// internal lock guards only the in-memory merge; notification, broadcast,
// and handler execution happen outside it.
type Engine struct {
	mu          sync.Mutex
	instances   map[string]*AgentState
	environment map[string]any
	observers   []Observer
	movers      map[string]*moveTask

	broadcaster Broadcaster
	dispatcher  Dispatcher

	moveSpeed float64
	tick      time.Duration
	epsilon   float64
	logger    *slog.Logger
	now       func() time.Time

	stats movementStats
}

func NewEngine(opts Options) *Engine {
	if opts.MoveSpeed <= 0 {
		opts.MoveSpeed = defaultMoveSpeed
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = defaultEpsilon
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		instances:   make(map[string]*AgentState),
		environment: make(map[string]any),
		movers:      make(map[string]*moveTask),
		moveSpeed:   opts.MoveSpeed,
		tick:        opts.TickInterval,
		epsilon:     opts.Epsilon,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// SetBroadcaster attaches the outbound surface. Mutations before this point
// notify observers but broadcast nothing.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	e.broadcaster = b
	e.mu.Unlock()
}

// SetDispatcher attaches the action pipeline used for remote "action"
// commands. Set after construction to break the dispatcher/engine cycle.
func (e *Engine) SetDispatcher(d Dispatcher) {
	e.mu.Lock()
	e.dispatcher = d
	e.mu.Unlock()
}

// AddObserver registers a state change listener. The engine does not manage
// observer lifecycles.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// UpdateEnvironment atomically sets one environment key, then notifies
// observers and broadcasts an environment_update.
func (e *Engine) UpdateEnvironment(key string, value any) {
	e.mu.Lock()
	e.environment[key] = value
	observers, broadcaster := e.listenersLocked()
	e.mu.Unlock()

	for _, o := range observers {
		o.OnStateChanged(key, value)
	}
	if broadcaster != nil {
		broadcaster.Broadcast(protocol.NewEnvironmentUpdateEnvelope(key, value))
	}
}

// UpdateAgentState merges a partial update into the instance's canonical
// state, creating the instance on first reference, then notifies observers
// and broadcasts an action_state_update.
func (e *Engine) UpdateAgentState(instanceID string, update Update) AgentState {
	e.mu.Lock()
	st := e.instanceLocked(instanceID)
	applyUpdate(st, update)
	st.LastUpdateTime = e.now()
	snapshot := copyState(st)
	observers, broadcaster := e.listenersLocked()
	e.mu.Unlock()

	for _, o := range observers {
		o.OnStateChanged(instanceID, snapshot)
	}
	if broadcaster != nil {
		broadcaster.Broadcast(protocol.NewStateUpdateEnvelope(instanceID, snapshot.Wire()))
	}
	return snapshot
}

// ApplyRemoteCommand handles a command from the remote peer: target_position
// spawns or replaces the instance's movement task, action updates the
// current action and dispatches it. Malformed commands are logged and
// dropped without touching state.
func (e *Engine) ApplyRemoteCommand(ctx context.Context, instanceID string, command protocol.Payload) error {
	if target, ok := command.Vec3("target_position"); ok {
		e.StartMovement(instanceID, target)
		return nil
	}

	if actionName, ok := command.String("action"); ok {
		params, _ := command.Map("parameters")
		e.UpdateAgentState(instanceID, Update{
			CurrentAction:    &actionName,
			ActionParameters: params,
		})

		e.mu.Lock()
		dispatcher := e.dispatcher
		e.mu.Unlock()
		if dispatcher != nil {
			payload := protocol.Payload{"instance_id": instanceID}
			for k, v := range params {
				payload[k] = v
			}
			result := dispatcher.Dispatch(ctx, instanceID, protocol.Envelope{
				Category: protocol.CategorySystem,
				Action:   actionName,
				Payload:  payload,
			})
			if !result.Success {
				e.logger.Warn("remote action command failed", "instance", instanceID, "action", actionName, "error", result.Error)
			}
		}
		return nil
	}

	e.logger.Warn("dropping malformed remote command", "instance", instanceID)
	return ErrMalformedCommand
}

// Instance returns a copy of the instance's state.
func (e *Engine) Instance(instanceID string) (AgentState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.instances[instanceID]
	if !ok {
		return AgentState{}, false
	}
	return copyState(st), true
}

// Instances returns copies of every instance, ordered by id.
func (e *Engine) Instances() []AgentState {
	e.mu.Lock()
	out := make([]AgentState, 0, len(e.instances))
	for _, st := range e.instances {
		out = append(out, copyState(st))
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// RemoveInstance destroys an instance, cancelling any movement task first.
// Observers are notified with a nil value.
func (e *Engine) RemoveInstance(instanceID string) error {
	e.stopMovement(instanceID)

	e.mu.Lock()
	_, ok := e.instances[instanceID]
	if ok {
		delete(e.instances, instanceID)
	}
	observers, _ := e.listenersLocked()
	e.mu.Unlock()

	if !ok {
		return ErrInstanceNotFound
	}
	for _, o := range observers {
		o.OnStateChanged(instanceID, nil)
	}
	return nil
}

// Environment returns a copy of the environment map.
func (e *Engine) Environment() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(e.environment))
	for k, v := range e.environment {
		out[k] = v
	}
	return out
}

// Close cancels all movement tasks and waits for them to stop.
func (e *Engine) Close() {
	e.mu.Lock()
	tasks := make([]*moveTask, 0, len(e.movers))
	for id, task := range e.movers {
		tasks = append(tasks, task)
		delete(e.movers, id)
	}
	e.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
		<-task.done
	}
}

// instanceLocked returns the instance, creating it on first reference.
// Callers hold e.mu.
func (e *Engine) instanceLocked(instanceID string) *AgentState {
	st, ok := e.instances[instanceID]
	if !ok {
		st = &AgentState{
			InstanceID: instanceID,
			Status:     "active",
		}
		e.instances[instanceID] = st
	}
	return st
}

// listenersLocked snapshots the observer list and broadcaster so callers can
// notify after releasing the lock. Callers hold e.mu.
func (e *Engine) listenersLocked() ([]Observer, Broadcaster) {
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	return observers, e.broadcaster
}

func applyUpdate(st *AgentState, update Update) {
	if update.Position != nil {
		st.Position = *update.Position
	}
	if update.Rotation != nil {
		st.Rotation = *update.Rotation
	}
	if update.CurrentAction != nil {
		st.CurrentAction = *update.CurrentAction
	}
	if update.ActionParameters != nil {
		st.ActionParameters = update.ActionParameters
	}
	if update.InteractingObjects != nil {
		st.InteractingObjects = update.InteractingObjects
	}
	if update.Status != nil {
		st.Status = *update.Status
	}
	if update.CustomState != nil {
		if st.CustomState == nil {
			st.CustomState = make(map[string]any, len(update.CustomState))
		}
		for k, v := range update.CustomState {
			st.CustomState[k] = v
		}
	}
}

func copyState(st *AgentState) AgentState {
	out := *st
	if st.ActionParameters != nil {
		out.ActionParameters = make(map[string]any, len(st.ActionParameters))
		for k, v := range st.ActionParameters {
			out.ActionParameters[k] = v
		}
	}
	if st.InteractingObjects != nil {
		out.InteractingObjects = append([]string(nil), st.InteractingObjects...)
	}
	if st.CustomState != nil {
		out.CustomState = make(map[string]any, len(st.CustomState))
		for k, v := range st.CustomState {
			out.CustomState[k] = v
		}
	}
	return out
}
