package state

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/scenebridge/scenebridge/pkg/protocol"
)

// moveTask is one cancellable per-instance interpolation loop. The engine
// guarantees at most one live task per instance: starting a replacement
// cancels the previous task and waits for it to stop before the new one
// mutates anything.
type moveTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type movementStats struct {
	started  atomic.Uint64
	canceled atomic.Uint64
}

// MovementStats reports how many movement tasks have been started and how
// many were cancelled before reaching their target.
func (e *Engine) MovementStats() (started, canceled uint64) {
	return e.stats.started.Load(), e.stats.canceled.Load()
}

// StartMovement spawns a movement task driving the instance's position
// toward target. Any prior task for the same instance is cancelled and
// awaited first, so two tasks never fight over one instance.
func (e *Engine) StartMovement(instanceID string, target protocol.Vec3) {
	e.stopMovement(instanceID)

	ctx, cancel := context.WithCancel(context.Background())
	task := &moveTask{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.movers[instanceID] = task
	e.mu.Unlock()

	e.stats.started.Add(1)
	e.logger.Info("movement task started", "instance", instanceID, "target", target)
	go e.runMovement(ctx, task, instanceID, target)
}

// stopMovement cancels the instance's task, if any, and waits for it to
// terminate.
func (e *Engine) stopMovement(instanceID string) {
	e.mu.Lock()
	task, ok := e.movers[instanceID]
	if ok {
		delete(e.movers, instanceID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	task.cancel()
	<-task.done
	e.stats.canceled.Add(1)
}

func (e *Engine) runMovement(ctx context.Context, task *moveTask, instanceID string, target protocol.Vec3) {
	defer close(task.done)
	defer e.clearMover(instanceID, task)

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	last := e.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nowTime := e.now()
			dt := nowTime.Sub(last).Seconds()
			last = nowTime
			if e.stepToward(instanceID, target, dt) {
				e.logger.Info("movement task arrived", "instance", instanceID)
				return
			}
		}
	}
}

// stepToward advances the instance by one tick. It reads the position under
// the engine lock but performs the mutation through UpdateAgentState so the
// usual notify/broadcast path runs outside it. Returns true on arrival.
func (e *Engine) stepToward(instanceID string, target protocol.Vec3, dt float64) bool {
	e.mu.Lock()
	current := e.instanceLocked(instanceID).Position
	e.mu.Unlock()

	dx := target.X - current.X
	dy := target.Y - current.Y
	dz := target.Z - current.Z
	remaining := math.Sqrt(dx*dx + dy*dy + dz*dz)

	step := e.moveSpeed * dt
	if remaining <= e.epsilon || step >= remaining {
		e.UpdateAgentState(instanceID, Update{Position: &target})
		return true
	}

	scale := step / remaining
	next := protocol.Vec3{
		X: current.X + dx*scale,
		Y: current.Y + dy*scale,
		Z: current.Z + dz*scale,
	}
	e.UpdateAgentState(instanceID, Update{Position: &next})
	return false
}

// clearMover removes the task from the map if it is still the active one;
// a replacement may already have taken the slot.
func (e *Engine) clearMover(instanceID string, task *moveTask) {
	e.mu.Lock()
	if e.movers[instanceID] == task {
		delete(e.movers, instanceID)
	}
	e.mu.Unlock()
}
