package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scenebridge/scenebridge/pkg/protocol"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultDialTimeout    = 10 * time.Second
)

// Dispatcher consumes inbound envelopes and produces results.
type Dispatcher interface {
	Dispatch(ctx context.Context, callerID string, env protocol.Envelope) protocol.ActionResult
}

// Options configure a Manager.
type Options struct {
	// Dial, when set, names a primary remote peer the manager keeps a
	// connection to, retrying every ReconnectDelay while AutoReconnect is
	// enabled.
	Dial           Dialer
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	AutoReconnect  bool
	// APIKey is announced in the handshake sent after a dialed connection
	// comes up.
	APIKey string
	Logger *slog.Logger
	// OnAttach and OnDetach observe session lifecycle, keyed by caller id.
	// The wiring layer uses them to grant and forget permissions.
	OnAttach func(callerID string)
	OnDetach func(callerID string)
}

// Manager owns every live duplex session: at most one dialed primary peer
// plus any number of accepted sessions. Outbound messages are broadcast to
// all connected sessions, or queued FIFO while none is connected; the queue
// is flushed, oldest first, to the next session that comes up. Each session
// is serviced by its own read goroutine, which also serializes dispatches
// per caller.
type Manager struct {
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*session
	queue      [][]byte
	peerState  State
	stopped    bool
	retryTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(dispatcher Dispatcher, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dispatcher: dispatcher,
		opts:       opts,
		logger:     opts.Logger,
		sessions:   make(map[string]*session),
		peerState:  StateDisconnected,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start attempts the primary peer connection, when one is configured. A
// failed first attempt is fatal unless auto-reconnect is enabled, in which
// case a retry is scheduled and Start returns nil.
func (m *Manager) Start() error {
	if m.opts.Dial == nil {
		return nil
	}
	if err := m.dialPeer(); err != nil {
		if !m.opts.AutoReconnect {
			return fmt.Errorf("connect peer: %w", err)
		}
		m.logger.Warn("peer connection failed, will retry", "error", err, "delay", m.opts.ReconnectDelay)
		m.scheduleReconnect()
	}
	return nil
}

// Stop tears down every session and disables auto-reconnect. A best-effort
// disconnect notice is sent to each peer first.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	sessions := make([]*session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.setPeerStateLocked(StateDisconnected)
	m.mu.Unlock()

	goodbye, err := protocol.Encode(protocol.NewDisconnectEnvelope())
	for _, sess := range sessions {
		if err == nil {
			_ = sess.write(goodbye)
		}
		sess.close()
		if m.opts.OnDetach != nil {
			m.opts.OnDetach(sess.id)
		}
	}
	m.cancel()
	m.wg.Wait()
}

// Send broadcasts an envelope to every connected session, or queues it when
// none is connected. Queued messages are never dropped; they persist until
// flushed or the process stops.
func (m *Manager) Send(env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		m.logger.Error("dropping unencodable outbound message", "action", env.Action, "error", err)
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if len(m.sessions) == 0 {
		m.queue = append(m.queue, data)
		m.mu.Unlock()
		return
	}
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.write(data); err != nil {
			m.logger.Warn("write failed, dropping session", "session", sess.id, "error", err)
			m.detach(sess)
		}
	}
}

// Broadcast implements the sync engine's outbound surface.
func (m *Manager) Broadcast(env protocol.Envelope) {
	m.Send(env)
}

// Attach adopts an accepted transport as a new session and returns its
// caller id. Any queued outbound messages are flushed to it first, in
// enqueue order.
func (m *Manager) Attach(transport Transport) string {
	sess := newSession(uuid.NewString(), transport, false)
	m.register(sess)
	return sess.id
}

// PeerState reports the dialed peer's connection state.
func (m *Manager) PeerState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerState
}

// SessionCount reports how many sessions are currently connected.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// QueueDepth reports how many outbound messages await a connection.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) dialPeer() error {
	if err := m.setPeerState(StateConnecting); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.DialTimeout)
	transport, err := m.opts.Dial(ctx)
	cancel()
	if err != nil {
		_ = m.setPeerState(StateDisconnected)
		return err
	}
	if err := m.setPeerState(StateConnected); err != nil {
		_ = transport.Close()
		return err
	}

	sess := newSession(uuid.NewString(), transport, true)
	m.logger.Info("peer connected", "session", sess.id)

	handshake, encErr := protocol.Encode(protocol.NewHandshakeEnvelope(m.opts.APIKey))
	if encErr == nil {
		if err := sess.write(handshake); err != nil {
			m.logger.Warn("handshake write failed", "error", err)
		}
	}

	m.register(sess)
	return nil
}

// register adds the session, flushes the outbound queue to it, fires the
// attach hook, and starts its read loop.
func (m *Manager) register(sess *session) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		sess.close()
		return
	}
	m.sessions[sess.id] = sess
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	for i, data := range pending {
		if err := sess.write(data); err != nil {
			// Keep unsent messages for the next connection.
			m.mu.Lock()
			m.queue = append(pending[i:], m.queue...)
			m.mu.Unlock()
			m.logger.Warn("queue flush interrupted", "session", sess.id, "error", err)
			break
		}
	}

	if m.opts.OnAttach != nil {
		m.opts.OnAttach(sess.id)
	}

	m.wg.Add(1)
	go m.readLoop(sess)
}

func (m *Manager) readLoop(sess *session) {
	defer m.wg.Done()
	for {
		data, err := sess.transport.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stopped := m.stopped
			m.mu.Unlock()
			if !stopped {
				m.logger.Info("session closed", "session", sess.id, "error", err)
			}
			break
		}
		m.handleInbound(sess, data)
	}
	m.detach(sess)
}

// detach removes a session and, for the dialed peer, schedules a reconnect
// unless the manager is stopping.
func (m *Manager) detach(sess *session) {
	m.mu.Lock()
	_, present := m.sessions[sess.id]
	if present {
		delete(m.sessions, sess.id)
	}
	stopped := m.stopped
	if sess.dialed && !stopped {
		m.setPeerStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	sess.close()
	if !present {
		return
	}
	if m.opts.OnDetach != nil {
		m.opts.OnDetach(sess.id)
	}
	if sess.dialed && !stopped && m.opts.AutoReconnect {
		m.scheduleReconnect()
	}
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.retryTimer != nil {
		return
	}
	m.retryTimer = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.mu.Lock()
		m.retryTimer = nil
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return
		}
		if err := m.dialPeer(); err != nil {
			m.logger.Warn("reconnect failed", "error", err)
			m.scheduleReconnect()
		}
	})
}

// handleInbound decodes one frame and routes it. Malformed envelopes get a
// failure reply and the connection stays open. System-level handshake and
// disconnect messages are consumed here; state update broadcasts from the
// peer are folded into the update_state action; everything else goes
// through the dispatcher with an action_result reply.
func (m *Manager) handleInbound(sess *session, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		m.logger.Warn("rejecting malformed inbound message", "session", sess.id, "error", err)
		m.reply(sess, protocol.NewFailureReply(err.Error()))
		return
	}

	if env.Category == protocol.CategorySystem {
		switch env.Action {
		case protocol.ActionHandshake:
			m.logger.Info("peer handshake", "session", sess.id)
			return
		case protocol.ActionDisconnect:
			m.logger.Info("peer said goodbye", "session", sess.id)
			sess.close()
			return
		case protocol.ActionResultMessage, "error":
			// Replies to our own outbound traffic; nothing to dispatch.
			return
		case protocol.EnvironmentUpdateMessage:
			// Peers do not own the environment; their echoes are ignored.
			return
		case protocol.ActionStateUpdateMessage:
			// The peer's state report has the same shape update_state takes.
			env.Action = "update_state"
			result := m.dispatcher.Dispatch(m.ctx, sess.id, env)
			if !result.Success {
				m.logger.Warn("peer state update rejected", "session", sess.id, "error", result.Error)
			}
			return
		}
	}

	result := m.dispatcher.Dispatch(m.ctx, sess.id, env)
	m.reply(sess, protocol.NewActionResultEnvelope(result))
}

func (m *Manager) reply(sess *session, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		m.logger.Error("dropping unencodable reply", "error", err)
		return
	}
	if err := sess.write(data); err != nil {
		m.logger.Warn("reply write failed", "session", sess.id, "error", err)
	}
}

func (m *Manager) setPeerState(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peerState == to {
		return nil
	}
	if !CanTransition(m.peerState, to) {
		return newInvalidTransitionError(m.peerState, to)
	}
	m.peerState = to
	return nil
}

// setPeerStateLocked forces the state without transition checks, for paths
// that already hold the lock and are tearing down.
func (m *Manager) setPeerStateLocked(to State) {
	m.peerState = to
}
