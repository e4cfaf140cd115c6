package conn

import "sync"

// session is one live peer attachment. The write mutex serializes frames
// from broadcast, reply, and flush paths onto the single transport.
type session struct {
	id        string
	transport Transport
	dialed    bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSession(id string, transport Transport, dialed bool) *session {
	return &session{id: id, transport: transport, dialed: dialed}
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.WriteMessage(data)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.transport.Close()
	})
}
