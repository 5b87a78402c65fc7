// Package manager implements the session table and dispatcher: it accepts
// upgraded WebSocket connections, assigns them client IDs, runs their
// read/write/heartbeat loops, and routes lifecycle and message events to
// application-supplied callbacks.
package manager

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coregx/wsrelay/frame"
	"github.com/coregx/wsrelay/handshake"
	"github.com/coregx/wsrelay/message"
	"github.com/coregx/wsrelay/session"
)

// Handlers are the application callbacks a Manager dispatches to. Any of
// them may be nil to opt out of that event.
type Handlers struct {
	OnConnect    func(id session.ID)
	OnMessage    func(id session.ID, msg message.Message)
	OnDisconnect func(id session.ID, code message.CloseCode, reason string)
}

// Config bounds a Manager's behavior.
type Config struct {
	// MaxConnections caps concurrently open sessions. 0 means unlimited.
	// Connections beyond the cap are rejected with HTTP 503 before the
	// handshake is attempted.
	MaxConnections uint64

	// Session configures every session the manager creates.
	Session session.Config

	// Handshake configures the upgrade process (subprotocols, origin
	// check, buffer sizes, max handshake size).
	Handshake handshake.Options
}

// Stats is a snapshot of a Manager's lifetime counters.
type Stats struct {
	ConnectionsTotal  uint64
	ConnectionsActive uint64
	MessagesReceived  uint64
	MessagesSent      uint64
	BytesReceived     uint64
	BytesSent         uint64
}

// Manager owns the concurrent session table and dispatches connection
// lifecycle and message events to Handlers. It implements http.Handler, so
// it can be registered directly with an *http.Server mux.
type Manager struct {
	cfg      Config
	handlers Handlers
	logger   zerolog.Logger

	nextID atomic.Uint64

	mu       sync.RWMutex
	sessions map[session.ID]*session.Session

	connectionsTotal atomic.Uint64
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	bytesReceived    atomic.Uint64
	bytesSent        atomic.Uint64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New constructs a Manager. logger is used as the base logger for every
// session; each session's logger is enriched with its client_id and a
// short-lived trace_id correlation field.
func New(cfg Config, handlers Handlers, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		sessions: make(map[session.ID]*session.Session),
	}
}

// ServeHTTP implements http.Handler: it enforces the capacity limit, runs
// the RFC 6455 handshake, registers the resulting session, and spawns its
// read/write/heartbeat goroutines.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.closed.Load() {
		handshake.RejectWithStatus(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	if m.cfg.MaxConnections > 0 && uint64(m.ClientCount()) >= m.cfg.MaxConnections {
		handshake.RejectWithStatus(w, http.StatusServiceUnavailable, "server at capacity")
		m.logger.Warn().Msg("rejected connection: at capacity")
		return
	}

	opts := m.cfg.Handshake
	res, err := handshake.Upgrade(w, r, &opts)
	if err != nil {
		m.logger.Debug().Err(err).Msg("handshake failed")
		return
	}

	id := m.nextID.Add(1)
	traceID := uuid.NewString()
	logger := m.logger.With().Uint64("client_id", id).Str("trace_id", traceID).Logger()

	sess := session.New(id, res.Conn, res.Reader, res.Writer, res.RemoteAddr, m.cfg.Session, logger)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	m.connectionsTotal.Add(1)

	sess.Open()
	logger.Info().Str("remote_addr", res.RemoteAddr).Str("subprotocol", res.Subprotocol).Msg("session opened")

	m.wg.Add(1)
	go m.runSession(sess)
}

// runSession drives one session's lifecycle: dispatches OnConnect, starts
// the write and heartbeat loops, then loops ReadMessage until the session
// ends, dispatching OnMessage for each completed message and finally
// OnDisconnect with the close code and reason.
func (m *Manager) runSession(sess *session.Session) {
	defer m.wg.Done()
	defer m.unregister(sess)

	if m.handlers.OnConnect != nil {
		m.handlers.OnConnect(sess.ID())
	}

	go sess.WriteLoop()
	go sess.HeartbeatLoop()

	var closeCode message.CloseCode
	var closeReason string

	for {
		msg, err := sess.ReadMessage()
		if err != nil {
			closeCode, closeReason = session.CodeAndReason(err)
			break
		}

		m.messagesReceived.Add(1)
		m.bytesReceived.Add(uint64(len(msg.Payload)))

		if m.handlers.OnMessage != nil {
			m.handlers.OnMessage(sess.ID(), msg)
		}
	}

	if m.handlers.OnDisconnect != nil {
		m.handlers.OnDisconnect(sess.ID(), closeCode, closeReason)
	}
}

func (m *Manager) unregister(sess *session.Session) {
	m.mu.Lock()
	delete(m.sessions, sess.ID())
	m.mu.Unlock()
}

// Send delivers an application message to one session. It returns false if
// the session is unknown, not open, or its outbound queue is full.
func (m *Manager) Send(id session.ID, kind message.Kind, payload []byte) bool {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	sent := sess.Send(kind, payload)
	if sent {
		m.messagesSent.Add(1)
		m.bytesSent.Add(uint64(len(payload)))
	}
	return sent
}

// Broadcast encodes payload once and fans the same encoded frame out to
// every open session, rather than re-encoding per recipient.
func (m *Manager) Broadcast(kind message.Kind, payload []byte) int {
	opcode := frame.OpText
	if kind == message.Binary {
		opcode = frame.OpBinary
	}

	encoded, err := frame.Encode(&frame.Frame{Fin: true, Opcode: opcode, Payload: payload})
	if err != nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	delivered := 0
	for _, sess := range m.sessions {
		if sess.SendRaw(encoded) {
			delivered++
		}
	}
	if delivered > 0 {
		m.messagesSent.Add(uint64(delivered))
		m.bytesSent.Add(uint64(delivered) * uint64(len(payload)))
	}
	return delivered
}

// CloseAll initiates the closing handshake on every currently open session
// with the given code and reason.
func (m *Manager) CloseAll(code message.CloseCode, reason string) {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		_ = sess.Close(code, reason)
	}
}

// ClientCount returns the number of sessions currently registered.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns a snapshot of the manager's lifetime counters.
func (m *Manager) Stats() Stats {
	return Stats{
		ConnectionsTotal:  m.connectionsTotal.Load(),
		ConnectionsActive: uint64(m.ClientCount()),
		MessagesReceived:  m.messagesReceived.Load(),
		MessagesSent:      m.messagesSent.Load(),
		BytesReceived:     m.bytesReceived.Load(),
		BytesSent:         m.bytesSent.Load(),
	}
}

// SetUserData attaches an application-defined key/value pair to a session.
// Returns false if the session is unknown.
func (m *Manager) SetUserData(id session.ID, key, value string) bool {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	sess.SetUserData(key, value)
	return true
}

// GetUserData retrieves a value set by SetUserData.
func (m *Manager) GetUserData(id session.ID, key string) (string, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	return sess.GetUserData(key)
}

// Shutdown closes every session with CloseGoingAway and waits for their
// goroutines to finish, or for ctx to be done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	m.CloseAll(message.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
