// Package session implements the per-connection RFC 6455 protocol state
// machine: frame decoding into complete messages, automatic ping/pong
// heartbeat, and the closing handshake (Section 7.1.2).
//
// A Session owns exactly one net.Conn. Its decode state (partial frame
// buffer, message assembler) is touched only by the goroutine that calls
// ReadMessage, satisfying the single-owner-at-a-time discipline: no other
// goroutine reaches into a session's read path. Writes go through bounded
// channels instead, so any goroutine may call Send/Close concurrently with
// the reader.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coregx/wsrelay/frame"
	"github.com/coregx/wsrelay/message"
)

// ID identifies a session within a manager's session table. IDs are
// assigned by the manager from a monotonically increasing counter; they are
// never reused.
type ID = uint64

// Session is one WebSocket connection's protocol state machine.
type Session struct {
	id     ID
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	cfg    Config
	logger zerolog.Logger

	assembler *message.Assembler
	recvBuf   []byte // owned solely by the ReadMessage goroutine

	state atomic.Int32

	dataOut    chan []byte
	controlOut chan []byte
	done       chan struct{}

	closeOnce    sync.Once
	finalizeOnce sync.Once
	pongPending  atomic.Bool

	mu       sync.Mutex
	userData map[string]string

	remoteAddr string
}

// New constructs a Session in StateConnecting. The caller (the manager
// package) must call Open to transition it to StateOpen, then call
// ReadMessage in a loop and run WriteLoop and HeartbeatLoop, each in its own
// goroutine.
func New(id ID, conn net.Conn, reader *bufio.Reader, writer *bufio.Writer, remoteAddr string, cfg Config, logger zerolog.Logger) *Session {
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 256
	}
	return &Session{
		id:         id,
		conn:       conn,
		reader:     reader,
		writer:     writer,
		cfg:        cfg,
		logger:     logger,
		assembler:  message.NewAssembler(cfg.MaxMessageSize),
		dataOut:    make(chan []byte, cfg.OutboundQueueSize),
		controlOut: make(chan []byte, 16),
		done:       make(chan struct{}),
		userData:   make(map[string]string),
		remoteAddr: remoteAddr,
	}
}

// ID returns the session's manager-assigned identifier.
func (s *Session) ID() ID { return s.id }

// RemoteAddr returns the peer address captured at handshake time.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Open transitions a freshly constructed session into StateOpen.
func (s *Session) Open() {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// WriteLoop drains the outbound queues and writes frames to the connection.
// Control frames (ping/pong/close) are always drained ahead of queued data
// frames so heartbeat and close handshakes stay timely under load. Runs
// until Close/forceClose shuts the session down; intended to run in its own
// goroutine for the session's lifetime.
func (s *Session) WriteLoop() {
	for {
		var encoded []byte
		select {
		case encoded = <-s.controlOut:
		default:
			select {
			case encoded = <-s.controlOut:
			case encoded = <-s.dataOut:
			case <-s.done:
				return
			}
		}

		if _, err := s.writer.Write(encoded); err != nil {
			s.logger.Debug().Err(err).Msg("write failed")
			s.forceClose()
			return
		}
		if err := s.writer.Flush(); err != nil {
			s.logger.Debug().Err(err).Msg("flush failed")
			s.forceClose()
			return
		}
	}
}

// HeartbeatLoop sends a Ping every cfg.PingInterval and starts the closing
// handshake with CloseGoingAway (1001) if no Pong arrives within
// cfg.PongTimeout, or before the next tick. A zero PingInterval
// disables heartbeats. Intended to run in its own goroutine.
func (s *Session) HeartbeatLoop() {
	if s.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.State() != StateOpen {
				return
			}
			if s.pongPending.Swap(true) {
				_ = s.Close(message.CloseGoingAway, "ping timeout")
				return
			}
			if err := s.sendControl(frame.OpPing, nil); err != nil {
				return
			}
			if s.cfg.PongTimeout > 0 {
				deadline := s.cfg.PongTimeout
				time.AfterFunc(deadline, func() {
					if s.pongPending.Load() && s.State() == StateOpen {
						_ = s.Close(message.CloseGoingAway, "pong timeout")
					}
				})
			}
		case <-s.done:
			return
		}
	}
}

// ReadMessage blocks until a complete application message has been
// reassembled, or the session ends. It transparently answers Ping frames
// with Pong, clears the heartbeat's pending-pong flag on Pong frames, and
// runs the closing handshake on a Close frame.
//
// On any terminal error, ReadMessage has already initiated (or completed)
// session teardown; the caller should treat the returned error as "this
// session is over" and use CodeAndReason to describe why.
func (s *Session) ReadMessage() (message.Message, error) {
	for {
		f, err := s.nextFrame()
		if err != nil {
			return message.Message{}, s.onReadError(err)
		}

		switch f.Opcode {
		case frame.OpPing:
			if err := s.sendControl(frame.OpPong, f.Payload); err != nil {
				return message.Message{}, s.onReadError(err)
			}
			continue

		case frame.OpPong:
			s.pongPending.Store(false)
			continue

		case frame.OpClose:
			return message.Message{}, s.handleRemoteClose(f.Payload)

		default:
			msg, aerr := s.assembler.Accept(f)
			if aerr != nil {
				_ = s.Close(closeCodeFor(aerr), aerr.Error())
				return message.Message{}, aerr
			}
			if msg != nil {
				return *msg, nil
			}
		}
	}
}

// nextFrame grows recvBuf from the connection until frame.Decode stops
// reporting ErrNeedMoreData, implementing the resumable-buffer contract
// against a real blocking socket read.
func (s *Session) nextFrame() (*frame.Frame, error) {
	for {
		f, consumed, err := frame.Decode(s.recvBuf, s.cfg.MaxFrameSize, frame.ServerSide)
		if err == nil {
			s.recvBuf = s.recvBuf[consumed:]
			return f, nil
		}
		if !errors.Is(err, frame.ErrNeedMoreData) {
			return nil, err
		}

		chunk := make([]byte, 4096)
		n, rerr := s.reader.Read(chunk)
		if n > 0 {
			s.recvBuf = append(s.recvBuf, chunk[:n]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

func (s *Session) onReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		s.forceClose()
		return err
	}
	_ = s.Close(closeCodeFor(err), err.Error())
	return err
}

// handleRemoteClose runs the peer-initiated half of the closing handshake
// (RFC 6455 Section 7.1.2): echo the close frame back, then tear down.
//
// RFC 6455 Section 7.4.1: a close payload carrying a reserved or
// out-of-range code is a protocol error. Rather than mirror it back
// verbatim, the code echoed to the peer (and reported to the caller) is
// substituted with 1002 (protocol error) whenever it fails CloseCode.Valid.
func (s *Session) handleRemoteClose(payload []byte) error {
	code, reason := decodeClosePayload(payload)

	echo := payload
	if len(payload) > 0 && !code.Valid() {
		code = message.CloseProtocolError
		echo = encodeClosePayload(code, "")
	}

	if s.State() != StateClosingLocal {
		s.state.Store(int32(StateClosingRemote))
		_ = s.sendControl(frame.OpClose, echo)
	}
	s.forceClose()

	return &CloseError{Code: code, Reason: reason}
}

// decodeClosePayload extracts the close code and reason from a close
// frame's payload (RFC 6455 Section 5.5.1). A payload shorter than two
// bytes carries no code, per Section 7.1.5.
func decodeClosePayload(payload []byte) (message.CloseCode, string) {
	if len(payload) < 2 {
		return message.CloseNoStatusReceived, ""
	}
	code := message.CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	return code, string(payload[2:])
}

// encodeClosePayload builds a close frame payload from a code and reason,
// the inverse of decodeClosePayload.
func encodeClosePayload(code message.CloseCode, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	return payload
}

// Send enqueues an application message for delivery. It returns false
// (without blocking) if the session is not open or the outbound queue is
// full; a full queue means the peer is not draining fast enough and the
// message is dropped rather than stalling the sender.
func (s *Session) Send(kind message.Kind, payload []byte) bool {
	if s.State() != StateOpen {
		return false
	}

	opcode := frame.OpText
	if kind == message.Binary {
		opcode = frame.OpBinary
	}

	encoded, err := frame.Encode(&frame.Frame{Fin: true, Opcode: opcode, Payload: payload})
	if err != nil {
		return false
	}
	return s.sendRaw(encoded)
}

// SendRaw enqueues an already-encoded frame for delivery, bypassing a
// second per-recipient Encode call. Used by the manager's Broadcast, which
// encodes one frame and fans the same bytes out to every session.
func (s *Session) SendRaw(encoded []byte) bool {
	if s.State() != StateOpen {
		return false
	}
	return s.sendRaw(encoded)
}

func (s *Session) sendRaw(encoded []byte) bool {
	select {
	case s.dataOut <- encoded:
		return true
	default:
		return false
	}
}

func (s *Session) sendControl(opcode frame.Opcode, payload []byte) error {
	encoded, err := frame.Encode(&frame.Frame{Fin: true, Opcode: opcode, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case s.controlOut <- encoded:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Close initiates (or, if already closing/closed, no-ops) the local half of
// the closing handshake: send a close frame with code/reason, then wait up
// to cfg.CloseTimeout for the peer's close frame before forcing the TCP
// connection shut.
//
// Idempotent: safe to call multiple times and from multiple goroutines.
func (s *Session) Close(code message.CloseCode, reason string) error {
	var sendErr error
	s.closeOnce.Do(func() {
		if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateClosingLocal)) &&
			!s.state.CompareAndSwap(int32(StateOpen), int32(StateClosingLocal)) {
			return
		}

		sendErr = s.sendControl(frame.OpClose, encodeClosePayload(code, reason))

		grace := s.cfg.CloseTimeout
		if grace <= 0 {
			grace = time.Second
		}
		time.AfterFunc(grace, s.forceClose)
	})
	return sendErr
}

// forceClose tears down the TCP connection and stops the write/heartbeat
// loops. Safe to call more than once or concurrently.
func (s *Session) forceClose() {
	s.finalizeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		_ = s.conn.Close()
	})
}

// SetUserData attaches an application-defined key/value pair to the
// session, independent of the wire protocol. Guarded by a dedicated mutex
// so it never contends with the hot read/write path.
func (s *Session) SetUserData(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userData[key] = value
}

// GetUserData retrieves a value set by SetUserData.
func (s *Session) GetUserData(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.userData[key]
	return v, ok
}

// String implements fmt.Stringer for logging.
func (s *Session) String() string {
	return fmt.Sprintf("session(id=%d, state=%s, remote=%s)", s.id, s.State(), s.remoteAddr)
}
