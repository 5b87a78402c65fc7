package session

import (
	"time"

	"github.com/coregx/wsrelay/frame"
)

// Config bounds and times a session's protocol behavior.
type Config struct {
	// MaxFrameSize caps an individual frame's payload. 0 selects
	// frame.DefaultMaxFramePayload.
	MaxFrameSize uint64

	// MaxMessageSize caps a fully reassembled message. 0 means unlimited.
	MaxMessageSize uint64

	// PingInterval is how often the session sends a heartbeat Ping.
	// 0 disables heartbeat pings entirely.
	PingInterval time.Duration

	// PongTimeout is how long the session waits for a Pong after sending
	// a Ping before treating the peer as dead.
	PongTimeout time.Duration

	// CloseTimeout is how long the session waits for the peer's close
	// frame after sending its own before forcibly closing the TCP
	// connection.
	CloseTimeout time.Duration

	// OutboundQueueSize bounds the per-session outbound data-frame queue.
	// 0 selects a default of 256. A full queue causes Send to drop the
	// message and report failure rather than block the caller.
	OutboundQueueSize int
}

// DefaultConfig returns reasonable production defaults.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:      frame.DefaultMaxFramePayload,
		MaxMessageSize:    32 * 1024 * 1024,
		PingInterval:      30 * time.Second,
		PongTimeout:       10 * time.Second,
		CloseTimeout:      5 * time.Second,
		OutboundQueueSize: 256,
	}
}
