package frame

import "errors"

// ErrNeedMoreData is returned by Decode when buf does not yet hold a
// complete frame. It is a resumption signal, not a protocol failure: the
// caller should read more bytes from the network, append them to buf, and
// call Decode again.
var ErrNeedMoreData = errors.New("frame: need more data")

// Protocol error types, RFC 6455 Section 7.4.1.
var (
	// ErrProtocolError is a generic framing violation (close code 1002).
	ErrProtocolError = errors.New("frame: protocol error")

	// ErrReservedBits indicates RSV1/RSV2/RSV3 set without a negotiated
	// extension. RFC 6455 Section 5.2. Close code 1002.
	ErrReservedBits = errors.New("frame: reserved bits must be 0")

	// ErrInvalidOpcode indicates an opcode outside the six RFC 6455 values.
	// Close code 1002.
	ErrInvalidOpcode = errors.New("frame: invalid opcode")

	// ErrControlFragmented indicates a control frame with FIN=0. RFC 6455
	// Section 5.5 forbids fragmenting control frames. Close code 1002.
	ErrControlFragmented = errors.New("frame: control frame must not be fragmented")

	// ErrControlTooLarge indicates a control frame payload over 125 bytes.
	// RFC 6455 Section 5.5. Close code 1002.
	ErrControlTooLarge = errors.New("frame: control frame payload too large")

	// ErrFrameTooLarge indicates a data frame payload over the configured
	// per-frame limit. Implementation-specific, not an RFC requirement.
	// Close code 1009.
	ErrFrameTooLarge = errors.New("frame: frame payload too large")

	// ErrMaskRequired indicates a frame received on ServerSide without the
	// MASK bit set. RFC 6455 Section 5.3. Close code 1002.
	ErrMaskRequired = errors.New("frame: client frames must be masked")

	// ErrMaskUnexpected indicates a frame received on ClientSide with the
	// MASK bit set. RFC 6455 Section 5.3. Close code 1002.
	ErrMaskUnexpected = errors.New("frame: server frames must not be masked")
)
