package session

import (
	"errors"
	"fmt"

	"github.com/coregx/wsrelay/frame"
	"github.com/coregx/wsrelay/message"
)

// ErrClosed is returned by Send/Close operations attempted after the
// session has already transitioned to StateClosed.
var ErrClosed = errors.New("session: closed")

// CloseError is returned by ReadMessage when the session ended because the
// peer's close frame was received (as opposed to a network or protocol
// error). It carries the close code and reason so the caller can report
// them.
type CloseError struct {
	Code   message.CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("session: closed: %d %s: %s", e.Code, e.Code.String(), e.Reason)
}

// CodeAndReason extracts a close code and reason from a ReadMessage error.
// Frame and message protocol errors map to the close code the session sent
// for them (see closeCodeFor); network-level errors (EOF, reset,
// use-of-closed-connection) that carried no close frame at all fall back to
// CloseAbnormalClosure.
func CodeAndReason(err error) (message.CloseCode, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if code := closeCodeFor(err); code != message.CloseInternalServerErr {
		return code, err.Error()
	}
	return message.CloseAbnormalClosure, err.Error()
}

// closeCodeFor maps a frame/message protocol error to the close code RFC
// 6455 Section 7.4 associates with that failure class.
func closeCodeFor(err error) message.CloseCode {
	switch {
	case errors.Is(err, message.ErrInvalidUTF8):
		return message.CloseInvalidFramePayloadData
	case errors.Is(err, frame.ErrFrameTooLarge), errors.Is(err, message.ErrMessageTooBig):
		return message.CloseMessageTooBig
	case errors.Is(err, frame.ErrInvalidOpcode),
		errors.Is(err, frame.ErrReservedBits),
		errors.Is(err, frame.ErrControlFragmented),
		errors.Is(err, frame.ErrControlTooLarge),
		errors.Is(err, frame.ErrMaskRequired),
		errors.Is(err, frame.ErrMaskUnexpected),
		errors.Is(err, frame.ErrProtocolError),
		errors.Is(err, message.ErrUnexpectedContinuation),
		errors.Is(err, message.ErrFragmentInProgress):
		return message.CloseProtocolError
	default:
		return message.CloseInternalServerErr
	}
}
