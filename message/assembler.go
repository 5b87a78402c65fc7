package message

import (
	"bytes"
	"unicode/utf8"

	"github.com/coregx/wsrelay/frame"
)

// Assembler reassembles a stream of data frames (continuation/text/binary)
// into complete Messages.
//
// RFC 6455 Section 5.4: "A fragmented message consists of a single frame
// with the FIN bit clear and an opcode other than 0, followed by zero or
// more frames with the FIN bit clear and the opcode set to 0, and
// terminated by a single frame with the FIN bit set and an opcode of 0."
//
// Control frames (ping/pong/close) are not passed to Assembler: RFC 6455
// allows them to be interleaved between the fragments of a data message, so
// the session loop dispatches them directly and only hands data frames to
// Accept. Unlike a per-frame UTF-8 check, Assembler validates UTF-8 once on
// the fully reassembled text message — a multi-byte code point split across
// two fragments would otherwise fail validation on the first fragment alone.
//
// Not safe for concurrent use: a session has exactly one reader goroutine,
// and Assembler is owned by it.
type Assembler struct {
	maxMessageSize uint64

	buf        bytes.Buffer
	kind       Kind
	inProgress bool
}

// NewAssembler returns an Assembler that rejects messages over
// maxMessageSize bytes. maxMessageSize=0 means unlimited.
func NewAssembler(maxMessageSize uint64) *Assembler {
	return &Assembler{maxMessageSize: maxMessageSize}
}

// Accept feeds one data frame (continuation, text, or binary) into the
// assembler. It returns a non-nil Message when f completed a message (single
// unfragmented frame, or the final continuation of a fragmented one).
//
// On ErrMessageTooBig or ErrInvalidUTF8 the in-progress fragment state is
// discarded; the caller is expected to close the session, not keep reading.
func (a *Assembler) Accept(f *frame.Frame) (*Message, error) {
	switch f.Opcode {
	case frame.OpText, frame.OpBinary:
		if a.inProgress {
			return nil, ErrFragmentInProgress
		}

		if f.Fin {
			if a.maxMessageSize != 0 && uint64(len(f.Payload)) > a.maxMessageSize {
				return nil, ErrMessageTooBig
			}
			return a.complete(Kind(f.Opcode), f.Payload)
		}

		a.inProgress = true
		a.kind = Kind(f.Opcode)
		a.buf.Reset()
		a.buf.Write(f.Payload)
		if a.overLimit() {
			a.reset()
			return nil, ErrMessageTooBig
		}
		return nil, nil

	case frame.OpContinuation:
		if !a.inProgress {
			return nil, ErrUnexpectedContinuation
		}

		a.buf.Write(f.Payload)
		if a.overLimit() {
			a.reset()
			return nil, ErrMessageTooBig
		}

		if !f.Fin {
			return nil, nil
		}

		kind := a.kind
		payload := make([]byte, a.buf.Len())
		copy(payload, a.buf.Bytes())
		a.reset()
		return a.complete(kind, payload)

	default:
		return nil, ErrUnexpectedContinuation
	}
}

func (a *Assembler) complete(kind Kind, payload []byte) (*Message, error) {
	if kind == Text && !utf8.Valid(payload) {
		return nil, ErrInvalidUTF8
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return &Message{Kind: kind, Payload: out}, nil
}

func (a *Assembler) overLimit() bool {
	return a.maxMessageSize != 0 && uint64(a.buf.Len()) > a.maxMessageSize
}

func (a *Assembler) reset() {
	a.inProgress = false
	a.buf.Reset()
}
