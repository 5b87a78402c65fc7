package message

import (
	"bytes"
	"errors"
	"testing"

	"github.com/coregx/wsrelay/frame"
)

// TestAssembler_SingleFrameMessage covers the unfragmented case: a single
// frame with FIN=1 completes immediately.
func TestAssembler_SingleFrameMessage(t *testing.T) {
	a := NewAssembler(0)
	msg, err := a.Accept(&frame.Frame{Fin: true, Opcode: frame.OpText, Payload: []byte("hi")})
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected completed message")
	}
	if msg.Kind != Text || string(msg.Payload) != "hi" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

// TestAssembler_Fragmentation reassembles a three-frame fragmented text
// message per RFC 6455 Section 5.4.
func TestAssembler_Fragmentation(t *testing.T) {
	a := NewAssembler(0)

	if msg, err := a.Accept(&frame.Frame{Fin: false, Opcode: frame.OpText, Payload: []byte("Hel")}); err != nil || msg != nil {
		t.Fatalf("first fragment: msg=%v err=%v", msg, err)
	}
	if msg, err := a.Accept(&frame.Frame{Fin: false, Opcode: frame.OpContinuation, Payload: []byte("lo, ")}); err != nil || msg != nil {
		t.Fatalf("second fragment: msg=%v err=%v", msg, err)
	}
	msg, err := a.Accept(&frame.Frame{Fin: true, Opcode: frame.OpContinuation, Payload: []byte("world")})
	if err != nil {
		t.Fatalf("final fragment failed: %v", err)
	}
	if msg == nil || string(msg.Payload) != "Hello, world" {
		t.Fatalf("expected reassembled 'Hello, world', got %+v", msg)
	}
}

// TestAssembler_SplitUTF8CodePoint validates that a multi-byte UTF-8 code
// point split across two fragments is accepted, since validation happens on
// the reassembled message, not per-frame.
func TestAssembler_SplitUTF8CodePoint(t *testing.T) {
	full := []byte("caf\xc3\xa9") // "café"
	a := NewAssembler(0)

	if _, err := a.Accept(&frame.Frame{Fin: false, Opcode: frame.OpText, Payload: full[:4]}); err != nil {
		t.Fatalf("first fragment failed: %v", err)
	}
	msg, err := a.Accept(&frame.Frame{Fin: true, Opcode: frame.OpContinuation, Payload: full[4:]})
	if err != nil {
		t.Fatalf("final fragment failed: %v", err)
	}
	if !bytes.Equal(msg.Payload, full) {
		t.Errorf("expected %q, got %q", full, msg.Payload)
	}
}

// TestAssembler_UnexpectedContinuation covers RFC 6455 Section 5.4: a
// continuation frame with no fragment in progress is a protocol error.
func TestAssembler_UnexpectedContinuation(t *testing.T) {
	a := NewAssembler(0)
	_, err := a.Accept(&frame.Frame{Fin: true, Opcode: frame.OpContinuation, Payload: []byte("x")})
	if !errors.Is(err, ErrUnexpectedContinuation) {
		t.Errorf("expected ErrUnexpectedContinuation, got %v", err)
	}
}

// TestAssembler_DataFrameMidFragment covers the other direction: a new
// text/binary frame while a fragment is already open is also a protocol
// error.
func TestAssembler_DataFrameMidFragment(t *testing.T) {
	a := NewAssembler(0)
	if _, err := a.Accept(&frame.Frame{Fin: false, Opcode: frame.OpText, Payload: []byte("a")}); err != nil {
		t.Fatalf("first fragment failed: %v", err)
	}
	_, err := a.Accept(&frame.Frame{Fin: true, Opcode: frame.OpBinary, Payload: []byte("b")})
	if !errors.Is(err, ErrFragmentInProgress) {
		t.Errorf("expected ErrFragmentInProgress, got %v", err)
	}
}

// TestAssembler_InvalidUTF8 covers RFC 6455 Section 8.1.
func TestAssembler_InvalidUTF8(t *testing.T) {
	a := NewAssembler(0)
	_, err := a.Accept(&frame.Frame{Fin: true, Opcode: frame.OpText, Payload: []byte{0xff, 0xfe, 0xfd}})
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
}

// TestAssembler_MessageTooBig verifies the size cap is enforced as bytes
// accumulate, not just at completion, so a malicious sender cannot force
// unbounded buffering.
func TestAssembler_MessageTooBig(t *testing.T) {
	a := NewAssembler(4)
	_, err := a.Accept(&frame.Frame{Fin: false, Opcode: frame.OpBinary, Payload: []byte("12345")})
	if !errors.Is(err, ErrMessageTooBig) {
		t.Errorf("expected ErrMessageTooBig, got %v", err)
	}

	// Assembler must have reset, so a fresh message can proceed normally.
	msg, err := a.Accept(&frame.Frame{Fin: true, Opcode: frame.OpBinary, Payload: []byte("ok")})
	if err != nil || msg == nil {
		t.Fatalf("expected assembler to recover after reset: msg=%v err=%v", msg, err)
	}
}

// TestAssembler_SingleFrameMessageTooBig verifies that a single unfragmented
// frame over the size cap is rejected on the fast path too, not just the
// fragmented-accumulation path.
func TestAssembler_SingleFrameMessageTooBig(t *testing.T) {
	a := NewAssembler(4)
	_, err := a.Accept(&frame.Frame{Fin: true, Opcode: frame.OpText, Payload: []byte("12345")})
	if !errors.Is(err, ErrMessageTooBig) {
		t.Errorf("expected ErrMessageTooBig, got %v", err)
	}
}

// TestCloseCode_Valid spot-checks the reserved-range rule from RFC 6455
// Section 7.4.1.
func TestCloseCode_Valid(t *testing.T) {
	cases := map[CloseCode]bool{
		CloseNormalClosure:     true,
		CloseNoStatusReceived:  false,
		CloseAbnormalClosure:   false,
		CloseTLSHandshake:      false,
		CloseInternalServerErr: true,
		CloseServiceRestart:    false,
		CloseTryAgainLater:     false,
		CloseCode(1004):        false,
		CloseCode(4001):        true,
		CloseCode(2999):        false,
	}
	for code, want := range cases {
		if got := code.Valid(); got != want {
			t.Errorf("CloseCode(%d).Valid() = %v, want %v", code, got, want)
		}
	}
}
