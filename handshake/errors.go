package handshake

import "errors"

// Errors returned by Upgrade, RFC 6455 Section 4.
var (
	// ErrInvalidMethod indicates the HTTP method was not GET.
	// RFC 6455 Section 4.1.
	ErrInvalidMethod = errors.New("handshake: method must be GET")

	// ErrUnsupportedHTTPVersion indicates the request used HTTP/1.0 or
	// older. RFC 6455 Section 4.1 requires HTTP/1.1 or greater.
	ErrUnsupportedHTTPVersion = errors.New("handshake: HTTP version must be 1.1 or greater")

	// ErrMissingHost indicates the request carried no Host header.
	// RFC 6455 Section 4.1.
	ErrMissingHost = errors.New("handshake: missing Host header")

	// ErrMissingUpgrade indicates a missing or invalid Upgrade header.
	// RFC 6455 Section 4.2.1, item 3.
	ErrMissingUpgrade = errors.New("handshake: missing or invalid Upgrade header")

	// ErrMissingConnection indicates a missing or invalid Connection header.
	// RFC 6455 Section 4.2.1, item 4.
	ErrMissingConnection = errors.New("handshake: missing or invalid Connection header")

	// ErrMissingSecKey indicates a missing Sec-WebSocket-Key header, or one
	// that is not the base64 encoding of exactly 16 bytes.
	// RFC 6455 Section 4.2.1, item 5.
	ErrMissingSecKey = errors.New("handshake: missing Sec-WebSocket-Key header")

	// ErrInvalidVersion indicates Sec-WebSocket-Version was not "13".
	// RFC 6455 Section 4.4.
	ErrInvalidVersion = errors.New("handshake: unsupported WebSocket version")

	// ErrOriginDenied indicates Options.CheckOrigin rejected the request.
	ErrOriginDenied = errors.New("handshake: origin check failed")

	// ErrHijackFailed indicates the ResponseWriter does not support
	// hijacking the underlying connection.
	ErrHijackFailed = errors.New("handshake: cannot hijack connection")

	// ErrHandshakeTooLarge indicates the request line plus headers exceeded
	// Options.MaxHandshakeSize.
	ErrHandshakeTooLarge = errors.New("handshake: request exceeds maximum handshake size")

	// ErrCapacityExceeded describes a connection turned away because the
	// server is at capacity. Upgrade never returns it; the manager turns such
	// connections away with RejectWithStatus before calling Upgrade.
	ErrCapacityExceeded = errors.New("handshake: server at capacity")
)
