package packets

import "errors"

var (
	// Frame-level errors. All of these are fatal for the connection.
	ErrMalformedRemainingLength = errors.New("malformed packet: remaining length overruns 4 bytes")
	ErrInvalidFlags             = errors.New("invalid flags set for packet type")
	ErrShortRead                = errors.New("packet body ends before declared field")
	ErrLengthMismatch           = errors.New("packet body does not match remaining length")
	ErrUnknownPacketType        = errors.New("unknown packet type")

	// CONNECT
	ErrMalformedProtocolName    = errors.New("malformed packet: protocol name")
	ErrMalformedProtocolVersion = errors.New("malformed packet: protocol version")
	ErrMalformedFlags           = errors.New("malformed packet: flags")
	ErrMalformedKeepalive       = errors.New("malformed packet: keepalive")
	ErrMalformedClientID        = errors.New("malformed packet: client id")
	ErrMalformedWillTopic       = errors.New("malformed packet: will topic")
	ErrMalformedWillMessage     = errors.New("malformed packet: will message")
	ErrMalformedUsername        = errors.New("malformed packet: username")
	ErrMalformedPassword        = errors.New("malformed packet: password")

	// CONNACK
	ErrMalformedSessionPresent = errors.New("malformed packet: session present")
	ErrMalformedReturnCode     = errors.New("malformed packet: return code")

	// PUBLISH
	ErrMalformedTopic    = errors.New("malformed packet: topic name")
	ErrMalformedPacketID = errors.New("malformed packet: packet id")

	// SUBSCRIBE
	ErrMalformedQoS = errors.New("malformed packet: qos")

	ErrProtocolViolation = errors.New("protocol violation")
	ErrMissingPacketID   = errors.New("missing packet id")
	ErrSurplusPacketID   = errors.New("surplus packet id")

	// errLengthIncomplete signals that a variable length integer ran off the
	// end of the available bytes. Internal to the framer; more bytes may
	// still legitimately arrive.
	errLengthIncomplete = errors.New("remaining length incomplete")

	// Offset errors raised by the inner field readers. They all unwrap to
	// ErrShortRead so callers can treat any of them as a truncated body.
	ErrOffsetBytesOutOfRange = wrapShortRead("offset bytes out of range")
	ErrOffsetByteOutOfRange  = wrapShortRead("offset byte out of range")
	ErrOffsetBoolOutOfRange  = wrapShortRead("offset bool out of range")
	ErrOffsetUintOutOfRange  = wrapShortRead("offset uint out of range")
)

type shortReadError struct {
	msg string
}

func (e *shortReadError) Error() string { return e.msg }

func (e *shortReadError) Unwrap() error { return ErrShortRead }

func wrapShortRead(msg string) error {
	return &shortReadError{msg: msg}
}
