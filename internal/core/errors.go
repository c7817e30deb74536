// Package core defines sentinel errors.
package core

import "errors"

var (
	// Attachment errors
	ErrNoInterfaces = errors.New("rxprobe: no interfaces attached")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("rxprobe: packet too short")
	ErrUnsupportedProto = errors.New("rxprobe: unsupported protocol")

	// Receive errors
	ErrFatalReceive = errors.New("rxprobe: fatal receive error")

	// Configuration errors
	ErrConfigInvalid = errors.New("rxprobe: invalid configuration")
)
