//go:build !linux

package afpacket

import (
	"errors"

	"firestige.xyz/rxprobe/internal/capture"
)

var errUnsupported = errors.New("afpacket: only supported on linux")

// Channel is unavailable outside Linux; every call fails.
type Channel struct{}

func NewChannel(opts Options) *Channel {
	return &Channel{}
}

func (c *Channel) ListDevices() ([]capture.Device, error) {
	return nil, errUnsupported
}

func (c *Channel) Open() (capture.Handle, error) {
	return nil, errUnsupported
}
