// Package sentinel detects packets whose 32-bit marker word differs from the
// expected value and timestamps them on the monotonic clock.
package sentinel

import (
	"encoding/binary"
	"io"
	"strconv"

	"firestige.xyz/rxprobe/internal/log"
	"firestige.xyz/rxprobe/internal/metrics"
)

const (
	DefaultOffset   = 44
	DefaultExpected = 0x10F20100
)

// Clock returns a monotonic timestamp in microseconds.
type Clock func() uint64

// Event is a sentinel mismatch.
type Event struct {
	Value  uint32
	Micros uint64
}

// AppendText renders the event as "<value> <usec>\n", value printed as a signed 32-bit integer.
func (e Event) AppendText(dst []byte) []byte {
	dst = strconv.AppendInt(dst, int64(int32(e.Value)), 10)
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, e.Micros, 10)
	return append(dst, '\n')
}

func (e Event) String() string {
	return string(e.AppendText(nil))
}

// Option configures a Probe.
type Option func(*Probe)

// WithClock replaces the monotonic clock.
func WithClock(c Clock) Option {
	return func(p *Probe) {
		p.clock = c
	}
}

// Probe checks the sentinel word of each packet.
type Probe struct {
	offset   int
	expected uint32
	clock    Clock
	out      io.Writer
	buf      []byte
}

// New creates a Probe that reads the word at offset and reports to out
// every packet where it differs from expected.
func New(out io.Writer, offset int, expected uint32, opts ...Option) *Probe {
	p := &Probe{
		offset:   offset,
		expected: expected,
		clock:    MonotonicMicros,
		out:      out,
		buf:      make([]byte, 0, 32),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Probe) Name() string {
	return "probe"
}

// Check reports whether pkt carries an unexpected sentinel. Packets too short
// to hold the word are never read and count as short.
func (p *Probe) Check(pkt []byte) (Event, bool) {
	if p.offset < 0 || len(pkt) < p.offset+4 {
		metrics.SentinelShortTotal.Inc()
		if l := log.GetLogger(); l.IsDebugEnabled() {
			l.Debugf("packet of %d bytes too short for sentinel at offset %d", len(pkt), p.offset)
		}
		return Event{}, false
	}

	v := binary.NativeEndian.Uint32(pkt[p.offset:])
	if v == p.expected {
		return Event{}, false
	}
	metrics.SentinelMismatchTotal.Inc()
	return Event{Value: v, Micros: p.clock()}, true
}

// Consume writes one line per mismatching packet.
func (p *Probe) Consume(pkt []byte, length int) {
	ev, ok := p.Check(pkt)
	if !ok {
		return
	}
	p.buf = ev.AppendText(p.buf[:0])
	_, _ = p.out.Write(p.buf)
}
