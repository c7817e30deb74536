package pipeline

import (
	"sync/atomic"
)

// Metrics contains the receive loop counters.
type Metrics struct {
	Packets atomic.Uint64
	Batches atomic.Uint64
	Retries atomic.Uint64
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Packets uint64
	Batches uint64
	Retries uint64
}

func (m *Metrics) Snapshot() Stats {
	return Stats{
		Packets: m.Packets.Load(),
		Batches: m.Batches.Load(),
		Retries: m.Retries.Load(),
	}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Packets.Store(0)
	m.Batches.Store(0)
	m.Retries.Store(0)
}
