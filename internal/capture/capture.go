// Package capture defines the batch receive channel used by the probe.
//
// A Channel lists devices and opens a Handle. Queues are attached to the
// handle one at a time, after which Recv fills a caller-owned Batch with up
// to Batch.Cnt packets per call.
package capture

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInterrupted is returned by Recv when the wait was cut short by
	// cancellation. The caller decides whether to retry.
	ErrInterrupted = errors.New("capture: receive interrupted")
	// ErrWouldBlock is returned by a non-blocking Recv when no packet is ready.
	ErrWouldBlock = errors.New("capture: no packets ready")
	// ErrAlreadyAttached is returned when a queue is attached twice.
	ErrAlreadyAttached = errors.New("capture: queue already attached")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("capture: handle closed")
)

// Device is a network interface that can be attached.
type Device struct {
	Name     string
	Index    int
	RxQueues int
}

// Queue identifies one receive queue of one interface.
type Queue struct {
	IfIndex int
	Index   int
}

func (q Queue) String() string {
	return fmt.Sprintf("%d:%d", q.IfIndex, q.Index)
}

// Stats are the cumulative counters of a handle.
type Stats struct {
	Packets uint64
	Drops   uint64
	Queues  int
}

// Channel is the entry point of a capture backend.
type Channel interface {
	ListDevices() ([]Device, error)
	Open() (Handle, error)
}

// Handle receives packets from the queues attached to it.
type Handle interface {
	Attach(q Queue) error
	AllocBatch() (*Batch, error)
	// Recv fills b with at most b.Cnt packets and returns how many were delivered.
	Recv(ctx context.Context, b *Batch) (int, error)
	Stats() Stats
	Close() error
}
