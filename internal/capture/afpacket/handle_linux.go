//go:build linux

package afpacket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"golang.org/x/sys/unix"

	"firestige.xyz/rxprobe/internal/capture"
	"firestige.xyz/rxprobe/internal/log"
	"firestige.xyz/rxprobe/internal/metrics"
)

type ring interface {
	ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	SetFanout(t afpacket.FanoutType, id uint16) error
	counters() (packets, drops uint64, err error)
	Close()
}

type tpacketRing struct {
	*afpacket.TPacket
}

func (r tpacketRing) counters() (uint64, uint64, error) {
	_, v3, err := r.SocketStats()
	if err != nil {
		return 0, 0, err
	}
	return uint64(v3.Packets()), uint64(v3.Drops()), nil
}

type queueRing struct {
	queue capture.Queue
	ring  ring
	// free holds the snapshot buffers this ring may fill; frames return them.
	free chan []byte
}

// frame is one packet copied out of a ring, or the error that stopped it.
type frame struct {
	qr      *queueRing
	buf     []byte
	ifindex int
	err     error
}

// Handle reads every attached ring on its own goroutine and hands packets to
// Recv through a shared queue. Recv waits only while its batch is empty, so a
// packet is never held back by a poll on an idle ring. Recv must not be
// called concurrently; Stats may be called at any time.
type Handle struct {
	mu       sync.RWMutex
	opts     Options
	newRing  func(name string) (ring, error)
	lookup   func(ifindex int) (capture.Device, error)
	rings    []*queueRing
	attached map[capture.Queue]struct{}
	closed   bool

	frames  chan frame
	stop    chan struct{}
	wg      sync.WaitGroup
	pending error
}

func newHandle(opts Options, newRing func(string) (ring, error), lookup func(int) (capture.Device, error)) *Handle {
	if opts.BatchCapacity <= 0 {
		opts.BatchCapacity = capture.DefaultBatchCapacity
	}
	return &Handle{
		opts:     opts,
		newRing:  newRing,
		lookup:   lookup,
		attached: make(map[capture.Queue]struct{}),
		frames:   make(chan frame, opts.BatchCapacity),
		stop:     make(chan struct{}),
	}
}

// Attach opens a ring for q and starts reading it. Queues of a multi-queue
// interface share a PACKET_FANOUT_QM group, so ring i only sees traffic of
// receive queue i when queues are attached in order.
func (h *Handle) Attach(q capture.Queue) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return capture.ErrClosed
	}
	if _, ok := h.attached[q]; ok {
		return fmt.Errorf("queue %s: %w", q, capture.ErrAlreadyAttached)
	}

	dev, err := h.lookup(q.IfIndex)
	if err != nil {
		return err
	}
	if q.Index < 0 || (dev.RxQueues > 0 && q.Index >= dev.RxQueues) {
		return fmt.Errorf("queue %d out of range for %s (%d queues)", q.Index, dev.Name, dev.RxQueues)
	}

	r, err := h.newRing(dev.Name)
	if err != nil {
		return err
	}
	if dev.RxQueues > 1 {
		group := fanoutGroup(h.opts.FanoutID, dev.Index)
		if err := r.SetFanout(afpacket.FanoutQueueMapping, group); err != nil {
			r.Close()
			return fmt.Errorf("failed to join fanout group %d on %s: %w", group, dev.Name, err)
		}
	}

	qr := &queueRing{
		queue: q,
		ring:  r,
		free:  make(chan []byte, h.opts.BatchCapacity),
	}
	for i := 0; i < h.opts.BatchCapacity; i++ {
		qr.free <- make([]byte, h.opts.SnapLen)
	}
	h.rings = append(h.rings, qr)
	h.attached[q] = struct{}{}
	metrics.AttachedQueues.Inc()

	h.wg.Add(1)
	go h.read(qr)

	log.GetLogger().WithFields(map[string]interface{}{
		"device": dev.Name,
		"queue":  q.Index,
	}).Debug("queue attached")
	return nil
}

// read copies packets from qr into its free buffers until the handle is
// closed or the ring fails. A poll timeout only rechecks for close.
func (h *Handle) read(qr *queueRing) {
	defer h.wg.Done()

	for {
		var buf []byte
		select {
		case buf = <-qr.free:
		case <-h.stop:
			return
		}

		f := frame{qr: qr}
		for {
			select {
			case <-h.stop:
				return
			default:
			}
			data, ci, err := qr.ring.ZeroCopyReadPacketData()
			if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				f.err = fmt.Errorf("queue %s: %w", qr.queue, err)
				break
			}
			f.buf = buf[:copy(buf, data)]
			f.ifindex = ci.InterfaceIndex
			if f.ifindex == 0 {
				f.ifindex = qr.queue.IfIndex
			}
			break
		}

		select {
		case h.frames <- f:
		case <-h.stop:
			return
		}
		if f.err != nil {
			return
		}
	}
}

// AllocBatch returns a batch whose region holds a full snapshot per descriptor.
func (h *Handle) AllocBatch() (*capture.Batch, error) {
	if h.opts.SnapLen <= 0 {
		return nil, fmt.Errorf("snap length must be positive, got %d", h.opts.SnapLen)
	}
	return capture.NewBatch(h.opts.BatchCapacity, h.opts.BatchCapacity*h.opts.SnapLen), nil
}

// Recv waits for the first packet, then adds the packets already queued
// without waiting again. A non-blocking Recv gives up with ErrWouldBlock
// after one poll timeout; a cancelled ctx yields ErrInterrupted. A ring error
// met after packets were collected is returned by the next call.
func (h *Handle) Recv(ctx context.Context, b *capture.Batch) (int, error) {
	h.mu.RLock()
	closed, queues := h.closed, len(h.rings)
	h.mu.RUnlock()

	if closed {
		return 0, capture.ErrClosed
	}
	if queues == 0 {
		return 0, errors.New("afpacket: no queues attached")
	}
	if err := h.pending; err != nil {
		h.pending = nil
		return 0, err
	}
	if ctx.Err() != nil {
		return 0, capture.ErrInterrupted
	}

	b.Reset()
	var timeout <-chan time.Time
	if !b.Blocking {
		t := time.NewTimer(h.opts.PollTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case f := <-h.frames:
		if err := h.take(b, f); err != nil {
			return 0, err
		}
	case <-ctx.Done():
		return 0, capture.ErrInterrupted
	case <-timeout:
		return 0, capture.ErrWouldBlock
	case <-h.stop:
		return 0, capture.ErrClosed
	}

drain:
	for !b.Full() {
		select {
		case f := <-h.frames:
			if err := h.take(b, f); err != nil {
				log.GetLogger().WithError(err).Debugf("receive error after %d packets, deferred to next call", b.Len())
				h.pending = err
				break drain
			}
		default:
			break drain
		}
	}

	n := b.Len()
	b.Cnt = n
	return n, nil
}

// take appends f to b and gives its buffer back to the ring.
func (h *Handle) take(b *capture.Batch, f frame) error {
	if f.err != nil {
		return f.err
	}
	b.Append(f.buf, f.ifindex)
	f.qr.free <- f.buf[:cap(f.buf)]
	return nil
}

func (h *Handle) Stats() capture.Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := capture.Stats{Queues: len(h.rings)}
	for _, qr := range h.rings {
		packets, drops, err := qr.ring.counters()
		if err != nil {
			log.GetLogger().WithError(err).Debugf("socket stats for queue %s", qr.queue)
			continue
		}
		st.Packets += packets
		st.Drops += drops
	}
	return st
}

// Close stops the readers, waiting up to one poll timeout for them, then
// releases every ring. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.stop)
	rings := h.rings
	h.rings = nil
	h.mu.Unlock()

	h.wg.Wait()
	for _, qr := range rings {
		qr.ring.Close()
	}
	metrics.AttachedQueues.Sub(float64(len(rings)))
	return nil
}
