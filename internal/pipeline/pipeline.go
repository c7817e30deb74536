// Package pipeline implements the batch receive loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"firestige.xyz/rxprobe/internal/capture"
	"firestige.xyz/rxprobe/internal/core"
	"firestige.xyz/rxprobe/internal/log"
	"firestige.xyz/rxprobe/internal/metrics"
)

// Consumer is applied to every received packet in delivery order. pkt is
// only valid for the duration of the call.
type Consumer interface {
	Name() string
	Consume(pkt []byte, length int)
}

// Config contains pipeline configuration.
type Config struct {
	Handle    capture.Handle
	Consumers []Consumer
	BatchSize int
	Blocking  bool
}

// Pipeline drives one handle on the calling goroutine.
type Pipeline struct {
	handle    capture.Handle
	consumers []Consumer
	batchSize int
	blocking  bool
	metrics   Metrics
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = capture.DefaultBatchCapacity
	}
	return &Pipeline{
		handle:    cfg.Handle,
		consumers: cfg.Consumers,
		batchSize: cfg.BatchSize,
		blocking:  cfg.Blocking,
	}
}

func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}

// Run receives batches until ctx is cancelled or, in non-blocking mode, the
// channel runs dry. Interrupted receives are retried without touching the
// packet counters. Any other receive error is fatal and wraps
// core.ErrFatalReceive. Stats count the current run only.
func (p *Pipeline) Run(ctx context.Context) error {
	p.metrics.Reset()

	b, err := p.handle.AllocBatch()
	if err != nil {
		return fmt.Errorf("alloc batch: %w", err)
	}
	batchSize := p.batchSize
	if batchSize > b.Capacity() {
		batchSize = b.Capacity()
	}
	b.Cnt = batchSize
	b.Blocking = p.blocking

	consumers := make([]string, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c.Name())
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"batch_size": batchSize,
		"blocking":   p.blocking,
		"consumers":  consumers,
	}).Info("receive loop starting")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := p.handle.Recv(ctx, b)
		if err != nil {
			switch {
			case errors.Is(err, capture.ErrInterrupted):
				p.metrics.Retries.Add(1)
				metrics.RecvRetriesTotal.Inc()
				continue
			case errors.Is(err, capture.ErrWouldBlock) && !b.Blocking:
				log.GetLogger().Debug("no more packets, receive loop done")
				return nil
			default:
				return fmt.Errorf("%w: %w", core.ErrFatalReceive, err)
			}
		}

		for i := 0; i < n; i++ {
			pkt := b.Packet(i)
			length := b.Info[i].Len
			for _, c := range p.consumers {
				c.Consume(pkt, length)
			}
		}

		p.metrics.Packets.Add(uint64(n))
		p.metrics.Batches.Add(1)
		metrics.PacketsTotal.Add(float64(n))
		metrics.BatchesTotal.Inc()

		b.Cnt = batchSize
	}
}
