// Package daemon implements the probe lifecycle.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"firestige.xyz/rxprobe/internal/attach"
	"firestige.xyz/rxprobe/internal/capture"
	"firestige.xyz/rxprobe/internal/config"
	"firestige.xyz/rxprobe/internal/core/decoder"
	"firestige.xyz/rxprobe/internal/core/hexdump"
	"firestige.xyz/rxprobe/internal/core/sentinel"
	"firestige.xyz/rxprobe/internal/log"
	"firestige.xyz/rxprobe/internal/metrics"
	"firestige.xyz/rxprobe/internal/pipeline"
)

// State is the lifecycle phase of a Probe.
type State int32

const (
	StateAttaching State = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAttaching:
		return "ATTACHING"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

const dropsInterval = time.Second

// Probe attaches the named interfaces and runs the receive loop until it is
// interrupted, runs dry, or fails.
type Probe struct {
	config  *config.Config
	channel capture.Channel
	names   []string

	out     *bufio.Writer
	handle  capture.Handle
	pipe    *pipeline.Pipeline
	closers []io.Closer

	metricsServer *metrics.Server
	sigChan       chan os.Signal
	state         atomic.Int32
}

// New creates a Probe writing probe and dissection lines to stdout.
func New(cfg *config.Config, ch capture.Channel, names []string, stdout io.Writer) *Probe {
	return &Probe{
		config:  cfg,
		channel: ch,
		names:   names,
		out:     bufio.NewWriterSize(stdout, 64*1024),
	}
}

func (p *Probe) State() State {
	return State(p.state.Load())
}

func (p *Probe) setState(s State) {
	p.state.Store(int32(s))
	log.GetLogger().Debugf("probe state %s", s)
}

// Run executes the whole lifecycle. SIGINT and SIGTERM cancel the receive
// loop; buffered output is always flushed and the handle always closed
// before Run returns.
func (p *Probe) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		p.stop()
	}()

	p.sigChan = make(chan os.Signal, 1)
	signal.Notify(p.sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(p.sigChan)

	go func() {
		select {
		case sig := <-p.sigChan:
			log.GetLogger().WithField("signal", sig).Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := p.start(ctx); err != nil {
		return err
	}

	p.setState(StateRunning)
	go p.watchDrops(ctx)

	return p.pipe.Run(ctx)
}

// start performs the ATTACHING phase. Names are resolved before any handle
// is opened, so an unknown interface leaves the system untouched.
func (p *Probe) start(ctx context.Context) error {
	p.setState(StateAttaching)

	devices, err := p.channel.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	devs, err := attach.Resolve(devices, p.names)
	if err != nil {
		return err
	}

	consumers, err := p.buildConsumers()
	if err != nil {
		return err
	}

	h, err := p.channel.Open()
	if err != nil {
		return fmt.Errorf("failed to open capture handle: %w", err)
	}
	p.handle = h

	queues, err := attach.Attach(h, devs)
	if err != nil {
		return err
	}
	log.GetLogger().WithField("queues", len(queues)).Infof("attached %d devices", len(devs))

	if err := p.startMetrics(ctx); err != nil {
		return err
	}

	p.pipe = pipeline.New(pipeline.Config{
		Handle:    h,
		Consumers: consumers,
		BatchSize: p.config.Capture.BatchSize,
		Blocking:  p.config.Capture.Blocking,
	})
	return nil
}

func (p *Probe) buildConsumers() ([]pipeline.Consumer, error) {
	var consumers []pipeline.Consumer
	if p.config.Probe.Dissect() {
		consumers = append(consumers, decoder.NewDissector(p.out))
	}
	if p.config.Probe.Sentinel() {
		consumers = append(consumers, sentinel.New(p.out, p.config.Probe.SentinelOffset, p.config.Probe.SentinelValue))
	}
	if p.config.Hexdump.Enabled {
		w, closer, err := hexdump.NewFile(p.config.Hexdump.Filename, p.config.Hexdump.MaxSizeMB)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, closer)
		consumers = append(consumers, w)
	}
	if len(consumers) == 0 {
		return nil, fmt.Errorf("no consumers for mode %q", p.config.Probe.Mode)
	}
	return consumers, nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (p *Probe) startMetrics(ctx context.Context) error {
	if !p.config.Metrics.Enabled {
		return nil
	}

	p.metricsServer = metrics.NewServer(p.config.Metrics.Listen, p.config.Metrics.Path)
	if err := p.metricsServer.Start(ctx); err != nil {
		p.metricsServer = nil
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

// watchDrops publishes the kernel drop counter until ctx is done.
func (p *Probe) watchDrops(ctx context.Context) {
	ticker := time.NewTicker(dropsInterval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ticker.C:
			st := p.handle.Stats()
			metrics.KernelDrops.Set(float64(st.Drops))
			if st.Drops > last {
				log.GetLogger().WithField("drops", st.Drops).Warn("kernel dropped packets")
				last = st.Drops
			}
		case <-ctx.Done():
			return
		}
	}
}

// stop performs the DRAINING phase and leaves the probe TERMINATED.
func (p *Probe) stop() {
	p.setState(StateDraining)

	if err := p.out.Flush(); err != nil {
		log.GetLogger().WithError(err).Error("failed to flush output")
	}

	if p.handle != nil {
		st := p.handle.Stats()
		if err := p.handle.Close(); err != nil {
			log.GetLogger().WithError(err).Error("error closing capture handle")
		}
		log.GetLogger().WithFields(map[string]interface{}{
			"kernel_packets": st.Packets,
			"kernel_drops":   st.Drops,
			"queues":         st.Queues,
		}).Info("capture handle closed")
	}

	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			log.GetLogger().WithError(err).Error("error closing hexdump file")
		}
	}

	if p.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.metricsServer.Stop(shutdownCtx); err != nil {
			log.GetLogger().WithError(err).Error("error stopping metrics server")
		}
	}

	if p.pipe != nil {
		st := p.pipe.Stats()
		log.GetLogger().WithFields(map[string]interface{}{
			"packets": st.Packets,
			"batches": st.Batches,
			"retries": st.Retries,
		}).Info("probe stopped")
	}

	p.setState(StateTerminated)
}
