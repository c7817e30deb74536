//go:build linux

package afpacket

import (
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/vishvananda/netlink"
	"golang.org/x/net/bpf"

	"firestige.xyz/rxprobe/internal/capture"
	"firestige.xyz/rxprobe/internal/log"
)

// Channel lists interfaces through netlink and opens AF_PACKET handles.
type Channel struct {
	opts        Options
	linkList    func() ([]netlink.Link, error)
	linkByIndex func(int) (netlink.Link, error)
}

func NewChannel(opts Options) *Channel {
	return &Channel{
		opts:        opts,
		linkList:    netlink.LinkList,
		linkByIndex: netlink.LinkByIndex,
	}
}

func (c *Channel) ListDevices() ([]capture.Device, error) {
	links, err := c.linkList()
	if err != nil {
		return nil, fmt.Errorf("netlink list: %w", err)
	}
	devs := make([]capture.Device, 0, len(links))
	for _, l := range links {
		devs = append(devs, deviceFromLink(l))
	}
	return devs, nil
}

func deviceFromLink(l netlink.Link) capture.Device {
	attrs := l.Attrs()
	return capture.Device{
		Name:     attrs.Name,
		Index:    attrs.Index,
		RxQueues: attrs.NumRxQueues,
	}
}

// Open validates the ring geometry and BPF filter and returns a handle with
// no queues attached.
func (c *Channel) Open() (capture.Handle, error) {
	frameSize, blockSize, numBlocks, err := computeRingSize(c.opts.BufferSizeMB, c.opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("ring size: %w", err)
	}

	var filter []bpf.RawInstruction
	if c.opts.BPFFilter != "" {
		if filter, err = compileBPF(c.opts.BPFFilter, c.opts.SnapLen); err != nil {
			return nil, err
		}
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"frame_size": frameSize,
		"block_size": blockSize,
		"num_blocks": numBlocks,
	}).Debug("afpacket ring geometry")

	newRing := func(name string) (ring, error) {
		tp, err := afpacket.NewTPacket(
			afpacket.OptInterface(name),
			afpacket.OptFrameSize(frameSize),
			afpacket.OptBlockSize(blockSize),
			afpacket.OptNumBlocks(numBlocks),
			afpacket.OptPollTimeout(c.opts.PollTimeout),
			afpacket.SocketRaw,
			afpacket.TPacketVersion3,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create TPacket on %s: %w", name, err)
		}
		if filter != nil {
			if err := tp.SetBPF(filter); err != nil {
				tp.Close()
				return nil, fmt.Errorf("failed to set BPF filter on %s: %w", name, err)
			}
		}
		return tpacketRing{tp}, nil
	}

	lookup := func(ifindex int) (capture.Device, error) {
		l, err := c.linkByIndex(ifindex)
		if err != nil {
			return capture.Device{}, fmt.Errorf("interface %d: %w", ifindex, err)
		}
		return deviceFromLink(l), nil
	}

	return newHandle(c.opts, newRing, lookup), nil
}
