// Package afpacket implements the batch receive channel on Linux AF_PACKET
// TPACKET_V3 rings, one ring per attached receive queue.
package afpacket

import (
	"fmt"
	"time"
)

// Options configure the rings opened by a Channel.
type Options struct {
	SnapLen       int
	BufferSizeMB  int
	PollTimeout   time.Duration
	BPFFilter     string
	FanoutID      uint16
	BatchCapacity int
}

func DefaultOptions() Options {
	return Options{
		SnapLen:       2048,
		BufferSizeMB:  4,
		PollTimeout:   100 * time.Millisecond,
		BatchCapacity: 128,
	}
}

// fanoutGroup is the fanout id shared by every queue of one interface.
func fanoutGroup(base uint16, ifindex int) uint16 {
	return base + uint16(ifindex)
}

// computeRingSize derives a TPACKET ring geometry from a per-ring memory
// budget and the snapshot length:
//   - frameSize is a multiple of TPACKET_ALIGNMENT and either divides or is a
//     multiple of pageSize
//   - blockSize is a multiple of both pageSize and frameSize, at most 4 MB
//     unless a single frame is larger
//   - numBlocks*blockSize does not exceed the budget
func computeRingSize(bufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52
	const framesPerBlock = 128
	const maxBlockSize = 4 * 1024 * 1024

	if bufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize < tpacketAlignment || pageSize&(pageSize-1) != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a power of two >= %d, got %d", tpacketAlignment, pageSize)
	}

	raw := tpacketHdrLen + snapLen
	if raw <= pageSize {
		frameSize = tpacketAlignment
		for frameSize < raw {
			frameSize <<= 1
		}
	} else {
		frameSize = (raw + pageSize - 1) / pageSize * pageSize
	}

	blockSize = frameSize * framesPerBlock
	if blockSize < pageSize {
		blockSize = pageSize
	}
	if blockSize > maxBlockSize {
		blockSize = (maxBlockSize / frameSize) * frameSize
		if blockSize < frameSize {
			blockSize = frameSize
		}
	}

	numBlocks = bufferSizeMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		return 0, 0, 0, fmt.Errorf("buffer of %d MB too small for block size %d", bufferSizeMB, blockSize)
	}
	return frameSize, blockSize, numBlocks, nil
}
