//go:build linux

package afpacket

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"firestige.xyz/rxprobe/internal/capture"
)

type readResult struct {
	data    []byte
	ifindex int
	err     error
}

// fakeRing serves queued reads and, like a real ring, waits out its poll
// timeout before reporting afpacket.ErrTimeout when nothing is queued.
type fakeRing struct {
	name      string
	reads     chan readResult
	timeout   time.Duration
	fanoutSet bool
	fanout    afpacket.FanoutType
	fanoutID  uint16
	fanoutErr error
	packets   uint64
	drops     uint64
	statsErr  error
	closed    bool
}

func newFakeRing(name string, timeout time.Duration, script []readResult) *fakeRing {
	r := &fakeRing{name: name, reads: make(chan readResult, 64), timeout: timeout}
	for _, rr := range script {
		r.reads <- rr
	}
	return r
}

func (f *fakeRing) ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case r := <-f.reads:
		return r.data, gopacket.CaptureInfo{CaptureLength: len(r.data), InterfaceIndex: r.ifindex}, r.err
	case <-time.After(f.timeout):
		return nil, gopacket.CaptureInfo{}, afpacket.ErrTimeout
	}
}

func (f *fakeRing) SetFanout(t afpacket.FanoutType, id uint16) error {
	f.fanoutSet = true
	f.fanout = t
	f.fanoutID = id
	return f.fanoutErr
}

func (f *fakeRing) counters() (uint64, uint64, error) {
	return f.packets, f.drops, f.statsErr
}

func (f *fakeRing) Close() { f.closed = true }

type testHandle struct {
	*Handle
	rings []*fakeRing
	// scripts are consumed in ring creation order
	scripts [][]readResult
}

func newTestHandle(t *testing.T, opts Options, devs ...capture.Device) *testHandle {
	t.Helper()
	th := &testHandle{}
	newRing := func(name string) (ring, error) {
		var script []readResult
		if len(th.scripts) > 0 {
			script = th.scripts[0]
			th.scripts = th.scripts[1:]
		}
		r := newFakeRing(name, opts.PollTimeout, script)
		th.rings = append(th.rings, r)
		return r, nil
	}
	lookup := func(ifindex int) (capture.Device, error) {
		for _, d := range devs {
			if d.Index == ifindex {
				return d, nil
			}
		}
		return capture.Device{}, fmt.Errorf("interface %d: no such device", ifindex)
	}
	th.Handle = newHandle(opts, newRing, lookup)
	t.Cleanup(func() { _ = th.Close() })
	return th
}

// waitQueued waits until n frames are ready for Recv.
func (th *testHandle) waitQueued(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(th.frames) >= n }, time.Second, time.Millisecond)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.FanoutID = 0x4200
	opts.PollTimeout = 20 * time.Millisecond
	return opts
}

func pkt(b ...byte) readResult { return readResult{data: b} }

func TestAttachSingleQueue(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})

	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2, Index: 0}))
	require.Len(t, th.rings, 1)
	assert.Equal(t, "eth0", th.rings[0].name)
	assert.False(t, th.rings[0].fanoutSet)

	err := th.Attach(capture.Queue{IfIndex: 2, Index: 0})
	assert.ErrorIs(t, err, capture.ErrAlreadyAttached)
	assert.Len(t, th.rings, 1)
}

func TestAttachMultiQueueJoinsFanout(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth1", Index: 5, RxQueues: 2})

	require.NoError(t, th.Attach(capture.Queue{IfIndex: 5, Index: 0}))
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 5, Index: 1}))

	for _, r := range th.rings {
		assert.True(t, r.fanoutSet)
		assert.Equal(t, afpacket.FanoutQueueMapping, r.fanout)
		assert.Equal(t, uint16(0x4205), r.fanoutID)
	}
}

func TestAttachFanoutFailureClosesRing(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth1", Index: 5, RxQueues: 2})
	th.Handle.newRing = func(name string) (ring, error) {
		r := &fakeRing{name: name, fanoutErr: errors.New("EINVAL")}
		th.rings = append(th.rings, r)
		return r, nil
	}

	assert.Error(t, th.Attach(capture.Queue{IfIndex: 5, Index: 0}))
	require.Len(t, th.rings, 1)
	assert.True(t, th.rings[0].closed)
	assert.Empty(t, th.Handle.rings)
}

func TestAttachRejectsUnknownAndOutOfRange(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 2})

	assert.Error(t, th.Attach(capture.Queue{IfIndex: 9, Index: 0}))
	assert.Error(t, th.Attach(capture.Queue{IfIndex: 2, Index: 2}))
	assert.Error(t, th.Attach(capture.Queue{IfIndex: 2, Index: -1}))
	assert.Empty(t, th.rings)
}

func TestAttachDeviceWithoutQueueCount(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "tun0", Index: 4, RxQueues: 0})

	require.NoError(t, th.Attach(capture.Queue{IfIndex: 4, Index: 0}))
	assert.False(t, th.rings[0].fanoutSet)
}

func TestAllocBatch(t *testing.T) {
	opts := testOptions()
	opts.SnapLen = 256
	opts.BatchCapacity = 0
	th := newTestHandle(t, opts)

	b, err := th.AllocBatch()
	require.NoError(t, err)
	assert.Equal(t, capture.DefaultBatchCapacity, b.Capacity())
	assert.Len(t, b.Buf, capture.DefaultBatchCapacity*256)
}

func TestRecvWithoutQueues(t *testing.T) {
	th := newTestHandle(t, testOptions())
	b, err := th.AllocBatch()
	require.NoError(t, err)

	_, err = th.Recv(context.Background(), b)
	assert.Error(t, err)
}

func TestRecvCopiesPacketsInQueueOrder(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	th.scripts = [][]readResult{
		{pkt(1, 1), pkt(1, 2, 3), {data: []byte{2}, ifindex: 7}},
	}
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))
	th.waitQueued(t, 3)

	b, err := th.AllocBatch()
	require.NoError(t, err)

	n, err := th.Recv(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, 3, b.Cnt)
	assert.Equal(t, []byte{1, 1}, b.Packet(0))
	assert.Equal(t, []byte{1, 2, 3}, b.Packet(1))
	assert.Equal(t, []byte{2}, b.Packet(2))
	// a zero interface index in the capture info falls back to the queue's
	assert.Equal(t, 2, b.Info[0].IfIndex)
	assert.Equal(t, 7, b.Info[2].IfIndex)

	b.Cnt = b.Capacity()
	_, err = th.Recv(context.Background(), b)
	assert.ErrorIs(t, err, capture.ErrWouldBlock)
}

func TestRecvMergesQueues(t *testing.T) {
	th := newTestHandle(t, testOptions(),
		capture.Device{Name: "eth0", Index: 2, RxQueues: 1},
		capture.Device{Name: "eth1", Index: 3, RxQueues: 1})
	th.scripts = [][]readResult{
		{pkt(0xa1), pkt(0xa2)},
		{pkt(0xb1), pkt(0xb2)},
	}
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 3}))
	th.waitQueued(t, 4)

	b, err := th.AllocBatch()
	require.NoError(t, err)

	n, err := th.Recv(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	var got, fromA, fromB []byte
	for i := 0; i < n; i++ {
		v := b.Packet(i)[0]
		got = append(got, v)
		if b.Info[i].IfIndex == 2 {
			fromA = append(fromA, v)
		} else {
			fromB = append(fromB, v)
		}
	}
	assert.ElementsMatch(t, []byte{0xa1, 0xa2, 0xb1, 0xb2}, got)
	assert.Equal(t, []byte{0xa1, 0xa2}, fromA)
	assert.Equal(t, []byte{0xb1, 0xb2}, fromB)
}

func TestRecvHonoursBatchCount(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	th.scripts = [][]readResult{{pkt(1), pkt(2), pkt(3)}}
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))
	th.waitQueued(t, 3)

	b, err := th.AllocBatch()
	require.NoError(t, err)

	b.Cnt = 2
	n, err := th.Recv(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b.Cnt = 2
	n, err = th.Recv(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, []byte{3}, b.Packet(0))
}

func TestRecvDoesNotWaitOnIdleQueues(t *testing.T) {
	for _, tc := range []struct {
		name     string
		ready    int
		blocking bool
	}{
		{"blocking first queue", 0, true},
		{"blocking last queue", 3, true},
		{"non-blocking", 1, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opts := testOptions()
			opts.PollTimeout = 200 * time.Millisecond
			th := newTestHandle(t, opts, capture.Device{Name: "eth0", Index: 2, RxQueues: 4})
			th.scripts = make([][]readResult, 4)
			th.scripts[tc.ready] = []readResult{pkt(0x42)}
			for i := 0; i < 4; i++ {
				require.NoError(t, th.Attach(capture.Queue{IfIndex: 2, Index: i}))
			}
			th.waitQueued(t, 1)

			b, err := th.AllocBatch()
			require.NoError(t, err)
			b.Blocking = tc.blocking

			start := time.Now()
			n, err := th.Recv(context.Background(), b)
			elapsed := time.Since(start)

			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Less(t, elapsed, opts.PollTimeout/4)
		})
	}
}

func TestRecvReturnsWhenPacketArrives(t *testing.T) {
	opts := testOptions()
	opts.PollTimeout = 200 * time.Millisecond
	th := newTestHandle(t, opts,
		capture.Device{Name: "eth0", Index: 2, RxQueues: 1},
		capture.Device{Name: "eth1", Index: 3, RxQueues: 1})
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 3}))

	b, err := th.AllocBatch()
	require.NoError(t, err)
	b.Blocking = true

	go func() {
		time.Sleep(20 * time.Millisecond)
		th.rings[1].reads <- pkt(9)
	}()

	start := time.Now()
	n, err := th.Recv(context.Background(), b)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{9}, b.Packet(0))
	// arrival delay plus at most one poll of the reader that got it
	assert.Less(t, elapsed, 20*time.Millisecond+opts.PollTimeout)
}

func TestRecvNonBlockingWouldBlock(t *testing.T) {
	opts := testOptions()
	th := newTestHandle(t, opts, capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))

	b, err := th.AllocBatch()
	require.NoError(t, err)

	start := time.Now()
	_, err = th.Recv(context.Background(), b)
	assert.ErrorIs(t, err, capture.ErrWouldBlock)
	assert.GreaterOrEqual(t, time.Since(start), opts.PollTimeout)
}

func TestRecvBlockingPollsAgain(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	th.scripts = [][]readResult{
		{{err: afpacket.ErrTimeout}, {err: afpacket.ErrTimeout}, pkt(7)},
	}
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))

	b, err := th.AllocBatch()
	require.NoError(t, err)
	b.Blocking = true

	n, err := th.Recv(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{7}, b.Packet(0))
}

func TestRecvCancelled(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))

	b, err := th.AllocBatch()
	require.NoError(t, err)
	b.Blocking = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = th.Recv(ctx, b)
	assert.ErrorIs(t, err, capture.ErrInterrupted)
}

func TestRecvCancelledWhileWaiting(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))

	b, err := th.AllocBatch()
	require.NoError(t, err)
	b.Blocking = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = th.Recv(ctx, b)
	assert.ErrorIs(t, err, capture.ErrInterrupted)
}

func TestRecvRetriesInterruptedPoll(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	th.scripts = [][]readResult{{{err: unix.EINTR}, pkt(7)}}
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))

	b, err := th.AllocBatch()
	require.NoError(t, err)
	b.Blocking = true

	n, err := th.Recv(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{7}, b.Packet(0))
}

func TestRecvFatalError(t *testing.T) {
	boom := errors.New("ring unmapped")
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	th.scripts = [][]readResult{{{err: boom}}}
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))

	b, err := th.AllocBatch()
	require.NoError(t, err)
	b.Blocking = true

	_, err = th.Recv(context.Background(), b)
	assert.ErrorIs(t, err, boom)
}

func TestRecvDeliversPacketsBeforeError(t *testing.T) {
	boom := errors.New("ring unmapped")
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	th.scripts = [][]readResult{{pkt(1), {err: boom}}}
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))
	th.waitQueued(t, 2)

	b, err := th.AllocBatch()
	require.NoError(t, err)

	n, err := th.Recv(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = th.Recv(context.Background(), b)
	assert.ErrorIs(t, err, boom)
}

func TestRecvTruncatesToSnapLen(t *testing.T) {
	opts := testOptions()
	opts.SnapLen = 4
	th := newTestHandle(t, opts, capture.Device{Name: "eth0", Index: 2, RxQueues: 1})
	th.scripts = [][]readResult{{pkt(1, 2, 3, 4, 5, 6)}}
	require.NoError(t, th.Attach(capture.Queue{IfIndex: 2}))

	b, err := th.AllocBatch()
	require.NoError(t, err)
	b.Blocking = true

	_, err = th.Recv(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Packet(0))
}

func TestStatsAndClose(t *testing.T) {
	th := newTestHandle(t, testOptions(), capture.Device{Name: "eth0", Index: 2, RxQueues: 3})
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Attach(capture.Queue{IfIndex: 2, Index: i}))
	}
	th.rings[0].packets, th.rings[0].drops = 10, 1
	th.rings[1].packets, th.rings[1].drops = 5, 2
	th.rings[2].statsErr = errors.New("EBADF")

	assert.Equal(t, capture.Stats{Packets: 15, Drops: 3, Queues: 3}, th.Stats())

	start := time.Now()
	require.NoError(t, th.Close())
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, th.Close())
	for _, r := range th.rings {
		assert.True(t, r.closed)
	}

	b := capture.NewBatch(1, 64)
	_, err := th.Recv(context.Background(), b)
	assert.ErrorIs(t, err, capture.ErrClosed)
	assert.ErrorIs(t, th.Attach(capture.Queue{IfIndex: 2, Index: 0}), capture.ErrClosed)
}
