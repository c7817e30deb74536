package capture

// DefaultBatchCapacity is the number of packet descriptors in a batch.
const DefaultBatchCapacity = 128

// PacketInfo locates one packet inside Batch.Buf.
type PacketInfo struct {
	Offset  int
	Len     int
	IfIndex int
}

// Batch is a receive buffer shared between a handle and its caller. Cnt is
// the requested maximum on input and the delivered count after Recv. Packet
// views are only valid until the next Recv on the same batch.
type Batch struct {
	Buf      []byte
	Info     []PacketInfo
	Cnt      int
	Blocking bool

	n    int
	fill int
}

// NewBatch allocates a batch of capacity descriptors over a bufSize byte region.
func NewBatch(capacity, bufSize int) *Batch {
	return &Batch{
		Buf:  make([]byte, bufSize),
		Info: make([]PacketInfo, capacity),
		Cnt:  capacity,
	}
}

// Capacity is the number of descriptors.
func (b *Batch) Capacity() int {
	return len(b.Info)
}

// Reset drops the packets of the previous receive.
func (b *Batch) Reset() {
	b.n = 0
	b.fill = 0
}

// Len is the number of packets currently held.
func (b *Batch) Len() int {
	return b.n
}

// Full reports whether no further packet can be appended.
func (b *Batch) Full() bool {
	limit := b.Cnt
	if limit > len(b.Info) {
		limit = len(b.Info)
	}
	return b.n >= limit || b.fill >= len(b.Buf)
}

// Append copies data into the region and records its descriptor. Data that
// does not fit the remaining region is truncated. It returns false when the
// batch is full.
func (b *Batch) Append(data []byte, ifindex int) bool {
	if b.Full() {
		return false
	}
	n := copy(b.Buf[b.fill:], data)
	b.Info[b.n] = PacketInfo{Offset: b.fill, Len: n, IfIndex: ifindex}
	b.fill += n
	b.n++
	return true
}

// Packet returns the bytes of packet i, or nil when i or its descriptor is
// out of range.
func (b *Batch) Packet(i int) []byte {
	if i < 0 || i >= b.n || i >= len(b.Info) {
		return nil
	}
	info := b.Info[i]
	if info.Offset < 0 || info.Len < 0 || info.Offset+info.Len > len(b.Buf) {
		return nil
	}
	return b.Buf[info.Offset : info.Offset+info.Len : info.Offset+info.Len]
}
