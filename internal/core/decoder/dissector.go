package decoder

import (
	"io"

	"firestige.xyz/rxprobe/internal/core"
	"firestige.xyz/rxprobe/internal/metrics"
)

// Dissector prints one dissection line per packet to its output stream.
type Dissector struct {
	out io.Writer
	buf []byte
}

// NewDissector creates a Dissector writing to out.
func NewDissector(out io.Writer) *Dissector {
	return &Dissector{
		out: out,
		buf: make([]byte, 0, 256),
	}
}

// Name returns the consumer name.
func (d *Dissector) Name() string {
	return "dissect"
}

// Consume dissects pkt and writes the rendered line. It never fails; write
// errors stay sticky on the buffered output and surface when it is flushed.
func (d *Dissector) Consume(pkt []byte, length int) {
	res := Decode(pkt, length)
	if cs := res.IP.Checksum; cs.Checked && !cs.Valid {
		metrics.ChecksumErrorsTotal.Inc()
	}
	if res.Outcome == core.OutcomeTruncated {
		metrics.TruncatedPacketsTotal.Inc()
	}

	d.buf = AppendFormat(d.buf[:0], res)
	_, _ = d.out.Write(d.buf)
}
