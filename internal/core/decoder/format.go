package decoder

import (
	"fmt"
	"strconv"

	"firestige.xyz/rxprobe/internal/core"
)

// Format renders d as a single line terminated by "len=N\n".
func Format(d core.Dissection) string {
	return string(AppendFormat(nil, d))
}

// AppendFormat appends the one-line rendering of d to dst.
//
// Layout, IPv4 TCP for example:
//
//	SRCMAC -> DSTMAC  10.0.0.1(80) -> 10.0.0.2(4242) TTL=64 TCP S A seq 1 ack 2 len=74
func AppendFormat(dst []byte, d core.Dissection) []byte {
	if d.Decoded < core.LayerLink {
		return appendLength(append(dst, "truncated "...), d.Length)
	}

	s, t := d.Ethernet.SrcMAC, d.Ethernet.DstMAC
	dst = fmt.Appendf(dst, "%02X:%02X:%02X:%02X:%02X:%02X -> %02X:%02X:%02X:%02X:%02X:%02X ",
		s[0], s[1], s[2], s[3], s[4], s[5],
		t[0], t[1], t[2], t[3], t[4], t[5])

	if d.Outcome == core.OutcomeUnknownNetwork {
		dst = fmt.Appendf(dst, "protocol %04x  ", d.Ethernet.EtherType)
		return appendLength(dst, d.Length)
	}
	if d.Decoded < core.LayerNetwork {
		return appendLength(append(dst, "truncated "...), d.Length)
	}

	// Ports belong to the address columns whenever a TCP/UDP header was read.
	ports := d.Transport.HasPorts
	dst = append(dst, ' ')
	dst = d.IP.SrcIP.AppendTo(dst)
	if ports {
		dst = appendPort(dst, d.Transport.SrcPort)
	}
	dst = append(dst, " -> "...)
	dst = d.IP.DstIP.AppendTo(dst)
	if ports {
		dst = appendPort(dst, d.Transport.DstPort)
	}

	if d.IP.Version == 4 {
		dst = fmt.Appendf(dst, " TTL=%d ", d.IP.TTL)
		if cs := d.IP.Checksum; cs.Checked && !cs.Valid {
			dst = fmt.Appendf(dst, "(bad checksum %04x should be %04x) ", cs.Transmitted, cs.Computed)
		}
	} else {
		dst = append(dst, ' ')
	}

	switch d.Outcome {
	case core.OutcomeUnknownTransport:
		dst = fmt.Appendf(dst, "protocol %d ", d.IP.Protocol)
		return appendLength(dst, d.Length)
	case core.OutcomeTruncated:
		return appendLength(append(dst, "truncated "...), d.Length)
	}

	switch d.Transport.Protocol {
	case protocolTCP:
		dst = appendTCP(dst, d.Transport)
	case protocolUDP:
		dst = append(dst, "UDP "...)
	}
	return appendLength(dst, d.Length)
}

// appendTCP renders flags in the fixed order S F A R, then seq and, when the
// ACK flag is set, ack.
func appendTCP(dst []byte, th core.TransportHeader) []byte {
	dst = append(dst, "TCP "...)
	if th.TCPFlags&core.TCPFlagSYN != 0 {
		dst = append(dst, "S "...)
	}
	if th.TCPFlags&core.TCPFlagFIN != 0 {
		dst = append(dst, "F "...)
	}
	if th.TCPFlags&core.TCPFlagACK != 0 {
		dst = append(dst, "A "...)
	}
	if th.TCPFlags&core.TCPFlagRST != 0 {
		dst = append(dst, "R "...)
	}
	dst = append(dst, "seq "...)
	dst = strconv.AppendUint(dst, uint64(th.SeqNum), 10)
	dst = append(dst, ' ')
	if th.TCPFlags&core.TCPFlagACK != 0 {
		dst = append(dst, "ack "...)
		dst = strconv.AppendUint(dst, uint64(th.AckNum), 10)
		dst = append(dst, ' ')
	}
	return dst
}

func appendPort(dst []byte, port uint16) []byte {
	dst = append(dst, '(')
	dst = strconv.AppendUint(dst, uint64(port), 10)
	return append(dst, ')')
}

func appendLength(dst []byte, n int) []byte {
	dst = append(dst, "len="...)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, '\n')
}
