// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/rxprobe/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
)

// decodeIPv4 decodes IPv4 header and verifies its checksum.
// The returned payload starts IHL*4 bytes into data.
func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	// IHL (Internet Header Length) - lower 4 bits of first byte, in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if len(data) < headerLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:   4,
		HeaderLen: headerLen,
		TTL:       data[8],
		Protocol:  data[9],
		SrcIP:     netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:     netip.AddrFrom4([4]byte(data[16:20])),
	}
	ip.Checksum = verifyIPv4Checksum(data[:headerLen])

	return ip, data[headerLen:], nil
}

// decodeIPv6 decodes the fixed IPv6 header.
// Extension headers are not walked: the transport header is taken to start
// PayloadLen bytes after the beginning of the IPv6 header. A nil payload is
// returned when that offset lies beyond the packet.
func decodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:   6,
		HeaderLen: ipv6HeaderLen,
		// Payload Length (2 bytes at offset 4)
		PayloadLen: binary.BigEndian.Uint16(data[4:6]),
		// Next Header (1 byte at offset 6)
		Protocol: data[6],
		SrcIP:    netip.AddrFrom16([16]byte(data[8:24])),
		DstIP:    netip.AddrFrom16([16]byte(data[24:40])),
	}

	offset := int(ip.PayloadLen)
	if offset > len(data) {
		return ip, nil, nil
	}
	return ip, data[offset:], nil
}
