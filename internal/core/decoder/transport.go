// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/rxprobe/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20

	// Protocol numbers
	protocolTCP = 6
	protocolUDP = 17
)

// decodeTransport decodes transport layer header (TCP/UDP).
// Any other protocol yields core.ErrUnsupportedProto.
func decodeTransport(data []byte, protocol uint8) (core.TransportHeader, error) {
	switch protocol {
	case protocolTCP:
		return decodeTCP(data)
	case protocolUDP:
		return decodeUDP(data)
	default:
		return core.TransportHeader{Protocol: protocol}, core.ErrUnsupportedProto
	}
}

// decodeUDP decodes UDP header.
func decodeUDP(data []byte) (core.TransportHeader, error) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{Protocol: protocolUDP}, core.ErrPacketTooShort
	}

	return core.TransportHeader{
		Protocol: protocolUDP,
		HasPorts: true,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// decodeTCP decodes TCP header. Options are not parsed.
func decodeTCP(data []byte) (core.TransportHeader, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TransportHeader{Protocol: protocolTCP}, core.ErrPacketTooShort
	}

	return core.TransportHeader{
		Protocol: protocolTCP,
		HasPorts: true,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		SeqNum:   binary.BigEndian.Uint32(data[4:8]),
		AckNum:   binary.BigEndian.Uint32(data[8:12]),
		// Byte 13: | reserved (2 bits) | URG ACK PSH RST SYN FIN |
		TCPFlags: data[13] & 0x3F,
	}, nil
}
