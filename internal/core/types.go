// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16 // 0x0800=IPv4, 0x86DD=IPv6, anything else is reported raw
}

// IPHeader represents L3 IP header (IPv4/IPv6).
type IPHeader struct {
	Version  uint8
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // IPv4 protocol or IPv6 next header
	TTL      uint8 // IPv4 only
	// HeaderLen is IHL*4 for IPv4 and the fixed 40 bytes for IPv6.
	HeaderLen int
	// PayloadLen is the IPv6 payload length field; the transport header is
	// located that many bytes after the start of the IPv6 header.
	PayloadLen uint16
	Checksum   ChecksumStatus
}

// ChecksumStatus is the outcome of IPv4 header checksum verification.
type ChecksumStatus struct {
	Checked     bool
	Valid       bool
	Transmitted uint16 // checksum field as carried on the wire
	Computed    uint16 // checksum recomputed with the field treated as zero
}

// TransportHeader represents L4 transport layer header (TCP/UDP).
type TransportHeader struct {
	Protocol uint8
	HasPorts bool
	SrcPort  uint16
	DstPort  uint16
	// TCP-specific fields (only populated for TCP)
	TCPFlags uint8
	SeqNum   uint32
	AckNum   uint32
}

// TCP flag bits as carried in byte 13 of the TCP header.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)
