// Package core defines core data structures with zero external dependencies.
package core

// Outcome tags how far dissection of a packet got.
type Outcome uint8

const (
	// OutcomeComplete means L2, L3 and a TCP or UDP header were decoded.
	OutcomeComplete Outcome = iota
	// OutcomeUnknownNetwork means the EtherType is neither IPv4 nor IPv6.
	OutcomeUnknownNetwork
	// OutcomeUnknownTransport means the IP payload is neither TCP nor UDP.
	OutcomeUnknownTransport
	// OutcomeTruncated means a header claimed more bytes than the packet holds.
	OutcomeTruncated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeUnknownNetwork:
		return "unknown-network"
	case OutcomeUnknownTransport:
		return "unknown-transport"
	case OutcomeTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Layer records the deepest header that was fully decoded.
type Layer uint8

const (
	LayerNone Layer = iota
	LayerLink
	LayerNetwork
	LayerTransport
)

// Dissection is the transient per-packet result of L2-L4 header decoding.
// It is rendered once and then dropped.
type Dissection struct {
	Outcome   Outcome
	Decoded   Layer
	Ethernet  EthernetHeader
	IP        IPHeader
	Transport TransportHeader
	// Length is the packet length reported by the batch descriptor.
	Length int
}
