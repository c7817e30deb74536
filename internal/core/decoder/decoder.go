// Package decoder implements L2-L4 header dissection for display.
package decoder

import (
	"errors"

	"firestige.xyz/rxprobe/internal/core"
)

// Decode dissects the Ethernet, IP and TCP/UDP headers of data. length is the
// packet length reported by the batch descriptor and is only carried through
// for display. Decode never fails: malformed or short input is reported through
// the Outcome of the returned Dissection.
func Decode(data []byte, length int) core.Dissection {
	d := core.Dissection{Length: length}

	eth, payload, err := decodeEthernet(data)
	if err != nil {
		d.Outcome = core.OutcomeTruncated
		return d
	}
	d.Ethernet = eth
	d.Decoded = core.LayerLink

	var transport []byte
	switch eth.EtherType {
	case etherTypeIPv4:
		d.IP, transport, err = decodeIPv4(payload)
	case etherTypeIPv6:
		d.IP, transport, err = decodeIPv6(payload)
	default:
		d.Outcome = core.OutcomeUnknownNetwork
		return d
	}
	if err != nil {
		d.Outcome = core.OutcomeTruncated
		return d
	}
	d.Decoded = core.LayerNetwork

	d.Transport, err = decodeTransport(transport, d.IP.Protocol)
	switch {
	case errors.Is(err, core.ErrUnsupportedProto):
		d.Outcome = core.OutcomeUnknownTransport
	case err != nil:
		d.Outcome = core.OutcomeTruncated
	default:
		d.Decoded = core.LayerTransport
		d.Outcome = core.OutcomeComplete
	}
	return d
}
