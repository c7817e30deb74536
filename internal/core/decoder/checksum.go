package decoder

import (
	"encoding/binary"

	"firestige.xyz/rxprobe/internal/core"
)

// ipv4ChecksumOffset is the offset of the checksum field in the IPv4 header.
const ipv4ChecksumOffset = 10

// onesComplement folds hdr into a 16-bit one's-complement sum and returns its
// complement. The 16-bit word starting at skip is treated as zero; pass -1 to
// include every word.
func onesComplement(hdr []byte, skip int) uint16 {
	var sum uint32
	n := len(hdr) &^ 1
	for i := 0; i < n; i += 2 {
		if i == skip {
			continue
		}
		sum += uint32(binary.BigEndian.Uint16(hdr[i : i+2]))
	}
	if len(hdr)%2 == 1 {
		sum += uint32(hdr[len(hdr)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xFFFF + sum>>16
	}
	return ^uint16(sum)
}

// IPv4Checksum returns the checksum hdr should carry, computed with the
// checksum field treated as zero. hdr is never modified.
func IPv4Checksum(hdr []byte) uint16 {
	return onesComplement(hdr, ipv4ChecksumOffset)
}

// verifyIPv4Checksum checks hdr as transmitted. A header is valid when the
// checksum over all of it, field included, folds to zero.
func verifyIPv4Checksum(hdr []byte) core.ChecksumStatus {
	st := core.ChecksumStatus{Checked: true}
	if len(hdr) >= ipv4ChecksumOffset+2 {
		st.Transmitted = binary.BigEndian.Uint16(hdr[ipv4ChecksumOffset : ipv4ChecksumOffset+2])
	}
	st.Valid = onesComplement(hdr, -1) == 0
	st.Computed = IPv4Checksum(hdr)
	return st
}
