package lib

// CalculateChecksum returns the internet checksum over the concatenation of
// parts. An odd trailing byte is treated as if padded with a zero byte.
func CalculateChecksum(parts ...[]byte) uint16 {
	return ^foldedSum(parts...)
}

// ChecksumIsValid re-sums a region that already carries its checksum.
func ChecksumIsValid(parts ...[]byte) bool {
	return ^foldedSum(parts...) == 0
}

// foldedSum adds the big-endian 16-bit words of parts as one byte stream, so a
// part of odd length pairs its last byte with the first byte of the next one.
func foldedSum(parts ...[]byte) uint16 {
	var (
		cksum   uint64
		pending byte
		odd     bool
	)

	for _, buffer := range parts {
		i := 0
		if odd && len(buffer) > 0 {
			cksum += uint64(pending)<<8 | uint64(buffer[0])
			odd = false
			i = 1
		}
		// Process 16-bit words (2 bytes each)
		for ; i+1 < len(buffer); i += 2 {
			cksum += uint64(buffer[i])<<8 | uint64(buffer[i+1])
		}
		if i < len(buffer) {
			pending = buffer[i]
			odd = true
		}
	}

	// Handle remaining odd byte, if any
	if odd {
		cksum += uint64(pending) << 8
	}

	// Fold until no carry is left
	for cksum>>16 != 0 {
		cksum = (cksum >> 16) + (cksum & 0xffff)
	}

	return uint16(cksum)
}
