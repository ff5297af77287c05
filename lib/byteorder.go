package lib

import (
	"encoding/binary"
	"math/bits"
)

// hostIsBigEndian is decided once from the native byte layout.
var hostIsBigEndian = binary.NativeEndian.Uint16([]byte{0x12, 0x34}) == 0x1234

// HostToNetwork16 converts a host-order value to network (big-endian) order.
func HostToNetwork16(v uint16) uint16 {
	if hostIsBigEndian {
		return v
	}
	return bits.ReverseBytes16(v)
}

func HostToNetwork32(v uint32) uint32 {
	if hostIsBigEndian {
		return v
	}
	return bits.ReverseBytes32(v)
}

// NetworkToHost16 is the inverse of HostToNetwork16; byte swapping is its own inverse.
func NetworkToHost16(v uint16) uint16 {
	return HostToNetwork16(v)
}

func NetworkToHost32(v uint32) uint32 {
	return HostToNetwork32(v)
}
