package lib

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// DescribeFrame decodes an IPv4 datagram into a layer by layer dump for debug logs.
func DescribeFrame(frame []byte) string {
	packet := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.Default)
	return packet.String()
}
