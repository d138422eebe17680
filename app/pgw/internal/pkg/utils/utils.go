package utils

import "net/netip"

func SwapUint32(u uint32) uint32 {
	return (u << 24) | ((u << 8) & 0x00FF0000) | ((u >> 8) & 0x0000FF00) | (u >> 24)
}

func Bool2byte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// KeyOfUEIP is the ipv4 address as the datapath reads it off the wire,
// false for anything that is not ipv4.
func KeyOfUEIP(ip netip.Addr) (uint32, bool) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return 0, false
	}
	b := ip.As4()
	return uint32(b[3])<<24 | uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0]), true
}
