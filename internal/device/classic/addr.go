package classic

import (
	"fmt"
	"net"
)

// parseBDAddr converts "AA:BB:CC:DD:EE:FF" to the little-endian byte order of sockaddr_rc.
func parseBDAddr(s string) ([6]uint8, error) {
	var out [6]uint8
	mac, err := net.ParseMAC(s)
	if err != nil || len(mac) != 6 {
		return out, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i := 0; i < 6; i++ {
		out[i] = mac[5-i]
	}
	return out, nil
}

func isBDAddr(s string) bool {
	_, err := parseBDAddr(s)
	return err == nil && len(s) == 17
}
