package internal

import "net"

// LocalIP makes a best-effort guess at the machine's LAN address by opening
// a UDP socket toward a public address (nothing is actually sent) and
// reading the local side. Falls back to loopback when the host is offline.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
