//go:build !unix

package proxy

import "net"

// listenTCP4 falls back to the standard library listener on platforms
// without raw socket control; the backlog hint is not honoured there.
func listenTCP4(addr string, backlog int) (net.Listener, error) {
	return net.Listen("tcp4", addr)
}
