//go:build unix

package proxy

import (
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenTCP4 binds an IPv4 socket with SO_REUSEADDR and the caller's exact
// listen(2) backlog, neither of which net.Listen exposes control over.
func listenTCP4(addr string, backlog int) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host != "" && host != "0.0.0.0" {
		ip := net.ParseIP(host).To4()
		if ip == nil {
			unix.Close(fd)
			return nil, &net.AddrError{Err: "not an IPv4 address", Addr: host}
		}
		copy(sa.Addr[:], ip)
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "sniproxy-listener")
	ln, err := net.FileListener(f)
	// net.FileListener dups fd internally; the original can be closed
	// once the net.Listener has its own copy.
	f.Close()
	if err != nil {
		return nil, err
	}
	return ln, nil
}
