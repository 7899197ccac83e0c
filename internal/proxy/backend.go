package proxy

import (
	"fmt"
	"net"

	"sniproxy/internal/classify"
)

// Backend is a dial target: a host/port pair for one protocol kind.
type Backend struct {
	Host string
	Port int
}

// Addr renders the backend as a dialable "host:port" string.
func (b Backend) Addr() string {
	return net.JoinHostPort(b.Host, fmt.Sprintf("%d", b.Port))
}

// BackendTable maps each non-Unknown ProtocolKind to its backend. It is
// populated once at startup from CLI flags and never mutated afterwards;
// sessions only ever read it concurrently.
type BackendTable map[classify.Kind]Backend

// NewBackendTable builds the table from one shared host and one port per
// protocol kind.
func NewBackendTable(host string, sshPort, openvpnPort, v2rayPort int) BackendTable {
	return BackendTable{
		classify.SSH:     {Host: host, Port: sshPort},
		classify.OpenVPN: {Host: host, Port: openvpnPort},
		classify.V2Ray:   {Host: host, Port: v2rayPort},
	}
}

// Lookup returns the backend for kind and whether one is configured. kind
// must not be classify.Unknown.
func (t BackendTable) Lookup(kind classify.Kind) (Backend, bool) {
	b, ok := t[kind]
	return b, ok
}
