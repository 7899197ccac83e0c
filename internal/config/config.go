// Package config resolves the proxy's CLI surface into a single immutable
// Config, including the derived BackendTable. It is constructed once in
// main and never mutated afterward: the BackendTable it produces is read
// concurrently by every session and must never change underneath them.
package config

import (
	"flag"
	"fmt"
	"net"

	"sniproxy/internal/proxy"
)

// Config holds the resolved CLI flags plus the BackendTable derived from
// them.
type Config struct {
	Host    string
	Port    int
	Backlog int

	OpenVPNPort int
	SSHPort     int
	V2RayPort   int

	CertPath string
	HTTP     bool
	HTTPS    bool

	LogLevel string

	Backends proxy.BackendTable
}

// Parse parses args (typically os.Args[1:]) into a Config. It does not
// call flag.Parse on the global flag.CommandLine, so it is safe to call
// from tests.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("sniproxy", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.Host, "host", "0.0.0.0", "listen address; also the default backend address")
	fs.IntVar(&cfg.Port, "port", 8080, "listen port")
	fs.IntVar(&cfg.Backlog, "backlog", 5, "listen() backlog")
	fs.IntVar(&cfg.OpenVPNPort, "openvpn-port", 1194, "backend port for OpenVPN")
	fs.IntVar(&cfg.SSHPort, "ssh-port", 22, "backend port for SSH")
	fs.IntVar(&cfg.V2RayPort, "v2ray-port", 1080, "backend port for V2Ray")
	fs.StringVar(&cfg.CertPath, "cert", "./cert.pem", "PEM file containing certificate and key (HTTPS mode only)")
	fs.BoolVar(&cfg.HTTP, "http", false, "enable the plaintext listener")
	fs.BoolVar(&cfg.HTTPS, "https", false, "enable the TLS listener (wins over --http if both are set)")
	fs.StringVar(&cfg.LogLevel, "log", "INFO", "log level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Backends = proxy.NewBackendTable(cfg.Host, cfg.SSHPort, cfg.OpenVPNPort, cfg.V2RayPort)
	return cfg, nil
}

// ListenAddr renders the configured listen host/port as "host:port".
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Mode reports which listener to run. HTTPS wins when both --http and
// --https are set, since running both a plaintext and a TLS listener on
// one port makes no sense.
func (c *Config) Mode() Mode {
	if c.HTTPS {
		return ModeHTTPS
	}
	if c.HTTP {
		return ModeHTTP
	}
	return ModeNone
}

// Mode is which listener (if any) the CLI flags selected.
type Mode int

const (
	ModeNone Mode = iota
	ModeHTTP
	ModeHTTPS
)
