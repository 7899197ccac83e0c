// Command sniproxy is a dual-mode payload-sniffing TCP proxy: it accepts
// client connections on one port, classifies the first bytes as SSH,
// OpenVPN, V2Ray, or an HTTP CONNECT priming handshake, dials the matching
// backend, and relays bytes until either side closes.
package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"sniproxy/internal/certgen"
	"sniproxy/internal/config"
	"sniproxy/internal/proxy"
	"sniproxy/internal/proxyerr"
	"sniproxy/internal/rlimit"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "gencert" {
		os.Exit(runGencert(os.Args[2:]))
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log := newLogger(cfg.LogLevel)

	if limit, err := rlimit.RaiseNoFile(rlimit.DefaultNoFile); err != nil {
		log.Warn().Err(err).Msg("could not raise open-file limit")
	} else {
		log.Debug().Uint64("nofile", limit).Msg("raised open-file limit")
	}

	mode := cfg.Mode()
	if mode == config.ModeNone {
		fmt.Fprintln(os.Stderr, "one of --http or --https is required")
		return 2
	}

	ln := &proxy.Listener{
		Addr:     cfg.ListenAddr(),
		Backlog:  cfg.Backlog,
		Backends: cfg.Backends,
		Counter:  &proxy.ConnectionCounter{},
		Log:      log,
	}

	if mode == config.ModeHTTPS {
		tlsConfig, err := loadTLSConfig(cfg.CertPath)
		if err != nil {
			log.Error().Err(err).Msg("failed to load TLS certificate")
			return 1
		}
		ln.TLSConfig = tlsConfig
	}

	if err := ln.Listen(); err != nil {
		log.Error().Err(err).Msg("failed to bind listener")
		return 1
	}

	log.Info().Str("addr", cfg.ListenAddr()).Bool("tls", mode == config.ModeHTTPS).Msg("listening")

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info().Msg("shutting down")
		ln.Close()
		<-serveErr
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("accept loop exited")
			return 1
		}
	}
	return 0
}

// loadTLSConfig reads the combined cert+key PEM named by path and returns
// a server-side TLS 1.2+ config. A missing file is reported as
// proxyerr.CertNotFound rather than left to tls.LoadX509KeyPair's generic
// open error, so startup failures are categorized consistently.
func loadTLSConfig(path string) (*tls.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, proxyerr.CertNotFound(path, err)
	}
	cert, err := tls.LoadX509KeyPair(path, path)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func runGencert(args []string) int {
	path := "./cert.pem"
	if len(args) > 0 {
		path = args[0]
	}
	if err := certgen.Generate(path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("wrote self-signed certificate and key to %s\n", path)
	return 0
}
