package proxy

import (
	"crypto/tls"
	"errors"
	"net"

	"github.com/rs/zerolog"

	"sniproxy/internal/proxyerr"
)

// Listener accepts inbound connections — plain TCP or TLS-wrapped — and
// spawns one Session per accept. It owns the listening socket; each
// spawned Session exclusively owns its own client and server Connections.
type Listener struct {
	Addr     string
	Backlog  int
	Backends BackendTable
	Counter  *ConnectionCounter
	Log      zerolog.Logger

	// TLSConfig, when non-nil, wraps every accepted socket in a
	// server-side TLS handshake before handing it to a Session. The
	// handshake runs off the accept goroutine so a slow client can't
	// stall other accepts.
	TLSConfig *tls.Config

	ln net.Listener
}

// Listen binds the listening socket with SO_REUSEADDR and the configured
// listen(2) backlog (default 5).
func (l *Listener) Listen() error {
	backlog := l.Backlog
	if backlog <= 0 {
		backlog = 5
	}
	ln, err := listenTCP4(l.Addr, backlog)
	if err != nil {
		return proxyerr.BindFailure(l.Addr, err)
	}
	l.ln = ln
	return nil
}

// Serve accepts connections until Close is called or Accept fails for a
// reason other than the listener having been closed. Each accepted
// connection is handed to a new Session running in its own goroutine.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return err
		}
		go l.handle(conn)
	}
}

// Close stops Serve's accept loop. In-flight sessions are left running;
// they end on their own once their sockets close, rather than being
// forcibly torn down.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func (l *Listener) handle(conn net.Conn) {
	if l.TLSConfig != nil {
		tlsConn := tls.Server(conn, l.TLSConfig)
		if err := tlsConn.Handshake(); err != nil {
			l.Log.Info().Err(proxyerr.TLSHandshake(conn.RemoteAddr().String(), err)).Msg("TLS handshake failed")
			conn.Close()
			return
		}
		conn = tlsConn
	}
	NewSession(conn, l.Backends, l.Counter, l.Log).Run()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
