package proxy

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sniproxy/internal/classify"
	"sniproxy/internal/httphead"
	"sniproxy/internal/proxyerr"
)

// State is a session's position in its lifecycle: classify the first
// chunk, dial a backend (or prime a CONNECT tunnel), relay bytes, then
// wind down once either side closes.
type State int

const (
	AwaitFirstChunk State = iota
	Classified
	ConnectPrimed
	Relay
	Closing
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitFirstChunk:
		return "await_first_chunk"
	case Classified:
		return "classified"
	case ConnectPrimed:
		return "connect_primed"
	case Relay:
		return "relay"
	case Closing:
		return "closing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	// readChunkSize is the read buffer size for every Connection.Read call.
	readChunkSize = 4096
	// connectTimeout bounds dialing a backend, whether from the
	// BackendTable or a CONNECT target.
	connectTimeout = 5 * time.Second
	// readinessTick bounds how long the relay loop waits for either side
	// before re-checking pending flushes and backpressure state.
	readinessTick = 1 * time.Second
)

// connectResponse is the literal line this proxy emits on a primed CONNECT
// handshake. Note it is "101", not the canonical "200" — kept for
// compatibility with the clients this proxy actually talks to.
const connectResponse = "HTTP/1.1 101 Connection Established\r\n\r\n"

// Session is one client connection's worth of state: the client Connection,
// the server Connection once dialed, the decided ProtocolKind, and the
// derived running state. kind is set at most once and never reverts to
// Unknown.
type Session struct {
	client   *Connection
	server   *Connection
	kind     classify.Kind
	state    State
	backends BackendTable
	counter  *ConnectionCounter
	log      zerolog.Logger
	dial     func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewSession wraps an accepted client socket. backends and counter are
// shared, read-only (backends) or concurrency-safe (counter) across all
// sessions.
func NewSession(client net.Conn, backends BackendTable, counter *ConnectionCounter, log zerolog.Logger) *Session {
	return &Session{
		client:   NewConnection(client),
		backends: backends,
		counter:  counter,
		state:    AwaitFirstChunk,
		log:      log.With().Str("peer", client.RemoteAddr().String()).Logger(),
		dial:     net.DialTimeout,
	}
}

// Run drives the session to completion: classify, dial, relay, cleanup.
// The live counter is incremented on entry and decremented exactly once on
// exit, including on every error path.
func (s *Session) Run() {
	s.counter.Increment()
	defer s.counter.Decrement()
	defer s.terminate()

	chunk, err := s.client.Read(readChunkSize)
	if err != nil {
		s.log.Info().Err(proxyerr.ClientRead(s.client.Peer(), err)).Msg("client read failed before classification")
		return
	}
	if chunk == nil {
		s.log.Debug().Msg("client closed before sending any bytes")
		return
	}

	s.kind = classify.Classify(chunk)
	s.log.Debug().Str("kind", s.kind.String()).Int("bytes", len(chunk)).Msg("classified first chunk")

	if s.kind != classify.Unknown {
		s.state = Classified
		if !s.dialFromTable(chunk) {
			return
		}
	} else if !s.tryConnectPriming(chunk) {
		s.log.Info().Msg("unrecognised payload and no CONNECT priming; closing")
		return
	}

	s.state = Relay
	s.relay()
}

// dialFromTable looks up kind's backend, dials it, and forwards chunk
// verbatim as the first relayed bytes. Returns false if the session should
// end.
func (s *Session) dialFromTable(chunk []byte) bool {
	backend, ok := s.backends.Lookup(s.kind)
	if !ok {
		s.log.Warn().Str("kind", s.kind.String()).Msg("no backend configured for kind")
		return false
	}
	conn, err := s.dial("tcp", backend.Addr(), connectTimeout)
	if err != nil {
		s.log.Info().Err(proxyerr.BackendConnect(backend.Addr(), err)).Msg("backend connect failed")
		return false
	}
	s.server = NewConnection(conn)
	if err := s.server.Queue(chunk); err != nil {
		s.log.Warn().Err(err).Msg("failed to queue first chunk to backend")
	}
	return true
}

// tryConnectPriming attempts to parse chunk as an HTTP CONNECT request. On
// success it dials the exact target named in the request (bypassing
// BackendTable), queues the 101 line onto the client, and reports true.
func (s *Session) tryConnectPriming(chunk []byte) bool {
	head, err := httphead.Parse(chunk)
	if err != nil || !head.IsConnect() {
		return false
	}

	host, port, err := splitAuthority(head.Target)
	if err != nil {
		s.log.Info().Err(err).Str("target", head.Target).Msg("malformed CONNECT target")
		return false
	}
	addr := net.JoinHostPort(host, port)

	conn, err := s.dial("tcp", addr, connectTimeout)
	if err != nil {
		s.log.Info().Err(proxyerr.BackendConnect(addr, err)).Msg("CONNECT target dial failed")
		return false
	}
	s.server = NewConnection(conn)
	if err := s.client.Queue([]byte(connectResponse)); err != nil {
		s.log.Warn().Err(err).Msg("failed to queue 101 response")
	}
	s.state = ConnectPrimed
	s.log.Debug().Str("target", addr).Msg("CONNECT primed")
	return true
}

// splitAuthority parses a CONNECT target of the form "host:port".
func splitAuthority(target string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(target)
	if err != nil {
		return "", "", err
	}
	if _, convErr := strconv.Atoi(port); convErr != nil {
		return "", "", convErr
	}
	if strings.TrimSpace(host) == "" {
		return "", "", proxyerr.New(proxyerr.KindMalformedHead, "connect-target", target, err)
	}
	return host, port, nil
}

// terminate closes both legs (idempotent) and logs the final state. Called
// exactly once via defer from Run.
func (s *Session) terminate() {
	s.client.Close()
	if s.server != nil {
		s.server.Close()
	}
	s.state = Terminated
	s.log.Debug().Msg("session terminated")
}
