package proxy

import (
	"time"

	"sniproxy/internal/proxyerr"
)

// readResult is what a reader goroutine hands back to the relay loop: the
// chunk read, or the fact that it got EOF (data == nil, err == nil) or a
// socket error.
type readResult struct {
	data []byte
	err  error
}

// relay runs the bidirectional byte shuttle: each iteration flushes
// pending writes before processing the next read, waits on either side
// with a 1-second timeout, and applies the soft backpressure cap by
// withholding the read token from whichever side feeds a full buffer.
//
// Go has no portable, TLS-aware equivalent of select(2) across arbitrary
// net.Conn values, so readiness is modeled with one demand-driven reader
// goroutine per side: each only issues its next blocking Read after the
// relay loop hands it a token, which is exactly how the soft cap pauses a
// side without needing to cancel an in-flight read.
func (s *Session) relay() {
	clientCh := make(chan readResult, 1)
	serverCh := make(chan readResult, 1)
	clientTok := make(chan struct{}, 1)
	serverTok := make(chan struct{}, 1)

	go readerLoop(s.client, clientCh, clientTok)
	go readerLoop(s.server, serverCh, serverTok)

	clientTok <- struct{}{}
	serverTok <- struct{}{}
	defer close(clientTok)
	defer close(serverTok)

	var clientPaused, serverPaused bool

	ticker := time.NewTicker(readinessTick)
	defer ticker.Stop()

	for {
		s.flushPending()
		if s.state == Terminated {
			return
		}

		select {
		case r := <-clientCh:
			clientPaused = s.handleSideRead(s.client, s.server, r, clientTok, clientPaused)
		case r := <-serverCh:
			serverPaused = s.handleSideRead(s.server, s.client, r, serverTok, serverPaused)
		case <-ticker.C:
			// Re-check whether a previously paused side can resume now
			// that a flush above may have drained the buffer it was
			// feeding.
		}

		if clientPaused && !s.client.Closed() && !s.server.OverCap() {
			clientTok <- struct{}{}
			clientPaused = false
		}
		if serverPaused && !s.server.Closed() && !s.client.OverCap() {
			serverTok <- struct{}{}
			serverPaused = false
		}
	}
}

// readerLoop issues one blocking Read per token received on tok, reporting
// each result on out, until the connection is closed or a read fails or
// returns EOF.
func readerLoop(c *Connection, out chan<- readResult, tok <-chan struct{}) {
	for range tok {
		if c.Closed() {
			return
		}
		data, err := c.Read(readChunkSize)
		out <- readResult{data: data, err: err}
		if err != nil || data == nil {
			return
		}
	}
}

// handleSideRead processes one result read from "from", queues successful
// reads onto "to"'s outbound buffer, and decides whether "from" should stay
// paused (withheld from its next token) because "to" is over its
// backpressure cap. It reports the new paused state for that side.
func (s *Session) handleSideRead(from, to *Connection, r readResult, fromTok chan<- struct{}, wasPaused bool) bool {
	if r.err != nil {
		s.log.Info().Err(proxyerr.ClientRead(from.Peer(), r.err)).Msg("read failed")
		s.closeSide(from, to)
		return wasPaused
	}
	if r.data == nil {
		s.log.Debug().Str("peer", from.Peer()).Msg("peer closed")
		s.closeSide(from, to)
		return wasPaused
	}

	if err := to.Queue(r.data); err != nil {
		s.log.Warn().Err(err).Msg("failed to queue relayed bytes")
	}

	if to.OverCap() {
		return true
	}
	if !from.Closed() {
		fromTok <- struct{}{}
	}
	return false
}

// closeSide closes the side that just hit EOF/error. If the opposite side
// has nothing left queued for it, it is closed too and the session
// terminates; otherwise the session moves to Closing to drain the
// opposite's remaining output first.
func (s *Session) closeSide(closed, opposite *Connection) {
	closed.Close()
	if opposite.Pending() == 0 {
		opposite.Close()
		s.state = Terminated
		return
	}
	s.state = Closing
}

// flushPending writes out any queued bytes on either side that is still
// open, then, if the session is in Closing, finishes tearing down once the
// surviving side's buffer has fully drained.
func (s *Session) flushPending() {
	if !s.client.Closed() && s.client.Pending() > 0 {
		if _, err := s.client.Flush(); err != nil {
			s.log.Info().Err(proxyerr.ClientWrite(s.client.Peer(), err)).Msg("client flush failed")
			s.closeSide(s.client, s.server)
		}
	}
	if !s.server.Closed() && s.server.Pending() > 0 {
		if _, err := s.server.Flush(); err != nil {
			s.log.Info().Err(proxyerr.New(proxyerr.KindClientWrite, "write", s.server.Peer(), err)).Msg("backend flush failed")
			s.closeSide(s.server, s.client)
		}
	}

	if s.state != Closing {
		return
	}
	switch {
	case s.client.Closed() && !s.server.Closed():
		if s.server.Pending() == 0 {
			s.server.Close()
			s.state = Terminated
		}
	case s.server.Closed() && !s.client.Closed():
		if s.client.Pending() == 0 {
			s.client.Close()
			s.state = Terminated
		}
	default:
		s.state = Terminated
	}
}
