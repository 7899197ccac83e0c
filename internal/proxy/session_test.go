package proxy

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sniproxy/internal/classify"
)

// testBackends returns a BackendTable with placeholder addresses; every
// test that reaches a dial overrides Session.dial, so these addresses are
// never actually dialed.
func testBackends() BackendTable {
	return NewBackendTable("127.0.0.1", 22, 1194, 1080)
}

func newTestSession(clientSide net.Conn) (*Session, *ConnectionCounter) {
	counter := &ConnectionCounter{}
	s := NewSession(clientSide, testBackends(), counter, zerolog.Nop())
	return s, counter
}

// pipeDialer returns a dial func that ignores network/addr/timeout and
// hands back one end of a fresh net.Pipe, keeping the other end for the
// test to act as the backend.
func pipeDialer() (dial func(network, addr string, timeout time.Duration) (net.Conn, error), backendEnd net.Conn) {
	serverSide, backendSide := net.Pipe()
	return func(string, string, time.Duration) (net.Conn, error) {
		return serverSide, nil
	}, backendSide
}

func TestSessionSSHPassthrough(t *testing.T) {
	clientSide, clientPeer := net.Pipe()
	defer clientPeer.Close()

	s, counter := newTestSession(clientSide)
	dial, backendPeer := pipeDialer()
	s.dial = dial
	defer backendPeer.Close()

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	banner := "SSH-2.0-OpenSSH_9.6\r\n"
	if _, err := clientPeer.Write([]byte(banner)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	buf := make([]byte, len(banner))
	backendPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(backendPeer, buf); err != nil {
		t.Fatalf("backend did not receive classified chunk: %v", err)
	}
	if string(buf) != banner {
		t.Errorf("backend received %q, want %q", buf, banner)
	}
	if counter.Count() != 1 {
		t.Errorf("counter during relay = %d, want 1", counter.Count())
	}

	clientPeer.Close()
	backendPeer.Close()
	waitDone(t, done)
}

func TestSessionOpenVPNPassthrough(t *testing.T) {
	clientSide, clientPeer := net.Pipe()
	defer clientPeer.Close()

	s, _ := newTestSession(clientSide)
	dial, backendPeer := pipeDialer()
	s.dial = dial
	defer backendPeer.Close()

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	packet := []byte{0x00, 0x68, 0x01, 0x02}
	clientPeer.Write(packet)

	buf := make([]byte, len(packet))
	backendPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(backendPeer, buf); err != nil {
		t.Fatalf("backend did not receive classified chunk: %v", err)
	}
	if s.kind != classify.OpenVPN {
		t.Errorf("session classified kind = %v, want OpenVPN", s.kind)
	}

	clientPeer.Close()
	backendPeer.Close()
	waitDone(t, done)
}

func TestSessionConnectPrimingThenRelay(t *testing.T) {
	clientSide, clientPeer := net.Pipe()
	defer clientPeer.Close()

	s, _ := newTestSession(clientSide)
	var dialedAddr string
	serverSide, backendPeer := net.Pipe()
	defer backendPeer.Close()
	s.dial = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		dialedAddr = addr
		return serverSide, nil
	}

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	req := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	clientPeer.Write([]byte(req))

	reader := bufio.NewReader(clientPeer)
	clientPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading CONNECT response failed: %v", err)
	}
	if line != "HTTP/1.1 101 Connection Established\r\n" {
		t.Errorf("response line = %q, want the 101 line", line)
	}

	if dialedAddr != "example.com:443" {
		t.Errorf("dialed addr = %q, want example.com:443", dialedAddr)
	}

	// Bytes after priming relay verbatim in both directions.
	payload := []byte("post-connect payload")
	clientPeer.Write(payload)
	buf := make([]byte, len(payload))
	backendPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(backendPeer, buf); err != nil {
		t.Fatalf("backend did not receive post-CONNECT bytes: %v", err)
	}
	if string(buf) != string(payload) {
		t.Errorf("backend received %q, want %q", buf, payload)
	}

	clientPeer.Close()
	backendPeer.Close()
	waitDone(t, done)
}

func TestSessionUnknownPayloadCloses(t *testing.T) {
	clientSide, clientPeer := net.Pipe()
	defer clientPeer.Close()

	s, _ := newTestSession(clientSide)
	dialed := false
	s.dial = func(string, string, time.Duration) (net.Conn, error) {
		dialed = true
		return nil, nil
	}

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	clientPeer.Write([]byte("garbage that matches nothing\r\n\r\n"))

	waitDone(t, done)
	if dialed {
		t.Error("dial was called for an unrecognised, non-CONNECT payload")
	}
	if s.state != Terminated {
		t.Errorf("state = %v, want Terminated", s.state)
	}
}

func TestSessionBackendDialFailureClosesClient(t *testing.T) {
	clientSide, clientPeer := net.Pipe()
	defer clientPeer.Close()

	s, _ := newTestSession(clientSide)
	s.dial = func(string, string, time.Duration) (net.Conn, error) {
		return nil, errDialRefused
	}

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	clientPeer.Write([]byte("SSH-2.0-test\r\n"))

	waitDone(t, done)
	if s.state != Terminated {
		t.Errorf("state = %v, want Terminated", s.state)
	}
}

func TestSessionClientClosesBeforeAnyBytes(t *testing.T) {
	clientSide, clientPeer := net.Pipe()

	s, counter := newTestSession(clientSide)

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	clientPeer.Close()
	waitDone(t, done)
	if counter.Count() != 0 {
		t.Errorf("counter after Run = %d, want 0", counter.Count())
	}
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errDialRefused = staticErr("connection refused")

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session.Run did not return in time")
	}
}
