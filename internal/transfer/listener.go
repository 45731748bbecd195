// Package transfer implements the Transfer Listener, Tar Transfer, and Size
// Probe: the bulk-transfer subsystem that backs the Upload and Download
// RPCs.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// AcceptTimeout is the release-build timeout for a Transfer Listener
// waiting on its single peer. A var,
// not a const, so tests can shrink it rather than waiting out the full
// timeout.
var AcceptTimeout = 10 * time.Second

// ErrTimeout is returned when no peer connects within AcceptTimeout.
var ErrTimeout = errors.New("transfer: no peer connected within timeout")

// Listener is a one-shot TCP acceptor: it accepts exactly one connection
// and then closes itself, freeing the port whether or not a peer arrived.
type Listener struct {
	ln net.Listener
}

// Listen opens a listener on requestedPort (0 asks the OS for a free
// ephemeral port). When requestedPort is nonzero and reuseAddr is true, the
// socket is opened with SO_REUSEADDR. A port collision surfaces from Listen
// as an error wrapping ErrProtocol.
func Listen(requestedPort int, reuseAddr bool) (*Listener, error) {
	addr := fmt.Sprintf(":%d", requestedPort)

	lc := net.ListenConfig{}
	if requestedPort != 0 && reuseAddr {
		lc.Control = controlReuseAddr
	}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %q: %v", ErrProtocol, addr, err)
	}

	return &Listener{ln: ln}, nil
}

// Port returns the bound TCP port, known immediately after Listen returns.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Accept blocks for at most AcceptTimeout waiting for the single peer this
// Listener will ever serve. Whether it succeeds or times out, the listener
// is closed before Accept returns, releasing the port.
func (l *Listener) Accept() (net.Conn, error) {
	defer l.ln.Close()

	if tcpLn, ok := l.ln.(*net.TCPListener); ok {
		tcpLn.SetDeadline(time.Now().Add(AcceptTimeout))
	}

	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return conn, nil
}

// Close releases the listener without waiting for a peer. Safe to call
// after Accept has already closed it.
func (l *Listener) Close() error {
	return l.ln.Close()
}
