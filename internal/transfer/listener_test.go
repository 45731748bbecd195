package transfer

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenAssignsEphemeralPortWhenZero(t *testing.T) {
	ln, err := Listen(0, false)
	require.NoError(t, err)
	defer ln.Close()

	require.Greater(t, ln.Port(), 0)
}

func TestAcceptReturnsTheSinglePeer(t *testing.T) {
	ln, err := Listen(0, false)
	require.NoError(t, err)

	done := make(chan net.Conn, 1)
	go func() {
		conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Port())))
		require.NoError(t, err)
		done <- conn
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()

	client := <-done
	defer client.Close()
}

func TestAcceptTimesOutWithNoPeer(t *testing.T) {
	orig := AcceptTimeout
	AcceptTimeout = 200 * time.Millisecond
	defer func() { AcceptTimeout = orig }()

	ln, err := Listen(0, false)
	require.NoError(t, err)

	_, err = ln.Accept()
	require.ErrorIs(t, err, ErrTimeout)
}
