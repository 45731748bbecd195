package client

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCallbackListenerRejectsMalformedPayload(t *testing.T) {
	cb, err := ListenCallback("127.0.0.1:0")
	require.NoError(t, err)
	defer cb.Close()

	go func() {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(cb.Port()))
		require.NoError(t, err)
		conn.Write([]byte("not a valid payload"))
		conn.Close()
	}()

	_, err = cb.Accept()
	require.Error(t, err)
}

func TestProgressListenerStreamsLinesUntilClose(t *testing.T) {
	pl, err := ListenProgress("127.0.0.1:0")
	require.NoError(t, err)
	defer pl.Close()

	go func() {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(pl.Port()))
		require.NoError(t, err)
		conn.Write([]byte("line one\nline two\n"))
		conn.Close()
	}()

	lines, err := pl.Accept()
	require.NoError(t, err)

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	require.Equal(t, []string{"line one", "line two"}, got)
}

func TestDiscoverReturnsPortFromResponder(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	expectedPort := 4242
	go func() {
		buf := make([]byte, 64)
		n, peer, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		require.Equal(t, "SimpleJsonRpc Ping", string(buf[:n]))
		reply := []byte{byte(expectedPort), byte(expectedPort >> 8), byte(expectedPort >> 16), byte(expectedPort >> 24)}
		pc.WriteTo(reply, peer)
	}()

	port, err := Discover(pc.LocalAddr().String(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, expectedPort, port)
}
