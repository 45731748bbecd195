package client

import (
	"context"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labrig/agent/internal/job"
	"github.com/labrig/agent/internal/plugin"
	"github.com/labrig/agent/internal/rpcserver"
)

func startAgent(t *testing.T) string {
	t.Helper()
	registry := job.NewRegistry()
	plugins := plugin.NewRegistry(zap.NewNop())
	srv := rpcserver.New(registry, plugins, zap.NewNop())

	port, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return "127.0.0.1:" + strconv.Itoa(port)
}

func echoArgs() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", "echo hi-from-client"}
	}
	return "sh", []string{"-c", "echo hi-from-client"}
}

func TestStartJobPollAndGetResult(t *testing.T) {
	addr := startAgent(t)
	c := New(addr)

	command, args := echoArgs()
	id, err := c.StartJob(command, args)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	require.Eventually(t, func() bool {
		done, err := c.IsJobComplete(id)
		return err == nil && done
	}, 5*time.Second, 20*time.Millisecond)

	result, err := c.GetJobResult(id)
	require.NoError(t, err)
	require.Contains(t, result, "hi-from-client")
}

func TestGetVersionAndHeartbeat(t *testing.T) {
	rpcserver.Version = "client-test-version"
	addr := startAgent(t)
	c := New(addr)

	version, err := c.GetVersion()
	require.NoError(t, err)
	require.Equal(t, "client-test-version", version)

	ok, err := c.GetHeartbeat()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunWithResultBlocksUntilCompletion(t *testing.T) {
	addr := startAgent(t)
	c := New(addr)

	command, args := echoArgs()
	result, err := c.RunWithResult(command, args)
	require.NoError(t, err)
	require.Contains(t, result, "hi-from-client")
}

func TestCallbackListenerReceivesCompletionNotification(t *testing.T) {
	addr := startAgent(t)
	c := New(addr)

	cb, err := ListenCallback("127.0.0.1:0")
	require.NoError(t, err)
	defer cb.Close()

	command, args := echoArgs()
	id, err := c.StartJobWithNotification("127.0.0.1", cb.Port(), command, args)
	require.NoError(t, err)

	gotID, err := cb.Accept()
	require.NoError(t, err)
	require.Equal(t, id, gotID)
}
