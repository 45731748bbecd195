package spawner

import (
	"bufio"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func shellCommand(t *testing.T) (string, []string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", "echo hello && echo world 1>&2"}
	}
	return "sh", []string{"-c", "echo hello; echo world 1>&2"}
}

func TestStartCapturesStdoutAndStderr(t *testing.T) {
	command, args := shellCommand(t)

	p, err := Start(command, args)
	require.NoError(t, err)
	require.Greater(t, p.PID(), 0)

	var stdoutLines, stderrLines []string
	stdoutScanner := bufio.NewScanner(p.Stdout)
	for stdoutScanner.Scan() {
		stdoutLines = append(stdoutLines, stdoutScanner.Text())
	}
	stderrScanner := bufio.NewScanner(p.Stderr)
	for stderrScanner.Scan() {
		stderrLines = append(stderrLines, stderrScanner.Text())
	}

	result := <-p.Done()
	require.NoError(t, result.Err)
	require.False(t, result.Signaled)
	require.Equal(t, 0, result.ExitCode)

	require.Contains(t, stdoutLines, "hello")
	require.Contains(t, stderrLines, "world")
}

func TestStartNonexistentProgramFails(t *testing.T) {
	_, err := Start("labrig-definitely-not-a-real-program", nil)
	require.Error(t, err)
}

func TestKillTerminatesChild(t *testing.T) {
	command, args := "sleep", []string{"30"}
	if runtime.GOOS == "windows" {
		command, args = "cmd", []string{"/C", "timeout /T 30"}
	}

	p, err := Start(command, args)
	require.NoError(t, err)

	go func() {
		bufio.NewScanner(p.Stdout).Scan()
	}()

	require.NoError(t, p.Kill())

	select {
	case result := <-p.Done():
		require.True(t, result.Signaled || result.ExitCode != 0)
	case <-time.After(5 * time.Second):
		t.Fatal("killed process did not report exit within timeout")
	}
}
