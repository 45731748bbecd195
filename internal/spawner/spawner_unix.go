//go:build !windows

package spawner

import (
	"os/exec"
	"syscall"
)

// scriptHost returns the interpreter used to run a ".ps1" script when the
// agent is running on a non-Windows host (PowerShell Core, if installed).
func scriptHost(_ string) (string, []string) {
	return "pwsh", []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File"}
}

// setProcessGroup places the child in its own process group so that Kill
// can terminate the whole group (shell + any descendants) in one signal.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the negative PID, which signals every
// process in the group rather than just the immediate child.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err == syscall.ESRCH {
		// Already gone — not an error from the caller's point of view.
		return nil
	}
	return err
}
