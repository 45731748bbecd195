//go:build windows

package spawner

import "os/exec"

// killByName shells out to taskkill /IM, the Windows equivalent of pkill
// for matching by executable image name.
func killByName(processName string) error {
	return exec.Command("taskkill", "/F", "/IM", processName).Run()
}
