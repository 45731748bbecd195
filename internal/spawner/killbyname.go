package spawner

// KillByName attempts a best-effort termination of every running process
// whose image name matches processName. "Best effort" means success is
// that the kill request was issued, not that every matching process is
// confirmed gone by the time this returns.
func KillByName(processName string) error {
	return killByName(processName)
}
