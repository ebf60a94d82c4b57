//go:build !windows

package transmitter

import "os/exec"

// configureProcess is a no-op on non-Windows platforms.
func configureProcess(_ *exec.Cmd) {}
