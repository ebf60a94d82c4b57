package transmitter

import (
	"os/exec"
	"syscall"
)

// configureProcess hides the console window the transmitter would open.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow: true,
	}
}
