//go:build !linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr is a no-op outside Linux.
func configureSysProcAttr(_ *exec.Cmd) {}

// signalGroup signals only the direct child outside Linux.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(sig)
}
