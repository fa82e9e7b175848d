//go:build !windows

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so the dev
// server and everything it forks can be signalled together.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks the process group led by pid to exit.
func terminate(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

// kill forcibly ends the process group led by pid.
func kill(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

// signalGroup signals -pid, falling back to pid alone when the process is
// not a group leader.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
