//go:build !windows

package host

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the server into its own process group so it and its
// children can be signalled together.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}

func terminate(cmd *exec.Cmd) error {
	return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}

func kill(cmd *exec.Cmd) error {
	return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
