//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the command in its own process group and makes
// cancellation kill the whole group, so programs that fork cannot outlive
// their deadline.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
