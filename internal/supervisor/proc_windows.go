//go:build windows

package supervisor

import "os/exec"

func configureCommandProcess(cmd *exec.Cmd) {}

func interruptCommandProcess(cmd *exec.Cmd) {
	// Windows has no interrupt delivery to another process; fall through
	// to a plain kill so graceful stop still makes progress.
	terminateCommandProcess(cmd)
}

func terminateCommandProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
