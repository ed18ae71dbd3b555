//go:build linux

// Package procgroup starts agent processes in their own process group and
// tears whole groups down, so tools spawned by an agent die with it.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Configure puts cmd in a new process group and asks the kernel to send
// SIGTERM to the child if this process dies first.
func Configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
