//go:build !windows

package job

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

type unixHandle struct{}

func newPlatformHandle() platformHandle { return &unixHandle{} }

func (*unixHandle) prepare(cmd *exec.Cmd, opts SpawnOptions) error {
	attr := &syscall.SysProcAttr{}
	if !opts.Flags.has(KeepInFG) {
		// Start a new session so the child has no controlling terminal and
		// does not compete with the UI for keyboard input.
		attr.Setsid = true
	}
	cmd.SysProcAttr = attr
	if !opts.Flags.has(SupplyInput) {
		cmd.Stdin = nil // os/exec connects a nil Stdin to /dev/null
	}
	return nil
}

func (*unixHandle) attach(*os.Process) error { return nil }

func (*unixHandle) cancel(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	err := proc.Signal(unix.SIGINT)
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}

func (*unixHandle) terminate(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	err := proc.Signal(unix.SIGKILL)
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}

type unixWaitStatus struct{ ws syscall.WaitStatus }

func (w unixWaitStatus) signalled() bool { return w.ws.Signaled() }
func (w unixWaitStatus) signum() int     { return int(w.ws.Signal()) }
func (w unixWaitStatus) exitStatus() int { return w.ws.ExitStatus() }

func waitStatus(ee *exec.ExitError) (interface {
	signalled() bool
	signum() int
	exitStatus() int
}, bool) {
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok {
		return nil, false
	}
	return unixWaitStatus{ws}, true
}
