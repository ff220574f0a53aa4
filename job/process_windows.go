//go:build windows

package job

import (
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsHandle wraps a child in a Job Object so Terminate cascades to any
// descendants it spawns.
type windowsHandle struct {
	job windows.Handle
}

func newPlatformHandle() platformHandle { return &windowsHandle{} }

func (h *windowsHandle) prepare(cmd *exec.Cmd, opts SpawnOptions) error {
	flags := uint32(0)
	if !opts.Flags.has(KeepInFG) {
		// No console window of its own, and its own process group so a
		// CTRL_BREAK_EVENT can be targeted at it without also hitting us.
		flags |= windows.CREATE_NEW_PROCESS_GROUP | windows.CREATE_NO_WINDOW
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
	if !opts.Flags.has(SupplyInput) {
		cmd.Stdin = nil
	}

	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		_ = windows.CloseHandle(job)
		return err
	}

	h.job = job
	return nil
}

func (h *windowsHandle) attach(proc *os.Process) error {
	if h.job == 0 {
		return nil
	}
	handle, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(proc.Pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)
	return windows.AssignProcessToJobObject(h.job, handle)
}

func (h *windowsHandle) cancel(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	// There is no controlling window to post WM_CLOSE to, so the closest
	// POSIX-SIGINT analogue available to a console-less child is a
	// CTRL_BREAK_EVENT to its process group. GUI-less children that do not
	// install a console control handler may ignore it; this is treated as
	// expected best-effort behavior, not a bug — callers needing a
	// guaranteed stop must follow up with Terminate.
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(proc.Pid))
}

func (h *windowsHandle) terminate(proc *os.Process) error {
	if h.job != 0 {
		return windows.TerminateJobObject(h.job, 1)
	}
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

// waitStatus has no signal-death concept on Windows: exec.ExitError's Sys()
// result carries no WIFSIGNALED-equivalent, so killed is always reported
// via the exit code path in exitCodeFromWaitErr.
func waitStatus(*exec.ExitError) (interface {
	signalled() bool
	signum() int
	exitStatus() int
}, bool) {
	return nil, false
}
