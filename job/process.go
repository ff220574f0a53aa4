package job

import (
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// SpawnFlags select how a command's stdio is wired and how it is placed
// relative to the host's process group.
type SpawnFlags uint8

const (
	// KeepInFG keeps the child attached to the controlling terminal
	// instead of starting a new session.
	KeepInFG SpawnFlags = 1 << iota
	// SupplyInput wires a pipe to the child's stdin, returned as Job.Input.
	SupplyInput
	// CaptureOut wires a pipe to the child's stdout, returned as Job.Output.
	CaptureOut
	// MergeStreams duplicates stderr from stdout instead of giving it its
	// own pipe; only meaningful together with CaptureOut.
	MergeStreams
	// JobBarVisible names job-bar presence. Spawn, LaunchCommand and
	// StartWorker do not read it; worker jobs go on the job-bar according
	// to StartWorker's important argument.
	JobBarVisible
	// MenuVisible names jobs-menu presence. Spawn and LaunchCommand do not
	// read it; a command job is in the menu iff CommandSpec.InMenu is set.
	MenuVisible
)

func (f SpawnFlags) has(bit SpawnFlags) bool { return f&bit != 0 }

// ErrBadDir is returned by Spawn when a working directory was given but is
// not traversable; it is reported deterministically and identically on
// both POSIX and Windows.
var ErrBadDir = errors.New("working directory is not traversable")

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	Dir       string
	Flags     SpawnFlags
	Requester Requester
	Shell     ShellConfig
}

// ProcHandle is the platform process port's live handle to a spawned
// child, exposing reaping (Wait) and soft/hard stop (Cancel/Terminate);
// the spawn itself has already happened by the time a ProcHandle exists.
type ProcHandle struct {
	cmd   *exec.Cmd
	proc  *os.Process
	plat  platformHandle
	owned []io.Closer // parent's copies of the child-facing pipe ends, closed after Start or on spawn failure
}

// platformHandle is implemented by process_unix.go and process_windows.go.
type platformHandle interface {
	// prepare configures cmd.SysProcAttr (and anything else) before Start.
	prepare(cmd *exec.Cmd, opts SpawnOptions) error
	// attach runs after a successful Start, e.g. to assign a Windows Job
	// Object. It is a no-op on POSIX.
	attach(proc *os.Process) error
	// cancel sends the soft-stop signal (SIGINT / CTRL_BREAK_EVENT).
	cancel(proc *os.Process) error
	// terminate sends the hard-stop signal (SIGKILL / TerminateJobObject),
	// cascading to descendants where the platform supports it.
	terminate(proc *os.Process) error
}

// Spawn starts cmdLine through opts.Shell, wiring stdio per opts.Flags and
// returning a ProcHandle plus the parent-side ends of any pipes requested.
// The io.WriteCloser/io.ReadCloser/io.ReadCloser return values are
// Job.Input, Job.Output and Job.errStream respectively; any of them may be
// nil depending on flags.
func Spawn(cmdLine string, opts SpawnOptions) (*ProcHandle, io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	if opts.Dir != "" {
		fi, err := os.Stat(opts.Dir)
		if err != nil || !fi.IsDir() {
			return nil, nil, nil, nil, errors.Wrapf(ErrBadDir, "%s", opts.Dir)
		}
	}

	argv0, args := opts.Shell.BuildArgv(cmdLine)
	cmd := exec.Command(argv0, args...)
	cmd.Dir = opts.Dir

	h := &ProcHandle{cmd: cmd, plat: newPlatformHandle()}

	var (
		input     io.WriteCloser
		output    io.ReadCloser
		errStream io.ReadCloser
	)

	closeOwned := func() {
		for _, c := range h.owned {
			_ = c.Close()
		}
	}

	// Every child-facing pipe below is built by hand with os.Pipe rather
	// than cmd.StdinPipe/StdoutPipe/StderrPipe. Those helpers register the
	// read end in cmd.Wait's closeAfterWait list, which forcibly closes it
	// the instant the child exits — a race against LaunchCommand's reap
	// goroutine, which calls Wait as soon as the child is spawned, with no
	// idea whether a consumer has finished draining Output/errStream yet.
	// Keeping the parent-side fds out of exec.Cmd's bookkeeping means Wait
	// never touches them; only the Job closes them (Job.Wait closes Input
	// and Output, Registry.free via Job.close closes every handle once the
	// job is reclaimed), and the parent's copies of the child-facing ends
	// below are closed right after Start the same way cmd.StdinPipe etc.
	// would, so readers still see EOF when the child exits.
	var exposed []io.Closer // parent-side handles returned to the caller, closed on spawn failure

	closeFailed := func() {
		closeOwned()
		for _, c := range exposed {
			_ = c.Close()
		}
	}

	if opts.Flags.has(SupplyInput) {
		pr, pw, err := os.Pipe()
		if err != nil {
			closeFailed()
			return nil, nil, nil, nil, err
		}
		cmd.Stdin = pr
		h.owned = append(h.owned, pr)
		exposed = append(exposed, pw)
		input = pw
	}

	switch {
	case opts.Flags.has(CaptureOut) && opts.Flags.has(MergeStreams):
		pr, pw, err := os.Pipe()
		if err != nil {
			closeFailed()
			return nil, nil, nil, nil, err
		}
		cmd.Stdout = pw
		cmd.Stderr = pw
		h.owned = append(h.owned, pw)
		exposed = append(exposed, pr)
		output = pr
	case opts.Flags.has(CaptureOut):
		outPr, outPw, err := os.Pipe()
		if err != nil {
			closeFailed()
			return nil, nil, nil, nil, err
		}
		cmd.Stdout = outPw
		h.owned = append(h.owned, outPw)
		exposed = append(exposed, outPr)
		output = outPr

		errPr, errPw, err := os.Pipe()
		if err != nil {
			closeFailed()
			return nil, nil, nil, nil, err
		}
		cmd.Stderr = errPw
		h.owned = append(h.owned, errPw)
		exposed = append(exposed, errPr)
		errStream = errPr
	default:
		errPr, errPw, err := os.Pipe()
		if err != nil {
			closeFailed()
			return nil, nil, nil, nil, err
		}
		cmd.Stderr = errPw
		h.owned = append(h.owned, errPw)
		exposed = append(exposed, errPr)
		errStream = errPr
	}

	if err := h.plat.prepare(cmd, opts); err != nil {
		closeFailed()
		return nil, nil, nil, nil, err
	}

	if err := cmd.Start(); err != nil {
		closeFailed()
		return nil, nil, nil, nil, err
	}
	h.proc = cmd.Process
	// The child inherited its own copies of every fd above across fork/exec;
	// the parent's duplicates must close now so readers see EOF once the
	// child's copies close, exactly what cmd.StdinPipe/StdoutPipe/
	// StderrPipe do internally via closeAfterStart.
	closeOwned()
	h.owned = nil

	if err := h.plat.attach(h.proc); err != nil {
		// The child is already running; best effort cleanup is to kill it
		// rather than leak it unmanaged.
		_ = h.proc.Kill()
		return nil, nil, nil, nil, err
	}

	return h, input, output, errStream, nil
}

// Wait blocks until the child exits and reports its exit code plus
// whether it was terminated by a signal, classifying the wrapped
// exec.ExitError to distinguish signal death from a plain non-zero exit.
func (h *ProcHandle) Wait() (exitCode int, killed bool) {
	err := h.cmd.Wait()
	return exitCodeFromWaitErr(h.cmd, err)
}

// Cancel sends the soft interrupt. Repeated calls are safe and simply
// resend the signal; on POSIX, signalling a child that has already been
// reaped returns nil rather than an error.
func (h *ProcHandle) Cancel() error {
	return h.plat.cancel(h.proc)
}

// Terminate sends the hard stop.
func (h *ProcHandle) Terminate() error {
	return h.plat.terminate(h.proc)
}

// Release frees OS resources associated with the handle once the job is
// reclaimed.
func (h *ProcHandle) Release() {
	if h.proc != nil {
		_ = h.proc.Release()
	}
}

// exitCodeFromWaitErr classifies the result of cmd.Wait(), returning 1 for
// any failure it cannot classify more precisely as a signal death or a
// plain non-zero exit.
func exitCodeFromWaitErr(cmd *exec.Cmd, err error) (code int, killed bool) {
	if err == nil {
		return 0, false
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := waitStatus(exitErr); ok {
			if ws.signalled() {
				return 128 + ws.signum(), true
			}
			return ws.exitStatus(), false
		}
		if ec := exitErr.ExitCode(); ec >= 0 {
			return ec, false
		}
	}
	return 1, false
}
