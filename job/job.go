// Package job implements the concurrency core of the background job
// subsystem: job records, the process-wide registry, the error pump, and
// the platform process port. It intentionally knows nothing about menus,
// dialogs or status bars — those are the ports in ports.go, implemented by
// package bgjob (or a host application) on top of this package.
package job

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a Job wraps.
type Kind int

const (
	// Command wraps an OS child process.
	Command Kind = iota
	// Task wraps a worker goroutine with no job-bar presence.
	Task
	// Operation wraps a worker goroutine that appears on the job-bar.
	Operation
)

func (k Kind) String() string {
	switch k {
	case Command:
		return "COMMAND"
	case Task:
		return "TASK"
	case Operation:
		return "OPERATION"
	default:
		return "UNKNOWN"
	}
}

// Requester identifies who asked for a command to run: an interactive
// user action versus an application-internal one.
type Requester int

const (
	ByUser Requester = iota
	ByApp
)

// noPID is the sentinel pid for jobs with no child process (TASK/OPERATION).
const noPID = -1

// exitCodeUnset is the sentinel exit code for a job that has not finished.
const exitCodeUnset = -1

// Job is the central entity of the subsystem: either an external command
// (Kind == Command) or a worker goroutine (Task/Operation). Its registry
// linkage is owned exclusively by the control goroutine; its mutable
// fields are partitioned by access pattern: status under statusMu,
// accumulated errors under errorsMu, and control-goroutine-only
// bookkeeping with no lock. The BGOp, if any, carries its own lock.
type Job struct {
	ID   uuid.UUID
	Kind Kind
	Cmd  string

	startTime time.Time
	requester Requester

	// statusMu guards running, exitCode, useCount, erroring, cancelled
	// and killedBySignal — the "status_lock" domain. finishHandled is
	// only touched by the reconciler on the control goroutine.
	statusMu       sync.Mutex
	running        bool
	exitCode       int
	cancelled      bool
	useCount       int
	erroring       bool
	killedBySignal bool
	finishHandled  bool // reconciler has already run exit_cb/removed from job-bar

	// errorsMu guards errors/newErrors — the "errors_lock" domain.
	errorsMu  sync.Mutex
	errors    []byte
	newErrors []byte

	// control-goroutine-only fields (no lock: only the control goroutine
	// ever reads or writes these).
	skipErrors bool
	inMenu     bool
	onJobBar   bool
	exitCb     func(arg any)
	exitCbArg  any
	hasExitCb  bool

	// set once at creation, read-only thereafter except via the methods
	// below.
	pid       int
	proc      *ProcHandle // nil for Task/Operation
	input     io.WriteCloser
	output    io.ReadCloser
	errStream io.ReadCloser

	bgOp *BGOp // non-nil iff created WithBGOp

	done chan struct{} // closed exactly once, when the job finishes
}

func newJob(kind Kind, cmd string) *Job {
	return &Job{
		ID:        uuid.New(),
		Kind:      kind,
		Cmd:       cmd,
		startTime: time.Now(),
		pid:       noPID,
		exitCode:  exitCodeUnset,
		done:      make(chan struct{}),
	}
}

// StartTime returns when the job was created.
func (j *Job) StartTime() time.Time {
	return j.startTime
}

// IsRunning reports whether the job has not yet finished.
func (j *Job) IsRunning() bool {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	return j.running
}

// ExitCode returns the job's exit code, or a negative value if it has not
// finished yet.
func (j *Job) ExitCode() int {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	return j.exitCode
}

// WasKilled reports whether the job's child process was terminated by a
// signal, as opposed to exiting on its own (possibly with a non-zero
// code). Always false for Task/Operation jobs.
func (j *Job) WasKilled() bool {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	return j.killedBySignal
}

// Cancelled reports whether cancellation has been requested for this job.
func (j *Job) Cancelled() bool {
	if j.bgOp != nil {
		return j.bgOp.Cancelled()
	}
	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	return j.cancelled
}

// BGOp returns the job's progress/cancellation tuple, or nil if the job
// was not created with one (plain COMMAND jobs have no bg_op).
func (j *Job) BGOp() *BGOp {
	return j.bgOp
}

// Input returns the child's stdin pipe, or nil if SupplyInput was not
// requested at launch time.
func (j *Job) Input() io.WriteCloser {
	return j.input
}

// Output returns the child's stdout pipe, or nil if CaptureOut was not
// requested at launch time.
func (j *Job) Output() io.ReadCloser {
	return j.output
}

// PID returns the child process id, or a negative sentinel for
// Task/Operation jobs.
func (j *Job) PID() int {
	return j.pid
}

// Incref adds a logical reference to the job, delaying reclamation until a
// matching Decref. Every successful Incref requires exactly one Decref.
func (j *Job) Incref() {
	j.statusMu.Lock()
	j.useCount++
	j.statusMu.Unlock()
}

// Decref removes a logical reference. The job becomes eligible for
// reclamation once it is both finished and has zero references.
func (j *Job) Decref() {
	j.statusMu.Lock()
	if j.useCount > 0 {
		j.useCount--
	}
	j.statusMu.Unlock()
}

// SetExitCb installs a single-shot callback invoked on the control
// goroutine the first time the job is observed finished. Only legal
// before the job finishes; callers racing this against completion may
// simply miss the callback — it fires at most once, on the control
// thread, not on a stronger guarantee.
func (j *Job) SetExitCb(cb func(arg any), arg any) {
	j.exitCb = cb
	j.exitCbArg = arg
	j.hasExitCb = true
}

// Wait closes Input/Output (if any) and blocks until the job finishes,
// returning its exit code. It never returns before the job has actually
// finished (the reap goroutine for COMMAND jobs, or the worker closure
// returning for TASK/OPERATION jobs).
func (j *Job) Wait() int {
	if j.input != nil {
		_ = j.input.Close()
	}
	if j.output != nil {
		_ = j.output.Close()
	}
	<-j.done
	return j.ExitCode()
}

// WaitErrors busy-polls for the error pump to finish draining a
// just-finished job's error stream. A per-job condition variable was
// rejected because jobs are numerous and short-lived, so a bounded poll
// (50us steps, 50ms cap) is used instead.
func (j *Job) WaitErrors() bool {
	const (
		step = 50 * time.Microsecond
		cap  = 50 * time.Millisecond
	)
	deadline := time.Now().Add(cap)
	for {
		j.statusMu.Lock()
		erroring := j.erroring
		j.statusMu.Unlock()
		if !erroring {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(step)
	}
}

// snapshotStatus is used by the reconciler to read running/useCount/
// erroring in one critical section.
func (j *Job) snapshotStatus() (running bool, useCount int, erroring bool) {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	return j.running, j.useCount, j.erroring
}

// markErroring flips erroring and adjusts useCount; called by the
// registry when a job with an err_stream is added (use_count++, erroring
// = true) and by the error pump when it observes EOF (erroring = false,
// use_count--).
func (j *Job) markErroring(on bool) {
	j.statusMu.Lock()
	if on {
		j.erroring = true
		j.useCount++
	} else {
		j.erroring = false
		if j.useCount > 0 {
			j.useCount--
		}
	}
	j.statusMu.Unlock()
}

// finish transitions the job to !running exactly once, recording the exit
// code and whether it was killed by a signal. It is safe to call from the
// command reap goroutine or directly (for TASK/OPERATION/spawn-failure
// paths). It does not run the exit callback or touch the registry —
// that is the reconciler's job, strictly on the control goroutine.
func (j *Job) finish(exitCode int, killed bool) {
	j.statusMu.Lock()
	if !j.running && j.exitCode != exitCodeUnset {
		j.statusMu.Unlock()
		return
	}
	j.running = false
	j.exitCode = exitCode
	j.killedBySignal = killed
	j.statusMu.Unlock()
	close(j.done)
}

// appendErrors appends a chunk read from the job's error stream to both
// the full history and the not-yet-consumed buffer, under errorsMu. Called
// only by the error pump.
func (j *Job) appendErrors(chunk []byte) {
	j.errorsMu.Lock()
	j.errors = append(j.errors, chunk...)
	j.newErrors = append(j.newErrors, chunk...)
	j.errorsMu.Unlock()
}

// takeNewErrors atomically swaps out the not-yet-consumed error buffer,
// returning it and resetting newErrors to empty. The swap happens under
// one critical section; the buffer is read outside the lock by the
// caller.
func (j *Job) takeNewErrors() []byte {
	j.errorsMu.Lock()
	chunk := j.newErrors
	j.newErrors = nil
	j.errorsMu.Unlock()
	return chunk
}

// Errors returns the full accumulated stderr history.
func (j *Job) Errors() []byte {
	j.errorsMu.Lock()
	defer j.errorsMu.Unlock()
	out := make([]byte, len(j.errors))
	copy(out, j.errors)
	return out
}

// TakeNewErrors is the exported form of takeNewErrors, for callers outside
// the package (bgjob.Manager's AndWaitForErrors and RunAndCapture) that report a job's stderr
// directly and must drain the same buffer Registry.Check drains, so the
// same bytes are never shown twice. Callers should call WaitErrors first
// so the error pump has stopped appending before this is read.
func (j *Job) TakeNewErrors() []byte {
	return j.takeNewErrors()
}

// SetSkipErrors latches j so future error-dialog prompts for it are
// suppressed, mirroring what Registry.Check does when ErrorDialog.Prompt
// returns true. skipErrors is a control-goroutine-only field; callers
// must be the control goroutine.
func (j *Job) SetSkipErrors(v bool) {
	j.skipErrors = v
}

// Cancel requests cancellation: for a COMMAND job it sends the platform
// soft-interrupt to the child; for TASK/OPERATION it flips the BGOp
// cancellation flag the worker is expected to poll. It returns whether
// the job was already cancelled, so repeated calls are observably
// idempotent.
func (j *Job) Cancel() bool {
	if j.Kind == Command && j.proc != nil {
		_ = j.proc.Cancel()
	}
	if j.bgOp != nil {
		return j.bgOp.Cancel()
	}
	return j.cancelRequested()
}

// Terminate hard-stops a COMMAND job (SIGKILL / TerminateJobObject). It
// has no effect on TASK/OPERATION jobs: workers cannot be forcibly
// cancelled, only asked to stop via Cancel and polled via BGOp.Cancelled.
func (j *Job) Terminate() error {
	if j.Kind == Command && j.proc != nil {
		return j.proc.Terminate()
	}
	return nil
}

// cancelRequested marks cancelled=true, a one-way transition, and reports
// whether it was already set.
func (j *Job) cancelRequested() (already bool) {
	j.statusMu.Lock()
	already = j.cancelled
	j.cancelled = true
	j.statusMu.Unlock()
	return already
}

// close releases every handle the job owns. Only called by the registry's
// Free, on a job that is already !running with useCount == 0.
func (j *Job) close() {
	if j.input != nil {
		_ = j.input.Close()
	}
	if j.output != nil {
		_ = j.output.Close()
	}
	if j.errStream != nil {
		_ = j.errStream.Close()
	}
	if j.proc != nil {
		j.proc.Release()
	}
}
