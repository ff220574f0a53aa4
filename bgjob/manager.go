// Package bgjob is the public surface of the background job subsystem. It
// wires package job's concurrency core (registry, error pump, process
// port, worker runner) behind the verbs a host application calls:
// RunExternal, RunExternalJob, Execute, AndWaitForErrors, RunAndCapture,
// and the per-job Wait/Cancel/Terminate/Incref/Decref methods already on
// *job.Job.
//
// Every exported Manager method is only safe to call from the single
// control goroutine that also calls Check — the sole exceptions being
// BGOp's own methods, which workers call directly.
package bgjob

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vifm/bgjob/job"
)

// Manager owns the registry, the error pump, and the collaborator ports a
// host supplies. It is the thing a host application embeds.
type Manager struct {
	registry *job.Registry
	pump     *job.ErrorPump
	shell    job.ShellConfig
	ports    job.CheckPorts
	logger   *zap.Logger
}

// New creates a Manager and starts its error-pump goroutine. Close must be
// called to stop it.
func New(shell job.ShellConfig, ports job.CheckPorts, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	pump := job.NewErrorPump(logger)
	go pump.Run()
	return &Manager{
		registry: job.NewRegistry(pump),
		pump:     pump,
		shell:    shell,
		ports:    ports,
		logger:   logger,
	}
}

// Close stops the error pump. Call once, after the host is done driving
// Check.
func (m *Manager) Close() {
	m.pump.Stop()
}

// Check runs one reconciler pass (C6). A host application calls this
// periodically from its main event loop.
func (m *Manager) Check() {
	m.registry.Check(m.ports)
}

// Jobs returns a snapshot of every tracked job, for a jobs-menu UI.
func (m *Manager) Jobs() []*job.Job {
	return m.registry.Jobs()
}

// Find looks a job up by ID string.
func (m *Manager) Find(id string) (*job.Job, bool) {
	return m.registry.Find(id)
}

// HasActiveJobs reports whether any running, menu-visible job exists,
// optionally restricted to OPERATION jobs.
func (m *Manager) HasActiveJobs(importantOnly bool) bool {
	return m.registry.HasActiveJobs(importantOnly)
}

// RunExternal is the fire-and-forget form: launch cmd and forget about it
// immediately (no handle is returned). Errors that occur are still
// captured and surfaced via the error-dialog port by the next few Check()
// passes unless skipErrors silences them for this job.
func (m *Manager) RunExternal(cmd string, keepInFG, skipErrors bool, by job.Requester) error {
	flags := job.MenuVisible
	if keepInFG {
		flags |= job.KeepInFG
	}
	_, err := job.LaunchCommand(m.registry, m.shell, job.CommandSpec{
		Cmd:        cmd,
		Flags:      flags,
		Requester:  by,
		SkipErrors: skipErrors,
		InMenu:     true,
	})
	return errors.Wrap(err, "run external")
}

// RunExternalJobOptions configures RunExternalJob.
type RunExternalJobOptions struct {
	Dir          string
	Descr        string
	KeepInFG     bool
	SupplyInput  bool
	CaptureOut   bool
	MergeStreams bool
	SkipErrors   bool
	Requester    job.Requester
}

// RunExternalJob launches cmd and returns a refcounted *job.Job handle;
// the caller owns one reference and must Decref it.
func (m *Manager) RunExternalJob(cmd string, opts RunExternalJobOptions) (*job.Job, error) {
	var flags job.SpawnFlags
	flags |= job.MenuVisible
	if opts.KeepInFG {
		flags |= job.KeepInFG
	}
	if opts.SupplyInput {
		flags |= job.SupplyInput
	}
	if opts.CaptureOut {
		flags |= job.CaptureOut
	}
	if opts.MergeStreams {
		flags |= job.MergeStreams
	}

	j, err := job.LaunchCommand(m.registry, m.shell, job.CommandSpec{
		Cmd:        cmd,
		Dir:        opts.Dir,
		Flags:      flags,
		Requester:  opts.Requester,
		SkipErrors: opts.SkipErrors,
		InMenu:     true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "run external job")
	}
	j.Incref()
	return j, nil
}

// Execute runs fn in a worker goroutine (TASK if !important, OPERATION if
// important), reporting progress/cancellation through the BGOp passed to
// fn.
func (m *Manager) Execute(descr, opDescr string, total int, important bool, fn job.WorkerFunc, args any) *job.Job {
	j := job.StartWorker(descr, opDescr, total, important, fn, args, m.ports.JobBar)
	m.registry.Add(j, nil)
	return j
}

// AndWaitForErrors is a synchronous spawn that captures stderr, surfaces
// it via the error dialog on non-zero exit, and returns the exit code (or
// -1 on spawn failure). cancellation, if non-nil, is watched while the
// child runs; when it fires the child is cancelled, and it is terminated
// as well if ctx is done before the child exits.
func (m *Manager) AndWaitForErrors(ctx context.Context, cmd string, cancellation <-chan struct{}) int {
	j, err := job.LaunchCommand(m.registry, m.shell, job.CommandSpec{
		Cmd:   cmd,
		Flags: 0,
	})
	if err != nil {
		return -1
	}
	j.Incref()
	defer j.Decref()

	done := make(chan int, 1)
	go func() { done <- j.Wait() }()

	if cancellation != nil {
		select {
		case code := <-done:
			m.maybeReportErrors(j, code)
			return code
		case <-cancellation:
			j.Cancel()
			select {
			case code := <-done:
				m.maybeReportErrors(j, code)
				return code
			case <-ctxOrNever(ctx):
				_ = j.Terminate()
				code := <-done
				m.maybeReportErrors(j, code)
				return code
			}
		}
	}

	code := <-done
	m.maybeReportErrors(j, code)
	return code
}

func ctxOrNever(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		return nil
	}
	return ctx.Done()
}

// maybeReportErrors reports j's accumulated stderr through the error
// dialog, the same way Registry.Check does for jobs that are never passed
// through AndWaitForErrors. It must call WaitErrors before reading
// anything: Wait only blocks until the child exits, not until the error
// pump has appended the child's final chunk(s), so reading immediately
// after Wait can both show a truncated prompt here and let Check's next
// pass find the trailing bytes the pump appended afterward and prompt a
// second, unexplained time for the same job. Draining via TakeNewErrors
// instead of Errors, and latching SkipErrors on suppress, keeps this
// consistent with Check's own drain so the same bytes are never reported
// twice.
func (m *Manager) maybeReportErrors(j *job.Job, exitCode int) {
	if exitCode == 0 {
		return
	}
	if m.ports.ErrorDialog == nil {
		return
	}
	j.WaitErrors()
	chunk := j.TakeNewErrors()
	if len(chunk) == 0 {
		return
	}
	if m.ports.ErrorDialog.Prompt(j.Cmd, string(chunk)) {
		j.SetSkipErrors(true)
	}
}

// RunAndCapture is a synchronous spawn with stdin/stdout/stderr wired to
// the given streams. A nil stdin or stdout uses the default /dev/null
// wiring; a nil stderr leaves the child's stderr with the error pump, so
// the next Check reports it through the error-dialog port.
func (m *Manager) RunAndCapture(cmd string, userSh bool, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	var flags job.SpawnFlags
	if stdout != nil {
		flags |= job.CaptureOut
	}
	if stdin != nil {
		flags |= job.SupplyInput
	}

	j, err := job.LaunchCommand(m.registry, m.shell, job.CommandSpec{Cmd: cmd, Flags: flags})
	if err != nil {
		return -1, errors.Wrap(err, "run and capture")
	}
	j.Incref()
	defer j.Decref()

	var wg sync.WaitGroup
	var copyErr error
	if stdin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = io.Copy(j.Input(), stdin)
			_ = j.Input().Close()
		}()
	}
	if stdout != nil && j.Output() != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := io.Copy(stdout, j.Output()); err != nil {
				copyErr = err
			}
		}()
	}
	// Job.Wait closes Input/Output before blocking on exit, so every copy
	// reading from Output must reach EOF on its own first — otherwise the
	// close below races the copy and can truncate it.
	wg.Wait()

	code := j.Wait()
	// Wait only blocks until the child exits, not until the error pump has
	// appended its final chunk(s); WaitErrors closes that gap so the drain
	// below reflects the whole stream instead of silently truncating it.
	// Draining via TakeNewErrors keeps Check from reporting the same bytes
	// again through the error dialog.
	j.WaitErrors()
	if stderr != nil {
		_, _ = stderr.Write(j.TakeNewErrors())
	}
	return code, copyErr
}
