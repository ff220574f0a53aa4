package job

import "context"

// WorkerFunc is the function a caller supplies to run in a worker
// goroutine. It receives the job's BGOp for progress reporting and should
// poll bg.Cancelled() cooperatively; there is no way to force-stop it.
type WorkerFunc func(ctx context.Context, bg *BGOp, args any) error

// StartWorker creates a TASK or OPERATION job (Operation iff important)
// and spawns the goroutine that runs fn, implementing C5. bar is used to
// place Operation jobs on the job-bar; it may be nil for tests that do not
// care about job-bar presence, in which case job-bar placement is skipped.
//
// The returned job is not yet linked into the registry; the caller
// (package bgjob) links it. StartWorker only builds the Job and launches
// its goroutine.
func StartWorker(descr, opDescr string, total int, important bool, fn WorkerFunc, args any, bar JobBar) *Job {
	kind := Task
	if important {
		kind = Operation
	}

	j := newJob(kind, descr)
	j.running = true
	j.inMenu = true
	j.bgOp = newBGOp(bar)
	j.bgOp.descr = opDescr
	j.bgOp.total = total

	if important && bar != nil {
		j.bgOp.addToBar()
		j.onJobBar = true
	}

	go runWorker(j, fn, args)

	return j
}

// runWorker is a worker goroutine's bootstrap body: record the job in the
// context for nested helpers, call fn, mark finished on return.
// Go goroutines cannot fail to start the way a native thread create can,
// so the "thread creation failure marks exit code 1" branch has no
// reachable path here; a panic inside fn is the Go analogue of a worker
// that cannot make progress, and is likewise converted to exit code 1
// rather than crashing the control goroutine.
func runWorker(j *Job, fn WorkerFunc, args any) {
	exitCode := 0
	func() {
		defer func() {
			if r := recover(); r != nil {
				exitCode = 1
			}
		}()
		ctx := WithCurrentJob(context.Background(), j)
		if err := fn(ctx, j.bgOp, args); err != nil {
			exitCode = 1
		}
	}()
	j.finish(exitCode, false)
}
