package job

// CheckPorts bundles the collaborators the reconciler needs for one pass.
// Any of them may be nil, in which case that step is skipped (useful for
// tests that only care about registry bookkeeping).
type CheckPorts struct {
	ErrorDialog ErrorDialog
	JobBar      JobBar
	Variables   Variables
	UIRedraw    UIRedraw
}

// Check performs one reconciler pass: wake the error pump if anything is
// still erroring, walk the registry detached so exit callbacks can safely
// call back into the public API, drain errors to the dialog port, run
// exit callbacks exactly once, count active jobs, and free anything
// finished with no outstanding references. Re-entrant calls (e.g. from
// within an exit callback) are a no-op; the reconciler never recurses.
func (r *Registry) Check(ports CheckPorts) {
	if r.guard {
		return
	}
	r.guard = true
	defer func() { r.guard = false }()

	anyErroring := false
	for _, j := range r.jobs {
		if _, _, erroring := j.snapshotStatus(); erroring {
			anyErroring = true
			break
		}
	}
	if anyErroring && r.pump != nil {
		r.pump.Wake()
	}

	detached := r.jobs
	r.jobs = nil

	activeJobs := 0
	kept := detached[:0]

	for _, j := range detached {
		if !j.skipErrors {
			if chunk := j.takeNewErrors(); len(chunk) > 0 && ports.ErrorDialog != nil {
				if ports.ErrorDialog.Prompt(j.Cmd, string(chunk)) {
					j.skipErrors = true
				}
			}
		}

		running, useCount, _ := j.snapshotStatus()

		if !running && !j.finishHandled {
			j.finishHandled = true
			if j.onJobBar && ports.JobBar != nil {
				ports.JobBar.Remove(j.bgOp)
				if j.bgOp != nil {
					j.bgOp.mu.Lock()
					j.bgOp.live = false
					j.bgOp.mu.Unlock()
				}
			}
			j.onJobBar = false
			if j.hasExitCb {
				cb, arg := j.exitCb, j.exitCbArg
				j.hasExitCb = false
				cb(arg)
			}
		}

		if running && j.inMenu {
			activeJobs++
		}

		if !running && useCount == 0 {
			r.free(j)
			continue
		}
		kept = append(kept, j)
	}
	r.jobs = kept

	if !r.seeded || activeJobs != r.lastN {
		r.seeded = true
		r.lastN = activeJobs
		if ports.Variables != nil {
			ports.Variables.SetInt("jobcount", activeJobs)
		}
		if ports.UIRedraw != nil {
			ports.UIRedraw.ScheduleRedraw()
		}
	}
}

// HasActiveJobs reports whether any running job is in the menu, optionally
// restricted to OPERATION jobs (important-only).
func (r *Registry) HasActiveJobs(importantOnly bool) bool {
	for _, j := range r.jobs {
		running, _, _ := j.snapshotStatus()
		if !running || !j.inMenu {
			continue
		}
		if importantOnly && j.Kind != Operation {
			continue
		}
		return true
	}
	return false
}
