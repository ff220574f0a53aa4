package job

// Registry is the process-wide list of live jobs. Its linked structure is
// mutated by exactly one goroutine — the control goroutine that calls the
// public API and Check() — so, deliberately unlike the per-job locks, it
// carries no mutex of its own. Concurrent use from more than one goroutine
// is a misuse of the API, not a supported mode: every public API call is
// only permitted on the control thread.
type Registry struct {
	jobs   []*Job
	pump   *ErrorPump
	guard  bool // reconciler re-entrancy guard
	lastN  int  // last published active_jobs, for change detection
	seeded bool
}

// NewRegistry creates an empty registry bound to pump, which receives
// every job this registry adds that has a non-nil error stream.
func NewRegistry(pump *ErrorPump) *Registry {
	return &Registry{pump: pump}
}

// Add allocates nothing itself (the caller already built j, via
// LaunchCommand or StartWorker);
// it links j at the head of the registry and, if j has an error stream,
// hands it to the error pump: mark erroring, bump use_count, push onto the
// handoff list.
func (r *Registry) Add(j *Job, errChunks <-chan []byte) {
	r.jobs = append([]*Job{j}, r.jobs...)
	if errChunks != nil {
		j.markErroring(true)
		r.pump.handoff(j, errChunks)
	}
}

// Jobs returns a snapshot slice of the currently tracked jobs. Safe to
// call only from the control goroutine.
func (r *Registry) Jobs() []*Job {
	out := make([]*Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Find looks up a job by ID.
func (r *Registry) Find(id string) (*Job, bool) {
	for _, j := range r.jobs {
		if j.ID.String() == id {
			return j, true
		}
	}
	return nil, false
}

// free releases a job's OS resources. Callers must have already verified
// !running && useCount == 0.
func (r *Registry) free(j *Job) {
	j.close()
}
