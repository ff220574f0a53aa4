package job

import "sync"

// BGOp is the small mutable progress/cancellation tuple a worker or a UI
// renderer inspects. It is guarded by its own lock (bg_op_lock in the
// spec) so that workers can report progress without taking the job's
// status lock, and renderers always see a consistent snapshot.
type BGOp struct {
	mu sync.Mutex

	total int
	done  int
	descr string

	cancelled bool

	bar  JobBar
	live bool // true once Add() has been called and before Remove()
}

// BGOpSnapshot is a consistent point-in-time read of a BGOp.
type BGOpSnapshot struct {
	Total     int
	Done      int
	Descr     string
	Cancelled bool
}

func newBGOp(bar JobBar) *BGOp {
	return &BGOp{bar: bar}
}

// SetDescr swaps the description text and notifies the job-bar of the
// change.
func (b *BGOp) SetDescr(text string) {
	b.mu.Lock()
	b.descr = text
	live := b.live
	b.mu.Unlock()
	if live {
		b.bar.Changed(b)
	}
}

// SetProgress updates total/done and notifies the job-bar. It is called by
// the worker goroutine, never by the control goroutine.
func (b *BGOp) SetProgress(total, done int) {
	b.mu.Lock()
	b.total, b.done = total, done
	live := b.live
	b.mu.Unlock()
	if live {
		b.bar.Changed(b)
	}
}

// Cancel sets the cancellation flag and returns whether it was already
// set, so callers can detect a first-cancel versus a repeated request.
// Idempotent: calling it twice is safe.
func (b *BGOp) Cancel() (alreadyCancelled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	alreadyCancelled = b.cancelled
	b.cancelled = true
	return alreadyCancelled
}

// Cancelled reports the current cancellation flag. Workers must poll this
// cooperatively; there is no way to force-stop a goroutine.
func (b *BGOp) Cancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Snapshot returns a consistent read of every field under one critical
// section, for UI renderers.
func (b *BGOp) Snapshot() BGOpSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BGOpSnapshot{Total: b.total, Done: b.done, Descr: b.descr, Cancelled: b.cancelled}
}

// Progress returns done/total as a fraction in [0,1], or 0 if total is not
// yet known.
func (s BGOpSnapshot) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}
	p := float64(s.Done) / float64(s.Total)
	if p > 1 {
		p = 1
	}
	return p
}

func (b *BGOp) addToBar() {
	b.mu.Lock()
	b.live = true
	b.mu.Unlock()
	b.bar.Add(b)
}

func (b *BGOp) removeFromBar() {
	b.mu.Lock()
	wasLive := b.live
	b.live = false
	b.mu.Unlock()
	if wasLive {
		b.bar.Remove(b)
	}
}
