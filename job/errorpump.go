package job

import (
	"io"
	"reflect"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// errChunkSize is the largest chunk a single stderr read hands to the pump.
const errChunkSize = 1024

// pollTimeout bounds how long the pump's multiplexed wait can block once
// it has at least one live stream, so it periodically revisits jobs that
// haven't produced a fresh chunk.
const pollTimeout = 250 * time.Millisecond

// pumpEntry is one job's stderr hookup, as seen by the pump's private
// working list J.
type pumpEntry struct {
	job    *Job
	chunks <-chan []byte
}

// ErrorPump is the single dedicated goroutine that multiplexes the stderr
// streams of every live COMMAND job and appends bytes into each job's
// error buffer. Go's goroutines already let many blocking reads proceed
// concurrently, so rather than binding to a raw OS selector this pump fans
// reads in through one small reader goroutine per stream (see
// StartErrStream) and owns a single dynamic reflect.Select loop over those
// channels.
type ErrorPump struct {
	newJobs chan pumpEntry
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	logger  *zap.Logger
}

// NewErrorPump creates a pump. Run must be called (typically in its own
// goroutine) to start multiplexing.
func NewErrorPump(logger *zap.Logger) *ErrorPump {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorPump{
		newJobs: make(chan pumpEntry),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// StartErrStream launches a small goroutine that reads r in ~1KiB chunks
// and forwards them on the returned channel, closing it on EOF or error.
// The channel is what handoff/Run multiplex over; r is closed by the
// registry when the owning job is freed, not by this goroutine.
func StartErrStream(r io.Reader) <-chan []byte {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		buf := make([]byte, errChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				ch <- chunk
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// handoff publishes a newly spawned command job's error stream to the
// pump: the send blocks until the pump's select loop receives it, which
// happens promptly because the pump always has a case open on newJobs.
func (p *ErrorPump) handoff(j *Job, chunks <-chan []byte) {
	select {
	case p.newJobs <- pumpEntry{job: j, chunks: chunks}:
	case <-p.quit:
	}
}

// Wake asks the pump to re-poll promptly, used by the reconciler when it
// observes a job still marked erroring so drainage is not left to the
// 250ms timeout alone.
func (p *ErrorPump) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop asks the pump to exit and blocks until it has. Any jobs still in
// its working list are left with erroring=true; callers should only Stop
// after draining the registry.
func (p *ErrorPump) Stop() {
	close(p.quit)
	<-p.done
}

// Run is the pump's main loop: import newly handed-off streams, prune
// drained ones, then poll for the next chunk. It returns when Stop is
// called.
func (p *ErrorPump) Run() {
	defer close(p.done)

	var working []*pumpEntry
	var drained []int // indices into working marked drained this pass

	for {
		// Prune: anything drained in the previous poll is evicted here,
		// clearing erroring and dropping the pump's reference. Indices are
		// removed back-to-front with slices.Delete so earlier indices in
		// drained stay valid.
		for i := len(drained) - 1; i >= 0; i-- {
			idx := drained[i]
			working[idx].job.markErroring(false)
			working = slices.Delete(working, idx, idx+1)
		}
		drained = nil

		if len(working) == 0 {
			select {
			case e := <-p.newJobs:
				entry := e
				working = append(working, &entry)
				continue
			case <-p.quit:
				return
			}
		}

		const fixed = 3 // newJobs, wake, quit
		cases := make([]reflect.SelectCase, 0, fixed+len(working)+1)
		cases = append(cases,
			reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.newJobs)},
			reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.wake)},
			reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.quit)},
		)
		for _, e := range working {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(e.chunks)})
		}
		timeoutIdx := len(cases)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(time.After(pollTimeout))})

		chosen, recv, ok := reflect.Select(cases)
		switch {
		case chosen == 0: // newJobs
			if ok {
				e := recv.Interface().(pumpEntry)
				entry := e
				working = append(working, &entry)
			}
		case chosen == 1: // wake
			// Nothing to do: looping re-evaluates readiness immediately.
		case chosen == 2: // quit
			return
		case chosen == timeoutIdx:
			// 250ms elapsed with nothing ready; loop and poll again.
		default:
			idx := chosen - fixed
			e := working[idx]
			if !ok {
				// EOF or read error: mark for pruning next iteration.
				drained = append(drained, idx)
				continue
			}
			chunk := recv.Interface().([]byte)
			e.job.appendErrors(chunk)
		}
	}
}
