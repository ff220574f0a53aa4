package job

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorPumpDrainsAndClearsErroring(t *testing.T) {
	pump := NewErrorPump(nil)
	go pump.Run()
	defer pump.Stop()

	j := newJob(Command, "noisy")
	j.markErroring(true)

	chunks := StartErrStream(strings.NewReader("oh no\nit broke\n"))
	pump.handoff(j, chunks)

	require.Eventually(t, func() bool {
		return string(j.Errors()) == "oh no\nit broke\n"
	}, time.Second, time.Millisecond)

	require.True(t, j.WaitErrors(), "pump must clear erroring once the stream hits EOF")
}

func TestErrorPumpMultiplexesSeveralJobs(t *testing.T) {
	pump := NewErrorPump(nil)
	go pump.Run()
	defer pump.Stop()

	jobs := make([]*Job, 3)
	for i := range jobs {
		jobs[i] = newJob(Command, "noisy")
		jobs[i].markErroring(true)
		pump.handoff(jobs[i], StartErrStream(strings.NewReader("boom\n")))
	}

	for _, j := range jobs {
		require.Eventually(t, func() bool {
			return string(j.Errors()) == "boom\n"
		}, time.Second, time.Millisecond)
	}
}

func TestStartErrStreamClosesOnEOF(t *testing.T) {
	r, w := io.Pipe()
	ch := StartErrStream(r)

	go func() {
		_, _ = w.Write([]byte("hi"))
		_ = w.Close()
	}()

	chunk, ok := <-ch
	require.True(t, ok)
	require.Equal(t, "hi", string(chunk))

	_, ok = <-ch
	require.False(t, ok, "channel must close once the reader hits EOF")
}
