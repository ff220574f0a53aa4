package job

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobRefcountSurvivesFinish(t *testing.T) {
	j := newJob(Command, "true")
	j.running = true
	j.Incref()

	go j.finish(0, false)
	<-j.done

	require.False(t, j.IsRunning())
	require.Equal(t, 0, j.ExitCode())

	running, useCount, _ := j.snapshotStatus()
	require.False(t, running)
	require.Equal(t, 1, useCount, "refcount must survive finish until Decref")

	j.Decref()
	_, useCount, _ = j.snapshotStatus()
	require.Equal(t, 0, useCount)
}

func TestJobFinishIsIdempotent(t *testing.T) {
	j := newJob(Command, "true")
	j.running = true

	j.finish(3, false)
	require.Equal(t, 3, j.ExitCode())

	// a second finish (e.g. a racing caller) must not panic on a
	// double-close of j.done nor overwrite the first exit code.
	require.NotPanics(t, func() { j.finish(9, true) })
	require.Equal(t, 3, j.ExitCode())
	require.False(t, j.WasKilled())
}

func TestJobWaitBlocksUntilFinish(t *testing.T) {
	j := newJob(Task, "")
	j.running = true

	done := make(chan int, 1)
	go func() { done <- j.Wait() }()

	select {
	case <-done:
		t.Fatal("Wait returned before finish")
	default:
	}

	j.finish(7, false)
	require.Equal(t, 7, <-done)
}

func TestJobCancelIdempotentCommand(t *testing.T) {
	j := newJob(Command, "sleep 1")
	already := j.cancelRequested()
	require.False(t, already)
	already = j.cancelRequested()
	require.True(t, already)
}

func TestJobCancelDelegatesToBGOp(t *testing.T) {
	j := newJob(Operation, "")
	j.bgOp = newBGOp(nil)

	require.False(t, j.Cancelled())
	already := j.Cancel()
	require.False(t, already)
	require.True(t, j.Cancelled())

	already = j.Cancel()
	require.True(t, already)
}

func TestJobErrorsAccumulateAndDrain(t *testing.T) {
	j := newJob(Command, "noisy")

	j.appendErrors([]byte("line one\n"))
	j.appendErrors([]byte("line two\n"))

	require.Equal(t, "line one\nline two\n", string(j.Errors()))

	drained := j.takeNewErrors()
	require.Equal(t, "line one\nline two\n", string(drained))
	require.Empty(t, j.takeNewErrors())
	require.Equal(t, "line one\nline two\n", string(j.Errors()), "full history is not cleared by draining")
}

func TestJobMarkErroringAdjustsUseCount(t *testing.T) {
	j := newJob(Command, "noisy")

	j.markErroring(true)
	_, useCount, erroring := j.snapshotStatus()
	require.True(t, erroring)
	require.Equal(t, 1, useCount)

	j.markErroring(false)
	_, useCount, erroring = j.snapshotStatus()
	require.False(t, erroring)
	require.Equal(t, 0, useCount)
}
