package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartWorkerSuccess(t *testing.T) {
	j := StartWorker("do-thing", "Doing thing", 10, false, func(ctx context.Context, bg *BGOp, args any) error {
		bg.SetProgress(10, 10)
		return nil
	}, nil, nil)

	require.Equal(t, Task, j.Kind)
	require.Equal(t, 0, j.Wait())
	require.Equal(t, 10, j.BGOp().Snapshot().Done)
}

func TestStartWorkerErrorMapsToExitCode1(t *testing.T) {
	j := StartWorker("fail-thing", "", 0, false, func(ctx context.Context, bg *BGOp, args any) error {
		return errors.New("boom")
	}, nil, nil)

	require.Equal(t, 1, j.Wait())
}

func TestStartWorkerPanicMapsToExitCode1(t *testing.T) {
	j := StartWorker("panic-thing", "", 0, false, func(ctx context.Context, bg *BGOp, args any) error {
		panic("unreachable state")
	}, nil, nil)

	require.Equal(t, 1, j.Wait())
	require.False(t, j.IsRunning())
}

func TestStartWorkerImportantGoesOnJobBar(t *testing.T) {
	bar := NewTestJobBar()
	j := StartWorker("op-thing", "Important op", 1, true, func(ctx context.Context, bg *BGOp, args any) error {
		return nil
	}, nil, bar)

	require.Equal(t, Operation, j.Kind)
	require.Len(t, bar.Entries(), 1)
	j.Wait()
}

func TestWorkerSeesItselfAsCurrentJob(t *testing.T) {
	seen := make(chan bool, 1)
	j := StartWorker("introspect", "", 0, false, func(ctx context.Context, bg *BGOp, args any) error {
		cur, ok := CurrentJob(ctx)
		seen <- ok && cur.Cmd == "introspect"
		return nil
	}, nil, nil)

	require.True(t, <-seen)
	j.Wait()
}

// testJobBar is a minimal JobBar for tests in this package that cannot
// import package bgjob (which itself imports package job).
type testJobBar struct{ ops []*BGOp }

func NewTestJobBar() *testJobBar { return &testJobBar{} }

func (b *testJobBar) Add(op *BGOp)     { b.ops = append(b.ops, op) }
func (b *testJobBar) Remove(op *BGOp)  {}
func (b *testJobBar) Changed(op *BGOp) {}
func (b *testJobBar) Entries() []*BGOp { return b.ops }
