package job

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeErrorDialog struct {
	prompts []string
	suppress bool
}

func (f *fakeErrorDialog) Prompt(title, body string) bool {
	f.prompts = append(f.prompts, title+": "+body)
	return f.suppress
}

type fakeJobBar struct{ removed []*BGOp }

func (*fakeJobBar) Add(*BGOp)               {}
func (f *fakeJobBar) Remove(op *BGOp)       { f.removed = append(f.removed, op) }
func (*fakeJobBar) Changed(*BGOp)           {}

type fakeVariables struct{ values map[string]int }

func (f *fakeVariables) SetInt(name string, value int) {
	if f.values == nil {
		f.values = map[string]int{}
	}
	f.values[name] = value
}
func (f *fakeVariables) GetInt(name string) int { return f.values[name] }

type fakeRedraw struct{ count int }

func (f *fakeRedraw) ScheduleRedraw() { f.count++ }

func TestCheckFreesFinishedJobWithNoRefs(t *testing.T) {
	reg := NewRegistry(nil)
	j := newJob(Command, "true")
	j.running = true
	j.inMenu = true
	reg.Add(j, nil)

	j.finish(0, false)
	reg.Check(CheckPorts{})

	require.Empty(t, reg.Jobs())
}

func TestCheckKeepsJobWithOutstandingRef(t *testing.T) {
	reg := NewRegistry(nil)
	j := newJob(Command, "true")
	j.running = true
	j.Incref()
	reg.Add(j, nil)

	j.finish(0, false)
	reg.Check(CheckPorts{})

	require.Len(t, reg.Jobs(), 1, "a job with useCount > 0 must survive finish")

	j.Decref()
	reg.Check(CheckPorts{})
	require.Empty(t, reg.Jobs())
}

func TestCheckRunsExitCallbackExactlyOnce(t *testing.T) {
	reg := NewRegistry(nil)
	j := newJob(Command, "true")
	j.running = true

	calls := 0
	j.Incref() // keep it alive across two Check passes
	j.SetExitCb(func(arg any) { calls++ }, nil)
	reg.Add(j, nil)

	j.finish(0, false)
	reg.Check(CheckPorts{})
	reg.Check(CheckPorts{})

	require.Equal(t, 1, calls)

	j.Decref()
}

func TestCheckDrainsErrorsToDialogUnlessSkipped(t *testing.T) {
	reg := NewRegistry(nil)
	j := newJob(Command, "noisy")
	j.running = true
	j.appendErrors([]byte("bad thing happened"))
	reg.Add(j, nil)

	dialog := &fakeErrorDialog{}
	reg.Check(CheckPorts{ErrorDialog: dialog})

	require.Len(t, dialog.prompts, 1)
	require.Contains(t, dialog.prompts[0], "bad thing happened")

	j.appendErrors([]byte("more"))
	reg.Check(CheckPorts{ErrorDialog: dialog})
	require.Len(t, dialog.prompts, 2)
}

func TestCheckStickySkipErrors(t *testing.T) {
	reg := NewRegistry(nil)
	j := newJob(Command, "noisy")
	j.running = true
	j.appendErrors([]byte("first"))
	reg.Add(j, nil)

	dialog := &fakeErrorDialog{suppress: true}
	reg.Check(CheckPorts{ErrorDialog: dialog})
	require.Len(t, dialog.prompts, 1)
	require.True(t, j.skipErrors)

	j.appendErrors([]byte("second"))
	reg.Check(CheckPorts{ErrorDialog: dialog})
	require.Len(t, dialog.prompts, 1, "skip_errors must stay sticky for the job's lifetime")
}

func TestCheckPublishesActiveJobCountOnChange(t *testing.T) {
	reg := NewRegistry(nil)
	j := newJob(Command, "sleep 5")
	j.running = true
	j.inMenu = true
	reg.Add(j, nil)

	vars := &fakeVariables{}
	redraw := &fakeRedraw{}
	reg.Check(CheckPorts{Variables: vars, UIRedraw: redraw})
	require.Equal(t, 1, vars.GetInt("jobcount"))
	require.Equal(t, 1, redraw.count)

	// no change: redraw must not fire again.
	reg.Check(CheckPorts{Variables: vars, UIRedraw: redraw})
	require.Equal(t, 1, redraw.count)

	j.finish(0, false)
	reg.Check(CheckPorts{Variables: vars, UIRedraw: redraw})
	require.Equal(t, 0, vars.GetInt("jobcount"))
	require.Equal(t, 2, redraw.count)
}

func TestCheckRemovesFromJobBarOnce(t *testing.T) {
	reg := NewRegistry(nil)
	j := newJob(Operation, "")
	j.running = true
	j.onJobBar = true
	j.bgOp = newBGOp(nil)
	reg.Add(j, nil)

	bar := &fakeJobBar{}
	j.finish(0, false)
	reg.Check(CheckPorts{JobBar: bar})
	reg.Check(CheckPorts{JobBar: bar})

	require.Len(t, bar.removed, 1)
}

func TestHasActiveJobsRespectsImportantOnly(t *testing.T) {
	reg := NewRegistry(nil)
	task := newJob(Task, "")
	task.running = true
	task.inMenu = true
	reg.Add(task, nil)

	require.True(t, reg.HasActiveJobs(false))
	require.False(t, reg.HasActiveJobs(true), "a plain Task must not count as an important job")

	op := newJob(Operation, "")
	op.running = true
	op.inMenu = true
	reg.Add(op, nil)

	require.True(t, reg.HasActiveJobs(true))
}
