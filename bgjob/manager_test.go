package bgjob

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vifm/bgjob/job"
)

type fakeErrorDialog struct {
	prompts  []string
	suppress bool
}

func (f *fakeErrorDialog) Prompt(title, body string) bool {
	f.prompts = append(f.prompts, title+": "+body)
	return f.suppress
}

func TestRunExternalJobCheckCycleFreesJob(t *testing.T) {
	mgr := New(DefaultShellConfig{}, job.CheckPorts{}, nil)
	defer mgr.Close()

	j, err := mgr.RunExternalJob("exit 0", RunExternalJobOptions{})
	require.NoError(t, err)

	require.Equal(t, 0, j.Wait())
	j.Decref()

	require.Eventually(t, func() bool {
		mgr.Check()
		return len(mgr.Jobs()) == 0
	}, time.Second, time.Millisecond, "Check must free a finished job with no outstanding references")
}

func TestAndWaitForErrorsReportsFullOutputExactlyOnce(t *testing.T) {
	dialog := &fakeErrorDialog{}
	mgr := New(DefaultShellConfig{}, job.CheckPorts{ErrorDialog: dialog}, nil)
	defer mgr.Close()

	// Writes a burst of stderr immediately before exiting non-zero, the
	// scenario that used to race AndWaitForErrors's read against the error
	// pump's final append.
	const cmd = `i=0; while [ $i -lt 500 ]; do echo "line$i"; i=$((i+1)); done 1>&2; exit 7`
	code := mgr.AndWaitForErrors(context.Background(), cmd, nil)
	require.Equal(t, 7, code)

	require.Len(t, dialog.prompts, 1, "AndWaitForErrors must report errors exactly once")
	require.Contains(t, dialog.prompts[0], "line0")
	require.Contains(t, dialog.prompts[0], "line499", "the prompt must include the last chunk the child wrote before exiting")

	// A later reconciler pass must not find leftover bytes and prompt a
	// second time for the same job.
	for i := 0; i < 5; i++ {
		mgr.Check()
	}
	require.Len(t, dialog.prompts, 1, "Check must not re-report errors AndWaitForErrors already drained")
}

func TestAndWaitForErrorsSkipsReportOnSuccess(t *testing.T) {
	dialog := &fakeErrorDialog{}
	mgr := New(DefaultShellConfig{}, job.CheckPorts{ErrorDialog: dialog}, nil)
	defer mgr.Close()

	code := mgr.AndWaitForErrors(context.Background(), "exit 0", nil)
	require.Equal(t, 0, code)
	require.Empty(t, dialog.prompts)
}

func TestRunAndCaptureRoundTripsStdinStdoutStderr(t *testing.T) {
	mgr := New(DefaultShellConfig{}, job.CheckPorts{}, nil)
	defer mgr.Close()

	stdin := strings.NewReader("hello from the caller\n")
	var stdout, stderr bytes.Buffer

	code, err := mgr.RunAndCapture(`cat; echo done 1>&2`, false, stdin, &stdout, &stderr)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Equal(t, "hello from the caller\n", stdout.String())
	require.Equal(t, "done\n", stderr.String())
}

func TestRunAndCaptureWithNilStreams(t *testing.T) {
	mgr := New(DefaultShellConfig{}, job.CheckPorts{}, nil)
	defer mgr.Close()

	code, err := mgr.RunAndCapture("exit 3", false, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, code)
}
