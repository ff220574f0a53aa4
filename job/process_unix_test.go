//go:build !windows

package job

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// posixShell is the minimal ShellConfig a test needs: hand off the whole
// command line to /bin/sh -c, the same contract bgjob.DefaultShellConfig
// provides in production.
type posixShell struct{}

func (posixShell) BuildArgv(cmdLine string) (string, []string) {
	return "/bin/sh", []string{"-c", cmdLine}
}

func TestSpawnExitCode(t *testing.T) {
	h, _, _, errStream, err := Spawn("exit 7", SpawnOptions{Shell: posixShell{}})
	require.NoError(t, err)
	if errStream != nil {
		go io.Copy(io.Discard, errStream) //nolint:errcheck
	}

	code, killed := h.Wait()
	require.Equal(t, 7, code)
	require.False(t, killed)
}

func TestSpawnCaptureOut(t *testing.T) {
	h, _, output, errStream, err := Spawn("echo hello", SpawnOptions{
		Shell: posixShell{},
		Flags: CaptureOut,
	})
	require.NoError(t, err)
	require.NotNil(t, output)
	if errStream != nil {
		go io.Copy(io.Discard, errStream) //nolint:errcheck
	}

	out, err := io.ReadAll(output)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(out))

	code, _ := h.Wait()
	require.Equal(t, 0, code)
}

func TestSpawnMergeStreams(t *testing.T) {
	h, _, output, errStream, err := Spawn("echo out; echo err 1>&2", SpawnOptions{
		Shell: posixShell{},
		Flags: CaptureOut | MergeStreams,
	})
	require.NoError(t, err)
	require.Nil(t, errStream, "MergeStreams gives no separate errStream")

	out, err := io.ReadAll(output)
	require.NoError(t, err)
	require.Contains(t, string(out), "out\n")
	require.Contains(t, string(out), "err\n")

	h.Wait()
}

func TestSpawnSupplyInput(t *testing.T) {
	h, input, output, errStream, err := Spawn("cat", SpawnOptions{
		Shell: posixShell{},
		Flags: SupplyInput | CaptureOut,
	})
	require.NoError(t, err)
	if errStream != nil {
		go io.Copy(io.Discard, errStream) //nolint:errcheck
	}

	_, err = input.Write([]byte("round trip\n"))
	require.NoError(t, err)
	require.NoError(t, input.Close())

	out, err := io.ReadAll(output)
	require.NoError(t, err)
	require.Equal(t, "round trip\n", string(out))

	h.Wait()
}

func TestSpawnBadDir(t *testing.T) {
	_, _, _, _, err := Spawn("true", SpawnOptions{
		Shell: posixShell{},
		Dir:   "/no/such/directory",
	})
	require.ErrorIs(t, err, ErrBadDir)
}

func TestSpawnCancelThenTerminate(t *testing.T) {
	h, _, _, errStream, err := Spawn("trap '' INT; sleep 5", SpawnOptions{Shell: posixShell{}})
	require.NoError(t, err)
	if errStream != nil {
		go io.Copy(io.Discard, errStream) //nolint:errcheck
	}

	require.NoError(t, h.Cancel())

	done := make(chan struct{})
	go func() { h.Wait(); close(done) }()

	select {
	case <-done:
		t.Fatal("process exited on SIGINT despite trapping it")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, h.Terminate())
	<-done
}
