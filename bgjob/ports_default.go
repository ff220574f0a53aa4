package bgjob

import (
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vifm/bgjob/job"
)

// DefaultShellConfig builds argv from $SHELL (or "/bin/sh" if unset) on POSIX,
// and %COMSPEC% (or "cmd.exe") on Windows, the way vifm's cfg.shell /
// cfg.shell_flag configuration does (original_source/src/background.c).
type DefaultShellConfig struct{}

func (DefaultShellConfig) BuildArgv(cmdLine string) (string, []string) {
	if runtime.GOOS == "windows" {
		shell := os.Getenv("COMSPEC")
		if shell == "" {
			shell = "cmd.exe"
		}
		return shell, []string{"/c", cmdLine}
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return shell, []string{"-c", cmdLine}
}

// LoggingErrorDialog writes accumulated stderr text through a zap logger
// instead of popping a modal, and silences further prompts for a job once
// asked to (mirroring the UI's "dismiss and silence" button).
type LoggingErrorDialog struct {
	logger *zap.Logger
}

func NewLoggingErrorDialog(logger *zap.Logger) *LoggingErrorDialog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingErrorDialog{logger: logger}
}

func (d *LoggingErrorDialog) Prompt(title, body string) bool {
	d.logger.Warn("job reported errors",
		zap.String("job", title),
		zap.String("output", strings.TrimRight(body, "\n")),
	)
	return true
}

// MemJobBar is an in-memory stand-in for the status job-bar widget,
// tracking which BGOps are currently displayed.
type MemJobBar struct {
	mu  sync.Mutex
	ops map[*job.BGOp]struct{}
}

func NewMemJobBar() *MemJobBar {
	return &MemJobBar{ops: map[*job.BGOp]struct{}{}}
}

func (b *MemJobBar) Add(op *job.BGOp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops[op] = struct{}{}
}

func (b *MemJobBar) Remove(op *job.BGOp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ops, op)
}

func (b *MemJobBar) Changed(*job.BGOp) {}

// Entries returns a snapshot of the currently displayed operations.
func (b *MemJobBar) Entries() []*job.BGOp {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*job.BGOp, 0, len(b.ops))
	for op := range b.ops {
		out = append(out, op)
	}
	return out
}

// AtomicVariables is a minimal Variables port backed by sync/atomic,
// sufficient for the one variable this subsystem publishes (v:jobcount).
type AtomicVariables struct {
	vals sync.Map // name -> *int64
}

func NewAtomicVariables() *AtomicVariables {
	return &AtomicVariables{}
}

func (v *AtomicVariables) slot(name string) *int64 {
	actual, _ := v.vals.LoadOrStore(name, new(int64))
	return actual.(*int64)
}

func (v *AtomicVariables) SetInt(name string, value int) {
	atomic.StoreInt64(v.slot(name), int64(value))
}

func (v *AtomicVariables) GetInt(name string) int {
	return int(atomic.LoadInt64(v.slot(name)))
}

// NoopRedraw satisfies job.UIRedraw for hosts with no screen to repaint
// (tests, headless daemons).
type NoopRedraw struct{}

func (NoopRedraw) ScheduleRedraw() {}

// DefaultPorts bundles the four default implementations above into a
// job.CheckPorts, for callers that just want something that works.
func DefaultPorts(logger *zap.Logger) (job.CheckPorts, *MemJobBar, *AtomicVariables) {
	bar := NewMemJobBar()
	vars := NewAtomicVariables()
	return job.CheckPorts{
		ErrorDialog: NewLoggingErrorDialog(logger),
		JobBar:      bar,
		Variables:   vars,
		UIRedraw:    NoopRedraw{},
	}, bar, vars
}
