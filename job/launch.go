package job

// CommandSpec describes a COMMAND job to launch via LaunchCommand.
type CommandSpec struct {
	Cmd        string
	Dir        string
	Flags      SpawnFlags
	Requester  Requester
	SkipErrors bool
	InMenu     bool
}

// LaunchCommand implements the COMMAND half of the public API on top of
// Spawn: it spawns the child, builds its Job record, links it into reg
// (handing its error stream to reg's pump), and starts the reap goroutine
// that calls Job.finish once the child exits.
//
// The reap goroutine is this module's Go-idiomatic way of reaping
// children: rather than have the control goroutine poll non-blockingly on
// every tick, one goroutine per COMMAND job blocks on the child's exit
// and reports back as soon as the OS reports it. The reconciler still
// owns everything downstream of that — draining errors, running the exit
// callback once, and freeing the job — so only the control goroutine ever
// mutates the registry.
func LaunchCommand(reg *Registry, shell ShellConfig, spec CommandSpec) (*Job, error) {
	opts := SpawnOptions{Dir: spec.Dir, Flags: spec.Flags, Requester: spec.Requester, Shell: shell}
	proc, input, output, errStream, err := Spawn(spec.Cmd, opts)
	if err != nil {
		return nil, err
	}

	j := newJob(Command, spec.Cmd)
	j.running = true
	j.requester = spec.Requester
	j.proc = proc
	j.input = input
	j.output = output
	j.errStream = errStream
	j.skipErrors = spec.SkipErrors
	j.inMenu = spec.InMenu
	j.pid = proc.PID()

	var chunks <-chan []byte
	if errStream != nil {
		chunks = StartErrStream(errStream)
	}
	reg.Add(j, chunks)

	go func() {
		exitCode, killed := proc.Wait()
		j.finish(exitCode, killed)
	}()

	return j, nil
}

// PID returns the OS process id of the handle's child, or the noPID
// sentinel if there is none.
func (h *ProcHandle) PID() int {
	if h.proc == nil {
		return noPID
	}
	return h.proc.Pid
}
