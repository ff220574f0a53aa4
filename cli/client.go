package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc"

	"github.com/vifm/bgjob/rpc"
)

// clientCmd is embedded in every client-facing kong subcommand and
// provides the connection flags and helpers common to all of them.
type clientCmd struct {
	Address string `short:"A" default:"localhost:8443" env:"VIFMJOBS_SERVER" help:"address of vifmjobs server"`

	TLSCert string `name:"tls-cert" help:"TLS client cert (omit for plaintext)"`
	TLSKey  string `name:"tls-key" help:"TLS client key"`
	CACert  string `name:"ca-cert" help:"CA for authenticating server"`

	conn   *grpc.ClientConn
	output io.Writer
}

func (c *clientCmd) connect() (*rpc.Client, error) {
	creds, err := (TLSFiles{c.TLSCert, c.TLSKey, c.CACert}).Creds()
	if err != nil {
		return nil, err
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, rpc.DialOptions()...)
	cc, err := grpc.Dial(c.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot dial %s: %w", c.Address, err)
	}
	c.conn = cc
	return rpc.NewClient(cc), nil
}

func (c *clientCmd) writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

func (c *clientCmd) Close() error {
	return c.conn.Close()
}

// CmdRun is the `vifmjobs run` subcommand: launch a command on the server
// and, unless -d is given, stream its stderr back until it finishes.
type CmdRun struct {
	clientCmd
	Detach       bool   `short:"d" help:"Detach without streaming logs"`
	KeepInFG     bool   `short:"f" help:"Run in the foreground (no session detach)"`
	SkipErrors   bool   `short:"s" help:"Suppress error-dialog prompts for this job"`
	MergeStreams bool   `short:"m" help:"Request stderr merged into captured stdout (run does not capture stdout, so this has no effect)"`
	Dir          string `short:"C" help:"Working directory for the command"`
	Cmd          string `arg:"" help:"Command line to run through the shell"`
}

func (cmd *CmdRun) Run() error {
	cl, err := cmd.connect()
	if err != nil {
		return err
	}
	defer cmd.Close()

	resp, err := cl.Run(context.Background(), &rpc.RunRequest{
		Cmd:          cmd.Cmd,
		Dir:          cmd.Dir,
		KeepInFG:     cmd.KeepInFG,
		SkipErrors:   cmd.SkipErrors,
		MergeStreams: cmd.MergeStreams,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.writer(), "job id:", resp.JobID)

	if cmd.Detach {
		return nil
	}
	return streamLogs(cmd.writer(), cl, resp.JobID)
}

// CmdStop is the `vifmjobs stop` subcommand: cancel (or, with -k,
// terminate) a job.
type CmdStop struct {
	clientCmd
	Kill  bool   `short:"k" help:"Terminate instead of cooperatively cancel"`
	JobID string `arg:"" help:"ID of job to stop"`
}

func (cmd *CmdStop) Run() error {
	cl, err := cmd.connect()
	if err != nil {
		return err
	}
	defer cmd.Close()

	_, err = cl.Stop(context.Background(), &rpc.StopRequest{JobID: cmd.JobID, Hard: cmd.Kill})
	return err
}

// CmdStatus is the `vifmjobs status` subcommand.
type CmdStatus struct {
	clientCmd
	JobID string `arg:"" help:"ID of job to query"`
}

func (cmd *CmdStatus) Run() error {
	cl, err := cmd.connect()
	if err != nil {
		return err
	}
	defer cmd.Close()

	resp, err := cl.Status(context.Background(), &rpc.StatusRequest{JobID: cmd.JobID})
	if err != nil {
		return err
	}
	return printStatus(cmd.writer(), resp.Status)
}

// CmdList is the `vifmjobs list` subcommand.
type CmdList struct {
	clientCmd
}

func (cmd *CmdList) Run() error {
	cl, err := cmd.connect()
	if err != nil {
		return err
	}
	defer cmd.Close()

	resp, err := cl.List(context.Background(), &rpc.ListRequest{})
	if err != nil {
		return err
	}
	return printStatus(cmd.writer(), resp.Jobs...)
}

// CmdLogs is the `vifmjobs logs` subcommand: stream a job's stderr.
type CmdLogs struct {
	clientCmd
	JobID string `arg:"" help:"ID of job to fetch error output from"`
}

func (cmd *CmdLogs) Run() error {
	cl, err := cmd.connect()
	if err != nil {
		return err
	}
	defer cmd.Close()

	return streamLogs(cmd.writer(), cl, cmd.JobID)
}

func printStatus(w io.Writer, statuses ...rpc.JobStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tKIND\tSTART TIME\tSTATE")

	for _, s := range statuses {
		state := "running"
		if !s.Running {
			switch {
			case s.Killed:
				state = "killed"
			case s.Cancelled:
				state = "cancelled"
			default:
				state = fmt.Sprintf("exited (%d)", s.ExitCode)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.StartTime.Format(time.Stamp), state)
	}
	return tw.Flush()
}

func streamLogs(w io.Writer, cl *rpc.Client, jobID string) error {
	stream, err := cl.StreamErrors(context.Background(), &rpc.LogsRequest{JobID: jobID})
	if err != nil {
		return err
	}
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(chunk.Data) > 0 {
			fmt.Fprint(w, string(chunk.Data))
		}
		if chunk.EOF {
			return nil
		}
	}
}
