package cli

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/vifm/bgjob/bgjob"
	"github.com/vifm/bgjob/rpc"
)

// CmdServe is the `vifmjobs serve` subcommand: run a headless daemon that
// owns a bgjob.Manager and exposes it over the rpc.JobInspector gRPC
// service.
type CmdServe struct {
	Listen string        `short:"l" default:":8443" help:"listen address"`
	Tick   time.Duration `default:"250ms" help:"reconciler tick interval"`

	TLSCert string `name:"tls-cert" help:"TLS server cert (omit for plaintext)"`
	TLSKey  string `name:"tls-key" help:"TLS server key"`
	CACert  string `name:"ca-cert" help:"CA for authenticating clients"`
}

func (cmd *CmdServe) Run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	l, err := net.Listen("tcp", cmd.Listen)
	if err != nil {
		return err
	}

	creds, err := (TLSFiles{cmd.TLSCert, cmd.TLSKey, cmd.CACert}).Creds()
	if err != nil {
		return err
	}

	interceptors := []grpc.UnaryServerInterceptor{grpc_zap.UnaryServerInterceptor(logger)}
	if cmd.CACert != "" {
		// Only a server configured for mTLS (a CA to verify client certs
		// against) can resolve a caller's identity; a plaintext or
		// server-only-TLS listener has no client cert to read a CN from.
		interceptors = append([]grpc.UnaryServerInterceptor{authInterceptor}, interceptors...)
	}

	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(interceptors...)),
	)

	ports, _, _ := bgjob.DefaultPorts(logger)
	mgr := bgjob.New(bgjob.DefaultShellConfig{}, ports, logger)
	defer mgr.Close()

	submit := make(chan rpc.SubmittedRun)
	svc := rpc.NewService(mgr, submit, logger)
	rpc.RegisterJobInspectorServer(grpcServer, svc)
	reflection.Register(grpcServer)

	// The control goroutine (reconciler ticks + submission pump), the gRPC
	// server, the SIGINT/SIGTERM watcher, and their shared shutdown are
	// coordinated under one errgroup: whichever one exits first cancels the
	// group's context and stops the others.
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		runControlLoop(ctx, mgr, submit, cmd.Tick)
		return nil
	})
	g.Go(func() error {
		return waitForShutdownSignal(ctx, logger)
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcServer.GracefulStop()
		return nil
	})
	g.Go(func() error {
		logger.Info("serving", zap.String("addr", cmd.Listen))
		// grpcServer takes ownership of l.
		return grpcServer.Serve(l)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errShuttingDown) {
		return err
	}
	return nil
}

// waitForShutdownSignal blocks until ctx is cancelled by a sibling
// goroutine or the process receives SIGINT/SIGTERM, in which case it
// returns an error so the errgroup unwinds the rest of the daemon.
// SIGCHLD is deliberately not handled here: os/exec already reaps each
// child via its own internal wait goroutine, so a control-goroutine
// SIGCHLD handler would either race that reap or never see anything to
// act on.
func waitForShutdownSignal(ctx context.Context, logger *zap.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("caught signal, shutting down", zap.String("signal", sig.String()))
		return errShuttingDown
	case <-ctx.Done():
		return nil
	}
}

// errShuttingDown is returned by waitForShutdownSignal to give the
// errgroup a non-nil reason to cancel its context; CmdServe.Run doesn't
// treat it as a failure.
var errShuttingDown = errors.New("received shutdown signal")

// authInterceptor resolves the calling client's certificate CN via
// CNToUser and attaches it to the request context before the handler (and
// the logging interceptor chained after it) ever see the request, so every
// log line and RPC can attribute itself to an authenticated caller.
func authInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	authed, err := CNToUser(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "%v", err)
	}
	return handler(authed, req)
}

// runControlLoop is the subsystem's single control goroutine: it alone
// calls Manager.Check (the reconciler) and rpc.PumpSubmissions (which in
// turn calls job.LaunchCommand via RunExternalJob), on a fixed tick, the
// same way a file manager's own background-job check would be driven from
// its single main-thread timer.
func runControlLoop(ctx context.Context, mgr *bgjob.Manager, submit <-chan rpc.SubmittedRun, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rpc.PumpSubmissions(mgr, submit)
			mgr.Check()
		}
	}
}
