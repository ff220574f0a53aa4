package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vifm/bgjob/bgjob"
	"github.com/vifm/bgjob/job"
)

// ServiceName is the gRPC service path this package registers under.
const ServiceName = "bgjob.JobInspector"

// JobInspectorServer is implemented by Service below; it exists mainly so
// tests can substitute a fake without a *bgjob.Manager.
type JobInspectorServer interface {
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
	Run(ctx context.Context, req *RunRequest) (*RunResponse, error)
	Stop(ctx context.Context, req *StopRequest) (*StopResponse, error)
	StreamErrors(req *LogsRequest, stream JobInspector_StreamErrorsServer) error
}

// JobInspector_StreamErrorsServer is the server-side handle for the
// StreamErrors RPC, matching the shape protoc-gen-go-grpc would emit for a
// server-streaming method.
type JobInspector_StreamErrorsServer interface {
	Send(*LogsChunk) error
	grpc.ServerStream
}

// Service implements JobInspectorServer on top of a *bgjob.Manager. Every
// method here runs on a gRPC handler goroutine, not the host's control
// goroutine, so it may only call the subset of Manager/job methods
// documented as safe from any goroutine: Jobs, Find, the per-job
// accessors, Cancel/Terminate/Incref/Decref. It must never call Check,
// Execute, RunExternal* or AndWaitForErrors directly; those are funnelled
// through the submit channel the daemon's control goroutine drains (see
// cli's serve command).
type Service struct {
	mgr    *bgjob.Manager
	submit chan<- SubmittedRun
	logger *zap.Logger
}

// SubmittedRun is a RunRequest plus the channel its result is delivered on,
// handed to the control goroutine so that job.LaunchCommand (which must
// only ever be called from the single control goroutine) is never invoked
// directly from a gRPC handler goroutine.
type SubmittedRun struct {
	Req    *RunRequest
	Result chan<- RunResult
}

// RunResult is the outcome of a SubmittedRun, delivered back to the
// waiting gRPC handler goroutine.
type RunResult struct {
	Job *job.Job
	Err error
}

// NewService builds a Service. submit is the control goroutine's intake
// for RunRequests; the daemon's serve loop must drain it with
// PumpSubmissions on every tick. logger may be nil.
func NewService(mgr *bgjob.Manager, submit chan<- SubmittedRun, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{mgr: mgr, submit: submit, logger: logger}
}

// requestUser returns the identity an auth interceptor (cli.authInterceptor)
// attached to ctx, or "anonymous" when the server isn't running with mTLS
// client-cert auth.
func requestUser(ctx context.Context) string {
	if user, ok := job.UserFromContext(ctx); ok {
		return user
	}
	return "anonymous"
}

// PumpSubmissions drains every RunRequest currently queued on submit and
// launches it via mgr, delivering the result back on each request's
// Result channel. The daemon's control goroutine calls this once per
// tick, right alongside Manager.Check, so that the only goroutine ever
// calling job.LaunchCommand (through RunExternalJob) is the control
// goroutine.
func PumpSubmissions(mgr *bgjob.Manager, submit <-chan SubmittedRun) {
	for {
		select {
		case s := <-submit:
			j, err := mgr.RunExternalJob(s.Req.Cmd, bgjob.RunExternalJobOptions{
				Dir:          s.Req.Dir,
				KeepInFG:     s.Req.KeepInFG,
				SkipErrors:   s.Req.SkipErrors,
				MergeStreams: s.Req.MergeStreams,
				Requester:    job.ByUser,
			})
			s.Result <- RunResult{Job: j, Err: err}
		default:
			return
		}
	}
}

func toStatus(j *job.Job) JobStatus {
	return JobStatus{
		ID:        j.ID.String(),
		Kind:      j.Kind.String(),
		Cmd:       j.Cmd,
		StartTime: j.StartTime(),
		Running:   j.IsRunning(),
		ExitCode:  j.ExitCode(),
		Killed:    j.WasKilled(),
		Cancelled: j.Cancelled(),
	}
}

func (s *Service) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	jobs := s.mgr.Jobs()
	resp := &ListResponse{Jobs: make([]JobStatus, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toStatus(j))
	}
	return resp, nil
}

func (s *Service) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	j, ok := s.mgr.Find(req.JobID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "job %s not found", req.JobID)
	}
	return &StatusResponse{Status: toStatus(j)}, nil
}

func (s *Service) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	s.logger.Info("run", zap.String("user", requestUser(ctx)), zap.String("cmd", req.Cmd))
	result := make(chan RunResult, 1)
	select {
	case s.submit <- SubmittedRun{Req: req, Result: result}:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	select {
	case r := <-result:
		if r.Err != nil {
			return nil, status.Errorf(codes.Internal, "run: %v", r.Err)
		}
		return &RunResponse{JobID: r.Job.ID.String()}, nil
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

func (s *Service) Stop(ctx context.Context, req *StopRequest) (*StopResponse, error) {
	s.logger.Info("stop", zap.String("user", requestUser(ctx)), zap.String("job_id", req.JobID), zap.Bool("hard", req.Hard))
	j, ok := s.mgr.Find(req.JobID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "job %s not found", req.JobID)
	}
	if req.Hard {
		if err := j.Terminate(); err != nil {
			return nil, status.Errorf(codes.Internal, "terminate: %v", err)
		}
		return &StopResponse{}, nil
	}
	j.Cancel()
	return &StopResponse{}, nil
}

// StreamErrors streams a job's accumulated stderr, then polls for more
// until the job finishes, closing with a final EOF chunk. The error pump
// owns the authoritative per-chunk stream internally (job.StartErrStream);
// this RPC instead polls Job.Errors(), the only thread-safe view exposed
// outside package job, trading a little latency for not reaching past the
// job package's lock boundaries.
func (s *Service) StreamErrors(req *LogsRequest, stream JobInspector_StreamErrorsServer) error {
	j, ok := s.mgr.Find(req.JobID)
	if !ok {
		return status.Errorf(codes.NotFound, "job %s not found", req.JobID)
	}

	const pollInterval = 100 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var sent int
	for {
		finished := !j.IsRunning()
		if finished {
			// The pump may still append the child's last chunk(s) after exit.
			j.WaitErrors()
		}
		errs := j.Errors()
		if len(errs) > sent {
			if err := stream.Send(&LogsChunk{Data: errs[sent:]}); err != nil {
				return err
			}
			sent = len(errs)
		}
		if finished {
			return stream.Send(&LogsChunk{EOF: true})
		}
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
		}
	}
}

func _JobInspector_List_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobInspectorServer).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/List"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobInspectorServer).List(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _JobInspector_Status_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobInspectorServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobInspectorServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _JobInspector_Run_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobInspectorServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Run"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobInspectorServer).Run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _JobInspector_Stop_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StopRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobInspectorServer).Stop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Stop"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobInspectorServer).Stop(ctx, req.(*StopRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type jobInspectorStreamErrorsServer struct {
	grpc.ServerStream
}

func (x *jobInspectorStreamErrorsServer) Send(m *LogsChunk) error {
	return x.ServerStream.SendMsg(m)
}

func _JobInspector_StreamErrors_Handler(srv any, stream grpc.ServerStream) error {
	in := new(LogsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(JobInspectorServer).StreamErrors(in, &jobInspectorStreamErrorsServer{stream})
}

// ServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit into a _grpc.pb.go file. See codec.go for why it is
// hand-authored rather than generated.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobInspectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: _JobInspector_List_Handler},
		{MethodName: "Status", Handler: _JobInspector_Status_Handler},
		{MethodName: "Run", Handler: _JobInspector_Run_Handler},
		{MethodName: "Stop", Handler: _JobInspector_Stop_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamErrors",
			Handler:       _JobInspector_StreamErrors_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "bgjob/rpc/service.go",
}

// RegisterJobInspectorServer registers srv on s using ServiceDesc.
func RegisterJobInspectorServer(s *grpc.Server, srv JobInspectorServer) {
	s.RegisterService(&ServiceDesc, srv)
}
