package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a thin hand-written stub over a *grpc.ClientConn, the
// client-side equivalent of service.go's hand-built ServiceDesc: no
// generated _grpc.pb.go client exists, so each method calls cc.Invoke or
// cc.NewStream directly with the method path grpc-go's codegen would have
// used.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Callers are expected to
// have dialed with grpc.WithDefaultCallOptions(grpc.CallContentSubtype(
// jsonCodecName)) (see DialOptions) so the registered JSON codec is
// selected for every call on cc.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

// DialOptions returns the dial options a caller must pass to grpc.Dial (or
// grpc.NewClient) for this package's RPCs to (de)serialize correctly.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	}
}

func (c *Client) List(ctx context.Context, req *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/List", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context, req *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Status", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Run(ctx context.Context, req *RunRequest, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Run", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Stop(ctx context.Context, req *StopRequest, opts ...grpc.CallOption) (*StopResponse, error) {
	out := new(StopResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Stop", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// JobInspector_StreamErrorsClient is the client-side handle for the
// StreamErrors RPC.
type JobInspector_StreamErrorsClient interface {
	Recv() (*LogsChunk, error)
	grpc.ClientStream
}

type jobInspectorStreamErrorsClient struct {
	grpc.ClientStream
}

func (x *jobInspectorStreamErrorsClient) Recv() (*LogsChunk, error) {
	m := new(LogsChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) StreamErrors(ctx context.Context, req *LogsRequest, opts ...grpc.CallOption) (JobInspector_StreamErrorsClient, error) {
	desc := &ServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, "/"+ServiceName+"/StreamErrors", opts...)
	if err != nil {
		return nil, err
	}
	x := &jobInspectorStreamErrorsClient{stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
