package rpc

import "time"

// JobStatus is the wire representation of a *job.Job snapshot. It is a
// plain struct rather than a generated protobuf message — see codec.go.
type JobStatus struct {
	ID        string
	Kind      string
	Cmd       string
	StartTime time.Time
	Running   bool
	ExitCode  int
	Killed    bool
	Cancelled bool
}

// ListRequest asks for every tracked job.
type ListRequest struct{}

// ListResponse carries a snapshot of every tracked job.
type ListResponse struct {
	Jobs []JobStatus
}

// StatusRequest asks for one job by ID.
type StatusRequest struct {
	JobID string
}

// StatusResponse carries one job's snapshot.
type StatusResponse struct {
	Status JobStatus
}

// RunRequest asks the server to launch a command job.
type RunRequest struct {
	Cmd          string
	Dir          string
	KeepInFG     bool
	SkipErrors   bool
	MergeStreams bool
}

// RunResponse carries the new job's ID.
type RunResponse struct {
	JobID string
}

// StopRequest asks the server to cancel or terminate a job.
type StopRequest struct {
	JobID string
	// Hard selects Terminate over Cancel.
	Hard bool
}

// StopResponse is empty; its presence keeps the RPC's request/response
// shape uniform with the rest of the service.
type StopResponse struct{}

// LogsRequest asks to stream a job's accumulated and future stderr.
type LogsRequest struct {
	JobID string
}

// LogsChunk is one frame of a StreamErrors response.
type LogsChunk struct {
	Data []byte
	// EOF is set on the final chunk, sent once the job is no longer
	// erroring and no further chunks will follow.
	EOF bool
}
