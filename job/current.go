package job

import "context"

// currentJobKey is the context key under which the worker runner stores
// the job it is running. Go goroutines have no thread-local storage, so
// the job a worker closure is running is threaded explicitly through
// context.Context instead of simulated TLS.
type currentJobKey struct{}

// WithCurrentJob returns a context that carries j as the active job, so
// code running inside a worker closure can recover it with CurrentJob.
// bgjob.Manager.AndWaitForErrors does not consult it: its stderr goes to
// the error-dialog port even when it is called from within a worker.
func WithCurrentJob(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, currentJobKey{}, j)
}

// CurrentJob recovers the job stored by WithCurrentJob, if any.
func CurrentJob(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(currentJobKey{}).(*Job)
	return j, ok
}

// requestUserKey is the context key under which an authenticated caller
// identity (e.g. a client cert's CN, extracted by cli.CNToUser) is carried
// from a gRPC server interceptor down into whatever logs or attributes the
// request.
type requestUserKey struct{}

// AddUserToContext returns a context that carries user as the identity of
// whoever made the current request.
func AddUserToContext(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, requestUserKey{}, user)
}

// UserFromContext recovers the identity stored by AddUserToContext, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(requestUserKey{}).(string)
	return user, ok
}
