package shardqueue

import "context"

// Job is a unit of work executed by a ShardExecutor.
type Job interface {
	Run(ctx context.Context) error
}

// Completer is implemented by jobs that want their final outcome: nil on
// success, the last error after retries, or the context error when the job
// was skipped. Complete is called exactly once per accepted job.
type Completer interface {
	Complete(err error)
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context) error

// Run implements Job for JobFunc.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }
