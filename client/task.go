package client

import (
	"context"

	"github.com/ncmb/ncmb-go/client/internal/job"
)

// Task is the handle of a background call. Discarding it makes the call
// fire-and-forget. The outcome is delivered to the optional callback and to
// Wait; the InBackground method itself never returns an error.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

func (t *Task[T]) complete(v T, err error) {
	t.val, t.err = v, err
	close(t.done)
}

// Done is closed once the call has finished.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Wait blocks until the call finishes or ctx is done.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err returns the call's error once Done is closed, nil before.
func (t *Task[T]) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// submit runs fn on the executor shard for key. cb, when non-nil, runs on the
// worker goroutine after the Task completes, or on the caller's goroutine when
// the executor refuses the job.
func submit[T any](ctx context.Context, c *Client, key string, fn func(context.Context) (T, error), cb func(T, error)) *Task[T] {
	t := newTask[T]()
	shard := job.ShardLabel(key)
	var val T
	finish := func(err error) {
		if err != nil {
			tasksFailedTotal.WithLabelValues(shard).Inc()
		}
		t.complete(val, err)
		if cb != nil {
			cb(val, err)
		}
	}

	j := job.New(func(ctx context.Context) error {
		v, err := fn(ctx)
		val = v
		return err
	}).OnComplete(finish)

	if err := c.exec.Submit(ctx, key, j); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("background task rejected")
		finish(err)
		return t
	}
	tasksSubmittedTotal.WithLabelValues(shard).Inc()
	return t
}

// submitErr adapts an error-only call to submit.
func submitErr(ctx context.Context, c *Client, key string, fn func(context.Context) error, cb func(error)) *Task[struct{}] {
	var wrapped func(struct{}, error)
	if cb != nil {
		wrapped = func(_ struct{}, err error) { cb(err) }
	}
	return submit(ctx, c, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, wrapped)
}
