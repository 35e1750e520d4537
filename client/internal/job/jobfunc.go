// Package job adapts closures to the shard executor's Job and Completer
// interfaces.
package job

import (
	"context"
	"errors"
	"fmt"
)

// ErrNilJobFunc is returned when a Func has no run closure.
var ErrNilJobFunc = errors.New("nil JobFunc")

// Func runs a closure and optionally reports the executor's final outcome.
type Func struct {
	run  func(context.Context) error
	done func(error)
}

// New creates a job from a closure.
func New(run func(context.Context) error) Func {
	return Func{run: run}
}

// OnComplete returns a copy of f that calls done with the final outcome.
func (f Func) OnComplete(done func(error)) Func {
	f.done = done
	return f
}

func (f Func) Run(ctx context.Context) error {
	if f.run == nil {
		return fmt.Errorf("jobfunc: %w", ErrNilJobFunc)
	}
	return f.run(ctx)
}

// Complete implements shardqueue.Completer.
func (f Func) Complete(err error) {
	if f.done != nil {
		f.done(err)
	}
}
