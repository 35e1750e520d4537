// Package shardqueue runs background SDK calls on a fixed set of worker
// goroutines. Jobs are partitioned by a stable hash of their key (the entity
// they act on) so calls against one entity run in submission order while
// unrelated entities proceed in parallel.
//
// Callers must not invoke Submit concurrently for the same key; FIFO ordering
// relies on that external serialisation.
package shardqueue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ncmb/ncmb-go/client/internal/errors"
)

type queuedJob struct {
	ctx context.Context
	job Job
}

// ShardExecutor executes Jobs on worker goroutines partitioned by key.
type ShardExecutor struct {
	cfg    Config
	log    zerolog.Logger
	queues []chan queuedJob // len == cfg.Shards

	done   chan struct{} // closed in Stop()
	closed uint32        // 0 → running, 1 → closed

	wg sync.WaitGroup
}

// NewShardExecutor applies zero-value defaults and starts the shard workers.
func NewShardExecutor(cfg Config) *ShardExecutor {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 20 * time.Second
	}

	p := &ShardExecutor{
		cfg:    cfg,
		log:    log.Logger,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	if cfg.Logger != nil {
		p.log = *cfg.Logger
	}
	p.log = p.log.With().Str("component", "shardqueue").Logger()
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job for the shard derived from key.
//
//   - Returns nil on success.
//   - Returns ErrExecutorClosed if the executor is stopped.
//   - Returns *QueueFullError (errors.Is ErrQueueFull) if the shard is still
//     full after EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled first.
//
// A job that is not accepted is never run and its Completer is not called.
func (p *ShardExecutor) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&p.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	qj := queuedJob{ctx: ctx, job: job}
	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- qj:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil

	case <-p.done:
		return ErrExecutorClosed

	case <-ctx.Done():
		return ctx.Err()

	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{
			Shard:    shard,
			Length:   len(ch),
			Capacity: cap(ch),
		}
	}
}

// Barrier enqueues a no-op on key's shard and waits until it runs, so every
// job submitted earlier for key has finished.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := p.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop lets every worker drain its queue, waits for them, then returns. It is
// idempotent and safe for concurrent use.
func (p *ShardExecutor) Stop() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}
	p.log.Debug().Int("shards", p.cfg.Shards).Msg("stopping executor")
	close(p.done)
	p.wg.Wait()
	p.log.Debug().Msg("executor stopped, all queues drained")
}

// Close lets ShardExecutor satisfy io.Closer.
func (p *ShardExecutor) Close() error {
	p.Stop()
	return nil
}

// ------------------------- internals -------------------------

func (p *ShardExecutor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			if qj.job == nil {
				continue
			}
			p.execute(label, qj)
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-p.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					if qj.job != nil {
						p.finish(label, qj.job, p.runOnce(label, qj))
						drained++
					}
				default:
					if drained > 0 {
						p.log.Debug().Int("worker", idx).Int("jobs", drained).Msg("drained remaining jobs")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

// execute runs one job with the configured retry policy and reports the final
// outcome exactly once.
func (p *ShardExecutor) execute(label string, qj queuedJob) {
	// A cancelled job must not stall the shard.
	if err := qj.ctx.Err(); err != nil {
		p.finish(label, qj.job, err)
		return
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.cfg.MaxInterval
	exp.Reset()

	for attempt := 1; ; attempt++ {
		err := p.runOnce(label, qj)
		if err == nil || errors.IsIrrecoverable(err) || attempt >= p.cfg.MaxAttempts {
			p.finish(label, qj.job, err)
			return
		}

		retriesTotal.WithLabelValues(label).Inc()
		wait := exp.NextBackOff()
		p.log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("retrying job")
		select {
		case <-time.After(wait):
		case <-p.done:
			p.finish(label, qj.job, err)
			return
		case <-qj.ctx.Done():
			p.finish(label, qj.job, qj.ctx.Err())
			return
		}
	}
}

// runOnce converts a panicking job into an error so the worker survives.
func (p *ShardExecutor) runOnce(label string, qj queuedJob) (err error) {
	start := time.Now()
	defer func() {
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("job panicked")
			err = errors.New(errors.CodeGeneric, "background job panicked: %v", r)
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *ShardExecutor) finish(label string, job Job, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		p.safeHandleError(err)
	}
	jobsTotal.WithLabelValues(label, result).Inc()
	if c, ok := job.(Completer); ok {
		p.guard("completer", func() { c.Complete(err) })
	}
}

func (p *ShardExecutor) safeHandleError(err error) {
	if err == nil || p.cfg.ErrorHandler == nil {
		return
	}
	p.guard("error handler", func() { p.cfg.ErrorHandler(err) })
}

// guard runs a caller-supplied hook, recovering from panics.
func (p *ShardExecutor) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("hook", name).Str("panic", fmt.Sprint(r)).Msg("hook panicked")
		}
	}()
	fn()
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}
