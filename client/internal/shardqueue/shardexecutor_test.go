package shardqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

// completingJob records the outcome passed to Complete.
type completingJob struct {
	run  func(context.Context) error
	done chan error
}

func newCompletingJob(run func(context.Context) error) *completingJob {
	return &completingJob{run: run, done: make(chan error, 1)}
}

func (j *completingJob) Run(ctx context.Context) error { return j.run(ctx) }
func (j *completingJob) Complete(err error)            { j.done <- err }

func (j *completingJob) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-j.done:
		return err
	case <-time.After(time.Second):
		t.Fatal("job never completed")
		return nil
	}
}

// blockShard occupies the single worker until the returned func is called.
func blockShard(t *testing.T, ex *ShardExecutor, key string) func() {
	t.Helper()
	release := make(chan struct{})
	started := make(chan struct{})
	if err := ex.Submit(context.Background(), key, JobFunc(func(context.Context) error {
		close(started)
		<-release
		return nil
	})); err != nil {
		t.Fatalf("submit blocking job: %v", err)
	}
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func TestShardExecutor_FIFOPerKey(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 4, QueueSize: 16})
	defer ex.Stop()

	var (
		mu    sync.Mutex
		order []int
	)
	last := newCompletingJob(func(context.Context) error { return nil })
	for i := 0; i < 10; i++ {
		v := i
		if err := ex.Submit(context.Background(), "TestClass/abc", JobFunc(func(context.Context) error {
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
			return nil
		})); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := ex.Submit(context.Background(), "TestClass/abc", last); err != nil {
		t.Fatalf("submit last: %v", err)
	}
	if err := last.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if i != v {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestShardExecutor_DifferentKeysRunInParallel(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 8, QueueSize: 4})
	defer ex.Stop()

	keyA, keyB := "a", "b"
	for i := 0; ex.shardFor(keyB) == ex.shardFor(keyA) && i < 100; i++ {
		keyB += "b"
	}
	release := blockShard(t, ex, keyA)
	defer release()

	j := newCompletingJob(func(context.Context) error { return nil })
	if err := ex.Submit(context.Background(), keyB, j); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := j.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShardExecutor_QueueFull(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 1, QueueSize: 1, EnqueueTimeout: 10 * time.Millisecond})
	defer ex.Stop()
	release := blockShard(t, ex, "k")
	defer release()

	_ = ex.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))
	err := ex.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))
	var qf *QueueFullError
	if !errors.As(err, &qf) || !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected QueueFullError, got %v", err)
	}
	if qf.Capacity != 1 || qf.Error() == "" {
		t.Fatalf("unexpected diagnostics %+v", qf)
	}
	if errors.Is(err, ErrExecutorClosed) {
		t.Fatal("queue full must not match ErrExecutorClosed")
	}
}

func TestShardExecutor_SubmitHonoursContext(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 1, QueueSize: 1, EnqueueTimeout: time.Second})
	defer ex.Stop()
	release := blockShard(t, ex, "k")
	defer release()
	_ = ex.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ex.Submit(ctx, "k", JobFunc(func(context.Context) error { return nil })); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestShardExecutor_CancelledJobIsSkippedAndCompleted(t *testing.T) {
	t.Parallel()
	var handled int32
	ex := NewShardExecutor(Config{Shards: 1, QueueSize: 2, ErrorHandler: func(error) { atomic.AddInt32(&handled, 1) }})
	defer ex.Stop()
	release := blockShard(t, ex, "k")

	var ran int32
	ctx, cancel := context.WithCancel(context.Background())
	j := newCompletingJob(func(context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})
	if err := ex.Submit(ctx, "k", j); err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()
	release()

	if err := j.wait(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("cancelled job must not run")
	}
	if atomic.LoadInt32(&handled) != 1 {
		t.Fatalf("error handler calls = %d, want 1", handled)
	}
}

func TestShardExecutor_NoRetryByDefault(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 1})
	defer ex.Stop()

	var attempts int32
	j := newCompletingJob(func(context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return ncmberrors.NewNetworkError("GET", errors.New("connection reset"))
	})
	_ = ex.Submit(context.Background(), "k", j)
	if err := j.wait(t); !ncmberrors.IsCode(err, ncmberrors.CodeNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestShardExecutor_OptInRetryOnlyForRecoverable(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 1, MaxAttempts: 3, BaseBackoff: time.Millisecond})
	defer ex.Stop()

	var attempts int32
	flaky := newCompletingJob(func(context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return ncmberrors.ClassifyHTTPError(503, nil)
		}
		return nil
	})
	_ = ex.Submit(context.Background(), "k", flaky)
	if err := flaky.wait(t); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}

	var notFound int32
	fatal := newCompletingJob(func(context.Context) error {
		atomic.AddInt32(&notFound, 1)
		return ncmberrors.ClassifyHTTPError(404, []byte(`{"code":"E404001","error":"No data available."}`))
	})
	_ = ex.Submit(context.Background(), "k", fatal)
	if err := fatal.wait(t); !ncmberrors.IsCode(err, ncmberrors.CodeDataNotFound) {
		t.Fatalf("expected E404001, got %v", err)
	}
	if got := atomic.LoadInt32(&notFound); got != 1 {
		t.Fatalf("irrecoverable error retried %d times", got)
	}
}

func TestShardExecutor_PanicBecomesError(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 1})
	defer ex.Stop()

	boom := newCompletingJob(func(context.Context) error { panic("boom") })
	_ = ex.Submit(context.Background(), "k", boom)
	if err := boom.wait(t); !ncmberrors.IsCode(err, ncmberrors.CodeGeneric) {
		t.Fatalf("expected generic error, got %v", err)
	}

	// the same worker keeps serving its shard
	next := newCompletingJob(func(context.Context) error { return nil })
	_ = ex.Submit(context.Background(), "k", next)
	if err := next.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShardExecutor_HookPanicsAreRecovered(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 1, ErrorHandler: func(error) { panic("handler") }})
	defer ex.Stop()

	_ = ex.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return errors.New("x") }))
	j := newCompletingJob(func(context.Context) error { return nil })
	_ = ex.Submit(context.Background(), "k", j)
	if err := j.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShardExecutor_StopDrainsAndCompletes(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 1, QueueSize: 8})
	release := blockShard(t, ex, "k")

	jobs := make([]*completingJob, 3)
	for i := range jobs {
		jobs[i] = newCompletingJob(func(context.Context) error { return nil })
		if err := ex.Submit(context.Background(), "k", jobs[i]); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	stopped := make(chan struct{})
	go func() { ex.Stop(); close(stopped) }()
	release()

	for _, j := range jobs {
		if err := j.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	if err := ex.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil })); !errors.Is(err, ErrExecutorClosed) {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
	ex.Stop()
	if err := ex.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestShardExecutor_Barrier(t *testing.T) {
	t.Parallel()
	ex := NewShardExecutor(Config{Shards: 2})
	defer ex.Stop()

	var done int32
	_ = ex.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
		return nil
	}))
	if err := ex.Barrier(context.Background(), "k"); err != nil {
		t.Fatalf("Barrier: %v", err)
	}
	if atomic.LoadInt32(&done) != 1 {
		t.Fatal("Barrier returned before earlier job finished")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("NCMB_SQ_SHARDS", "8")
	t.Setenv("NCMB_SQ_QUEUE_SIZE", "256")
	t.Setenv("NCMB_SQ_ENQUEUE_TIMEOUT", "250ms")
	t.Setenv("NCMB_SQ_MAX_ATTEMPTS", "5")
	t.Setenv("NCMB_SQ_BASE_BACKOFF", "200ms")
	t.Setenv("NCMB_SQ_MAX_INTERVAL", "5s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Shards != 8 || cfg.QueueSize != 256 || cfg.MaxAttempts != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.EnqueueTimeout != 250*time.Millisecond || cfg.BaseBackoff != 200*time.Millisecond || cfg.MaxInterval != 5*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
}

func TestLoadConfig_DefaultsDisableRetry(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.MaxAttempts != 1 || cfg.Shards != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
