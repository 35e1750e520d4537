package client_test

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncmb/ncmb-go/client"
	"github.com/ncmb/ncmb-go/client/ncmbtest"
)

const (
	testAppKey    = "6145f91061916580c742f806bab67649d10f45920246ff459404c46f00ff3e56"
	testClientKey = "1343d198b510a0315db1c03f3aa0e32418b7a743f8e4b47cbff670601345cf75"
)

// newTestClient starts a fake backend and a client validating its responses.
func newTestClient(t *testing.T, opts ...client.Option) (*client.Client, *ncmbtest.Server) {
	t.Helper()
	srv := ncmbtest.New(testAppKey, testClientKey)
	t.Cleanup(srv.Close)

	base := []client.Option{
		client.WithBaseURL(srv.URL()),
		client.WithScriptBaseURL(srv.URL()),
		client.WithResponseValidation(true),
		client.WithLogger(zerolog.Nop()),
	}
	c, err := client.New(testAppKey, testClientKey, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_RequiresKeys(t *testing.T) {
	_, err := client.New("", testClientKey)
	require.Error(t, err)
	assert.Equal(t, client.CodeGeneric, client.CodeOf(err))

	_, err = client.New(testAppKey, "")
	assert.True(t, client.IsCode(err, client.CodeGeneric))
}

func TestNew_RejectsBadOptions(t *testing.T) {
	cases := map[string]client.Option{
		"base url":     client.WithBaseURL("not a url"),
		"script url":   client.WithScriptBaseURL("/relative"),
		"timeout":      client.WithHTTPTimeout(0),
		"http client":  client.WithHTTPClient(nil),
		"clock":        client.WithClock(nil),
		"store":        client.WithStore(nil),
		"device type":  client.WithApplicationInfo(client.AppInfo{DeviceType: "windows"}),
		"max attempts": client.WithExecutorConfig(client.ExecutorConfig{MaxAttempts: -1}),
	}
	for name, opt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := client.New(testAppKey, testClientKey, opt)
			assert.Error(t, err)
		})
	}
}

func TestClient_SendsSDKHeaders(t *testing.T) {
	c, srv := newTestClient(t)
	obj := c.NewObject("Todo")
	require.NoError(t, obj.Put("title", "milk"))
	require.NoError(t, obj.Save(ctxT(t)))

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "go-"+client.Version, reqs[0].Header.Get("X-NCMB-SDK-Version"))
	assert.NotEmpty(t, reqs[0].Header.Get("X-NCMB-OS-Version"))
	assert.Equal(t, testAppKey, c.ApplicationKey())
}

func TestClient_DebugDumpsUseConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(zerolog.SyncWriter(&buf)).Level(zerolog.DebugLevel)
	c, _ := newTestClient(t, client.WithLogger(l), client.WithDebugLogging(true))

	require.NoError(t, c.NewObject("Todo").Save(ctxT(t)))
	out := buf.String()
	assert.Contains(t, out, "request_dump")
	assert.Contains(t, out, "response_dump")
	assert.Contains(t, out, "/classes/Todo")
}

func TestClient_WithHTTPClientKeepsCallerTransport(t *testing.T) {
	var calls int32
	base := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return http.DefaultTransport.RoundTrip(r)
	})}
	c, _ := newTestClient(t, client.WithHTTPClient(base))

	require.NoError(t, c.NewObject("Todo").Save(ctxT(t)))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	_, isFunc := base.Transport.(roundTripFunc)
	assert.True(t, isFunc, "caller's client must not be modified")
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_CloseIsIdempotent(t *testing.T) {
	c, err := client.New(testAppKey, testClientKey, client.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestClient_SaveInBackgroundDeliversToTaskAndCallback(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := ctxT(t)

	obj := c.NewObject("Todo")
	require.NoError(t, obj.Put("title", "bread"))
	got := make(chan error, 1)
	task := obj.SaveInBackground(ctx, func(err error) { got <- err })

	_, err := task.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, <-got)
	assert.NotEmpty(t, obj.ObjectID())
	assert.Empty(t, obj.DirtyKeys())
}

func TestClient_BackgroundErrorGoesToTask(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)
	srv.FailNext(http.StatusInternalServerError, "E500001", "boom")

	obj := c.NewObject("Todo")
	require.NoError(t, obj.Put("title", "eggs"))
	task := obj.SaveInBackground(ctx, nil)
	<-task.Done()
	assert.True(t, client.IsCode(task.Err(), client.CodeInternalServer))
	assert.True(t, obj.IsDirty("title"))
}

func TestClient_FlushWaitsForQueuedWork(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := ctxT(t)

	obj := c.NewObject("Todo")
	require.NoError(t, obj.Put("n", 1))
	obj.SaveInBackground(ctx, nil)
	require.NoError(t, c.Flush(ctx, obj))
	assert.NotEmpty(t, obj.ObjectID())

	require.NoError(t, obj.Increment("n", 2))
	obj.SaveInBackground(ctx, nil)
	obj.FetchInBackground(ctx, nil)
	require.NoError(t, c.Flush(ctx, obj))
	assert.Equal(t, 3, obj.Int("n"))
}

func TestClient_BackPressure(t *testing.T) {
	c, srv := newTestClient(t, client.WithExecutorConfig(client.ExecutorConfig{
		Shards:         1,
		QueueSize:      1,
		EnqueueTimeout: 10 * time.Millisecond,
		MaxAttempts:    1,
	}))
	ctx := ctxT(t)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	srv.HandleScript("slow.js", func(*http.Request, []byte) (int, []byte) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return http.StatusOK, []byte(`{}`)
	})

	s := c.NewScript("slow.js", http.MethodGet)
	first := s.ExecuteInBackground(ctx, nil)
	<-started
	second := s.ExecuteInBackground(ctx, nil)

	var cbErr error
	third := s.ExecuteInBackground(ctx, func(_ []byte, err error) { cbErr = err })
	<-third.Done()
	assert.True(t, client.IsBackPressure(third.Err()))
	assert.True(t, client.IsBackPressure(cbErr), "callback runs on the caller's goroutine when rejected")

	close(release)
	_, err := first.Wait(ctx)
	assert.NoError(t, err)
	_, err = second.Wait(ctx)
	assert.NoError(t, err)
}

func TestNewFromEnv_RestoresSessionFromSQLite(t *testing.T) {
	srv := ncmbtest.New(testAppKey, testClientKey)
	t.Cleanup(srv.Close)
	srv.AddUser("alice", "secret", nil)

	dir := t.TempDir()
	t.Setenv("NCMB_APPLICATION_KEY", testAppKey)
	t.Setenv("NCMB_CLIENT_KEY", testClientKey)
	t.Setenv("NCMB_BASE_URL", srv.URL())
	t.Setenv("NCMB_SCRIPT_BASE_URL", srv.URL())
	t.Setenv("NCMB_STORE", client.StoreSQLite)
	t.Setenv("NCMB_DATA_DIR", dir)
	ctx := ctxT(t)

	c, err := client.NewFromEnv(client.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	u, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.FileExists(t, filepath.Join(dir, "session.db"))

	again, err := client.NewFromEnv(client.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, u.ObjectID(), again.CurrentUser().ObjectID())
	assert.Equal(t, "alice", again.CurrentUser().UserName())
	assert.NotEmpty(t, again.SessionToken())
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("NCMB_APPLICATION_KEY", testAppKey)
	t.Setenv("NCMB_CLIENT_KEY", testClientKey)

	cfg, err := client.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, client.StoreFile, cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "https://mbaas.api.nifcloud.com", cfg.BaseURL)

	t.Setenv("NCMB_STORE", "redis")
	_, err = client.LoadConfig()
	assert.Error(t, err)
}

func TestNewFromEnv_MissingKeys(t *testing.T) {
	t.Setenv("NCMB_APPLICATION_KEY", "")
	t.Setenv("NCMB_CLIENT_KEY", "")
	t.Setenv("NCMB_STORE", client.StoreMemory)
	_, err := client.NewFromEnv()
	assert.Error(t, err)
}
