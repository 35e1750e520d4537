package client

import (
	"context"
	"io"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ncmb/ncmb-go/client/internal/api"
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/request"
	"github.com/ncmb/ncmb-go/client/internal/session"
	"github.com/ncmb/ncmb-go/client/internal/shardqueue"
)

// Version is reported to the server in X-NCMB-SDK-Version.
const Version = "1.0.0"

const (
	headerSDKVersion = "X-NCMB-SDK-Version"
	headerOSVersion  = "X-NCMB-OS-Version"

	defaultHTTPTimeout = 10 * time.Second
)

// --------------------------------------------------------------------
// Client core
// --------------------------------------------------------------------

// Client owns one application's session: keys, endpoints, the current user
// and installation, and the background executor. Entities created from a
// Client keep a reference to it. A Client is safe for concurrent use; racing
// logins and logouts leave whichever finished last as the current user.
type Client struct {
	creds    request.Credentials
	apiEP    request.Endpoint
	scriptEP request.Endpoint

	http     *http.Client
	debug    bool
	validate bool
	log      zerolog.Logger
	now      func() time.Time
	app      AppInfo

	store   session.Store
	execCfg *shardqueue.Config
	exec    executor
	closers []io.Closer

	conn    *api.Conn
	session *session.Session

	closedOnce uint32 // ensures Close is idempotent
}

// New constructs a Client for the application identified by applicationKey
// and clientKey. The current user and installation are restored from the
// configured Store.
func New(applicationKey, clientKey string, opts ...Option) (*Client, error) {
	if applicationKey == "" || clientKey == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "application key and client key are required")
	}

	c := &Client{
		creds:    request.Credentials{ApplicationKey: applicationKey, ClientKey: clientKey},
		apiEP:    request.Endpoint{BaseURL: request.DefaultBaseURL, Version: request.DefaultAPIVersion},
		scriptEP: request.Endpoint{BaseURL: request.DefaultScriptBaseURL, Version: request.DefaultScriptVersion},
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		log:      log.Logger,
		now:      time.Now,
		app:      defaultAppInfo(),
	}

	// Auto-enable debug via env variable without changing code.
	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			c.closeOwned()
			return nil, err
		}
	}

	if c.debug {
		c.http.Transport = &debugTransport{base: c.http.Transport, log: c.log}
	}
	c.wrapTransportWithSDKHeaders()

	if c.store == nil {
		c.store = session.NewMemoryStore()
	}
	c.session = session.New(c.store, c.log)
	if err := c.session.Restore(context.Background()); err != nil {
		c.closeOwned()
		return nil, err
	}

	c.conn = &api.Conn{
		HTTP:     c.http,
		Builder:  &request.Builder{Credentials: c.creds, Now: c.now},
		API:      c.apiEP,
		Script:   c.scriptEP,
		Session:  c.session,
		Log:      c.log,
		Validate: c.validate,
	}

	if c.exec == nil {
		c.exec = newDefaultExecutor(c.execCfg, c.log)
	}
	return c, nil
}

// newDefaultExecutor constructs the shardqueue executor. Retries stay off
// unless cfg asks for them.
func newDefaultExecutor(cfg *shardqueue.Config, logger zerolog.Logger) *shardqueue.ShardExecutor {
	c := shardqueue.Config{Shards: 4, QueueSize: 128, MaxAttempts: 1}
	if cfg != nil {
		c = *cfg
	}
	if c.Logger == nil {
		c.Logger = &logger
	}
	return shardqueue.NewShardExecutor(c)
}

// wrapTransportWithSDKHeaders wraps the HTTP client's transport so every
// request reports the SDK and runtime versions.
func (c *Client) wrapTransportWithSDKHeaders() {
	baseTransport := c.http.Transport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	c.http.Transport = &sdkHeaderTransport{
		base:       baseTransport,
		sdkVersion: "go-" + Version,
		osVersion:  runtime.GOOS + "-" + runtime.Version(),
	}
}

// sdkHeaderTransport stamps X-NCMB-SDK-Version and X-NCMB-OS-Version.
// Neither header takes part in the request signature.
type sdkHeaderTransport struct {
	base       http.RoundTripper
	sdkVersion string
	osVersion  string
}

func (t *sdkHeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	cloned := req.Clone(req.Context())
	cloned.Header.Set(headerSDKVersion, t.sdkVersion)
	cloned.Header.Set(headerOSVersion, t.osVersion)
	return t.base.RoundTrip(cloned)
}

// Close drains the background executor and releases stores opened by the
// Client. Safe to call multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	if c.exec != nil {
		c.exec.Stop()
	}
	return c.closeOwned()
}

func (c *Client) closeOwned() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// Flush blocks until every background task submitted earlier for e has
// finished. It works by submitting a no-op to e's queue and waiting for it.
func (c *Client) Flush(ctx context.Context, e Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, ok := e.(keyed)
	if !ok {
		return ncmberrors.New(ncmberrors.CodeGeneric, "entity %T was not created by this client", e)
	}
	return c.exec.Barrier(ctx, k.executorKey())
}

// SessionToken returns the current user's session token or "".
func (c *Client) SessionToken() string { return c.session.SessionToken() }

// ApplicationKey returns the key the Client signs requests with.
func (c *Client) ApplicationKey() string { return c.creds.ApplicationKey }
