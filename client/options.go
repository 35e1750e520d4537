package client

// This file defines functional options that configure the Client during
// construction. Keeping them in a standalone file avoids cluttering
// client.go and makes it easy to discover all available knobs at a glance.

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/ncmb/ncmb-go/client/internal/session"
	"github.com/ncmb/ncmb-go/client/internal/shardqueue"
)

// Option configures a Client during construction in New.
//
// Options are applied before the SDK header wrapper is installed, so
// transport-related options end up underneath it.
type Option func(*Client) error

// Store persists the current user and installation between runs.
type Store = session.Store

// ExecutorConfig tunes the worker pool behind the InBackground variants.
type ExecutorConfig = shardqueue.Config

// NewFileStore keeps one 0600 file per document in dir.
func NewFileStore(dir string) (Store, error) { return session.NewFileStore(dir) }

// NewMemoryStore keeps documents in memory only.
func NewMemoryStore() Store { return session.NewMemoryStore() }

// OpenSQLiteStore opens (creating if needed) a SQLite database at path. The
// caller closes it after the Client.
func OpenSQLiteStore(path string) (*session.SQLiteStore, error) { return session.OpenSQLite(path) }

// WithHTTPTimeout sets the underlying http.Client Timeout used by the SDK.
//
// Prefer per-request context deadlines where possible; this timeout is a
// coarse safety net that bounds a single HTTP request. The value must be
// greater than zero.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.Timeout = d
		return nil
	}
}

// WithHTTPClient replaces the http.Client. Its transport is wrapped, not
// modified in place.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client must not be nil")
		}
		cp := *hc
		c.http = &cp
		return nil
	}
}

// WithDebugLogging logs every request and response dump at debug level when
// enabled is true. Dumps include session tokens; do not enable in production.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		c.debug = c.debug || enabled
		return nil
	}
}

// WithBaseURL points the REST API at another host, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) error {
		if err := checkBaseURL(u); err != nil {
			return err
		}
		c.apiEP.BaseURL = u
		return nil
	}
}

// WithScriptBaseURL points script execution at another host.
func WithScriptBaseURL(u string) Option {
	return func(c *Client) error {
		if err := checkBaseURL(u); err != nil {
			return err
		}
		c.scriptEP.BaseURL = u
		return nil
	}
}

func checkBaseURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid base url %q", u)
	}
	return nil
}

// WithResponseValidation checks X-NCMB-Response-Signature on every 2xx reply.
func WithResponseValidation(enabled bool) Option {
	return func(c *Client) error {
		c.validate = enabled
		return nil
	}
}

// WithLogger replaces the global zerolog logger for SDK diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithClock injects the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		c.now = now
		return nil
	}
}

// WithStore persists the current user and installation in s. The caller
// keeps ownership of s.
func WithStore(s Store) Option {
	return func(c *Client) error {
		if s == nil {
			return fmt.Errorf("store must not be nil")
		}
		c.store = s
		return nil
	}
}

// WithExecutorConfig replaces the background executor settings.
func WithExecutorConfig(cfg ExecutorConfig) Option {
	return func(c *Client) error {
		if cfg.MaxAttempts < 0 {
			return fmt.Errorf("max attempts must be >= 0")
		}
		c.execCfg = &cfg
		return nil
	}
}

// WithApplicationInfo sets the values a new installation is pre-filled with.
func WithApplicationInfo(info AppInfo) Option {
	return func(c *Client) error {
		if info.DeviceType != "" && info.DeviceType != DeviceTypeAndroid && info.DeviceType != DeviceTypeIOS {
			return fmt.Errorf("device type must be %q or %q", DeviceTypeAndroid, DeviceTypeIOS)
		}
		def := defaultAppInfo()
		if info.DeviceType == "" {
			info.DeviceType = def.DeviceType
		}
		if info.TimeZone == "" {
			info.TimeZone = def.TimeZone
		}
		c.app = info
		return nil
	}
}

// withOwnedStore installs a store the Client closes on Close.
func withOwnedStore(s *session.SQLiteStore) Option {
	return func(c *Client) error {
		c.store = s
		c.closers = append(c.closers, s)
		return nil
	}
}
