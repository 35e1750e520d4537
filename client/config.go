package client

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ncmb/ncmb-go/client/internal/session"
)

// EnvPrefix scopes the SDK's environment variables, e.g. NCMB_APPLICATION_KEY.
const EnvPrefix = "NCMB"

// Store kinds accepted by NCMB_STORE.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config mirrors the NCMB_* environment.
type Config struct {
	ApplicationKey     string        `envconfig:"APPLICATION_KEY" required:"true"`
	ClientKey          string        `envconfig:"CLIENT_KEY" required:"true"`
	BaseURL            string        `envconfig:"BASE_URL" default:"https://mbaas.api.nifcloud.com"`
	ScriptBaseURL      string        `envconfig:"SCRIPT_BASE_URL" default:"https://script.mbaas.api.nifcloud.com"`
	HTTPTimeout        time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
	ResponseValidation bool          `envconfig:"RESPONSE_VALIDATION" default:"false"`
	Store              string        `envconfig:"STORE" default:"file"`
	DataDir            string        `envconfig:"DATA_DIR"`
	Debug              bool          `envconfig:"DEBUG" default:"false"`
}

// LoadConfig populates Config from NCMB_* environment variables.
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, err
	}
	switch c.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		return Config{}, fmt.Errorf("NCMB_STORE must be one of %s, %s, %s; got %q", StoreFile, StoreSQLite, StoreMemory, c.Store)
	}
	return c, nil
}

// Options converts cfg into constructor options, opening the configured
// store. A SQLite store opened here is closed by Client.Close.
func (cfg Config) Options() ([]Option, error) {
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithScriptBaseURL(cfg.ScriptBaseURL),
		WithHTTPTimeout(cfg.HTTPTimeout),
		WithResponseValidation(cfg.ResponseValidation),
		WithDebugLogging(cfg.Debug),
	}
	if cfg.Store == StoreMemory {
		return opts, nil
	}

	dir := cfg.DataDir
	if dir == "" {
		d, err := session.DataDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	switch cfg.Store {
	case StoreSQLite:
		st, err := session.OpenSQLite(filepath.Join(dir, "session.db"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, withOwnedStore(st))
	default:
		st, err := session.NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStore(st))
	}
	return opts, nil
}

// NewFromEnv builds a Client from NCMB_* variables; opts are applied after
// the environment and win over it.
func NewFromEnv(opts ...Option) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	envOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return New(cfg.ApplicationKey, cfg.ClientKey, append(envOpts, opts...)...)
}
