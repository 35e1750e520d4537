package shardqueue

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// EnvPrefix scopes the executor's environment variables, e.g.
// NCMB_SQ_SHARDS=8 NCMB_SQ_MAX_ATTEMPTS=3.
const EnvPrefix = "NCMB_SQ"

// Config groups all tunables.
type Config struct {
	Shards         int           `envconfig:"SHARDS"          default:"4"`
	QueueSize      int           `envconfig:"QUEUE_SIZE"      default:"128"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`

	// MaxAttempts of 1 disables retries. Only recoverable errors (transport
	// failures, 5xx) are ever retried.
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"1"`
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"100ms"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"20s"`

	// ErrorHandler is called synchronously after a job fails for good.
	ErrorHandler func(error) `envconfig:"-"`

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger `envconfig:"-"`
}

// LoadConfig populates Config from NCMB_SQ_* environment variables.
func LoadConfig() (Config, error) {
	var c Config
	return c, envconfig.Process(EnvPrefix, &c)
}
