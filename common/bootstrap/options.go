package bootstrap

import (
	"github.com/lyzr/flowcore/common/config"
	"github.com/lyzr/flowcore/common/db"
	"github.com/lyzr/flowcore/common/logger"
)

// Option configures the bootstrap process.
type Option func(*options)

type options struct {
	skipDB       bool
	skipRedis    bool
	skipQueue    bool
	customLogger *logger.Logger
	customConfig *config.Config
	dbInitHooks  []func(*db.DB) error
}

// WithoutDB skips database initialization even when configured.
func WithoutDB() Option {
	return func(o *options) { o.skipDB = true }
}

// WithoutRedis skips Redis initialization even when configured.
func WithoutRedis() Option {
	return func(o *options) { o.skipRedis = true }
}

// WithoutQueue skips queue initialization.
func WithoutQueue() Option {
	return func(o *options) { o.skipQueue = true }
}

// WithCustomLogger uses a custom logger instead of creating one.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses a custom config instead of loading from env.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithDBInitHook runs after database initialization; used for schema setup.
// Hooks run in registration order.
func WithDBInitHook(hook func(*db.DB) error) Option {
	return func(o *options) { o.dbInitHooks = append(o.dbInitHooks, hook) }
}

func defaultOptions() *options {
	return &options{}
}
