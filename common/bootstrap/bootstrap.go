// Package bootstrap initializes the shared service components in a fixed
// order: config, logger, database, redis, queue, metrics. Every service
// entrypoint goes through Setup so cleanup ordering stays in one place.
package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/flowcore/common/config"
	"github.com/lyzr/flowcore/common/db"
	"github.com/lyzr/flowcore/common/logger"
	"github.com/lyzr/flowcore/common/queue"
	redisw "github.com/lyzr/flowcore/common/redis"
	"github.com/lyzr/flowcore/common/telemetry"
)

// Setup initializes all service components. Postgres and Redis attach only
// when configured; otherwise the service runs on in-memory stores.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	if !options.skipDB && components.Config.UsePostgres() {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		for _, hook := range options.dbInitHooks {
			if err := hook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	if !options.skipRedis && components.Config.UseRedis() {
		components.Logger.Info("connecting to redis", "addr", components.Config.Redis.Addr)
		rc := goredis.NewClient(&goredis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		components.Redis = redisw.NewClient(rc, components.Logger)
		if err := components.Redis.Ping(ctx); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.addCleanup(func() error { return rc.Close() })
	}

	if !options.skipQueue {
		components.Queue = queue.NewMemoryQueue(components.Logger)
		components.addCleanup(func() error { return components.Queue.Close() })
	}

	components.Metrics = telemetry.NewMetrics(serviceName)
	if components.Config.Telemetry.EnablePprof {
		telemetry.StartPprof(components.Config.Telemetry.PprofPort, components.Logger)
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error. Used by entrypoints that
// cannot recover from initialization failure.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
