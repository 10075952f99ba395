package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/flowcore/common/config"
	"github.com/lyzr/flowcore/common/db"
	"github.com/lyzr/flowcore/common/logger"
	"github.com/lyzr/flowcore/common/queue"
	redisw "github.com/lyzr/flowcore/common/redis"
	"github.com/lyzr/flowcore/common/telemetry"
)

// Components holds the initialized service dependencies. DB and Redis are
// nil when the deployment runs on in-memory stores.
type Components struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.DB
	Redis   *redisw.Client
	Queue   queue.Queue
	Metrics *telemetry.Metrics

	cleanupFuncs []func() error
}

// Shutdown releases components in reverse initialization order. Call with
// defer after Setup.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks the liveness of every attached backend.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
