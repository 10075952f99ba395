// Package container wires the flowd service object graph once at startup.
package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lyzr/flowcore/common/bootstrap"
	"github.com/lyzr/flowcore/common/engine"
	"github.com/lyzr/flowcore/common/engine/store"
	"github.com/lyzr/flowcore/common/events"
	"github.com/lyzr/flowcore/common/handlers"
	"github.com/lyzr/flowcore/common/handlers/netio"
	"github.com/lyzr/flowcore/common/hitl"
	"github.com/lyzr/flowcore/common/journal"
	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/plugin"
	"github.com/lyzr/flowcore/common/plugin/install"
	"github.com/lyzr/flowcore/common/ratelimit"
)

// Container holds the initialized flowd services. Built once; handlers only
// read from it.
type Container struct {
	Components *bootstrap.Components

	Registry  *node.Registry
	Flows     *FlowRegistry
	Engine    *engine.Engine
	Timer     *engine.TimerWorker
	ExecStore store.Store
	Journal   journal.Store
	Approvals hitl.Store
	RateLimit ratelimit.Store
	Hub       *events.Hub

	// Installer is nil when no container runtime is reachable; the install
	// API answers 503 in that case.
	Installer *install.Installer
	Runtime   plugin.Orchestrator
}

// NewContainer initializes every service once, bottom-up.
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	c := &Container{
		Components: components,
		Registry:   node.NewRegistry(log),
		Flows:      NewFlowRegistry(),
		Hub:        events.NewHub(log),
	}

	// Durable stores, postgres when configured.
	if components.DB != nil {
		c.ExecStore = store.NewPostgresStore(components.DB)
		c.Journal = journal.NewPostgresStore(components.DB)
	} else {
		c.ExecStore = store.NewMemoryStore()
		c.Journal = journal.NewMemoryStore()
	}

	if components.Redis != nil {
		c.RateLimit = ratelimit.NewRedisStore(components.Redis.GetUnderlying(), log)
		c.Approvals = hitl.NewRedisStore(&hitl.RedisStoreOpts{Client: components.Redis, Logger: log})
	} else {
		c.RateLimit = ratelimit.NewMemoryStore()
		c.Approvals = hitl.NewMemoryStore()
	}

	policy := netio.NewURLPolicy(cfg.Handlers.AllowPrivateHTTP, cfg.Handlers.AllowedHTTPHosts)
	err := handlers.RegisterBuiltins(c.Registry, handlers.Deps{
		Logger:         log,
		RateLimit:      c.RateLimit,
		Approvals:      c.Approvals,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		URLPolicy:      policy,
		CommandEnabled: cfg.Handlers.CommandEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register built-in handlers: %w", err)
	}

	// Events go to Redis when configured so every replica's hub sees them;
	// otherwise straight to the local hub.
	var publisher events.Publisher
	if components.Redis != nil {
		publisher = events.NewRedisPublisher(components.Redis, log)
	} else {
		publisher = events.NewHubPublisher(c.Hub)
	}

	c.Engine = engine.New(c.Registry, c.ExecStore, c.Journal, publisher, log, engine.Options{
		Parallelism:    cfg.Engine.Parallelism,
		DefaultTimeout: cfg.Engine.DefaultTimeout,
		DispatchRPS:    cfg.Engine.DispatchRPS,
	})
	c.Engine.SetMetrics(components.Metrics)
	c.Timer = engine.NewTimerWorker(c.Engine, c.Journal, log, cfg.Engine.TimerInterval)

	if err := c.setupPluginRuntime(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// setupPluginRuntime probes for a container runtime and wires the installer.
// A missing runtime disables installs but never fails startup.
func (c *Container) setupPluginRuntime(ctx context.Context) error {
	cfg := c.Components.Config
	log := c.Components.Logger
	registryPolicy := plugin.NewRegistryPolicy(cfg.Plugin.TrustedRegistries)

	var candidates []plugin.Orchestrator
	if cfg.Plugin.Runtime == "auto" || cfg.Plugin.Runtime == "docker" {
		if docker, err := plugin.NewDocker(registryPolicy, log); err == nil {
			candidates = append(candidates, docker)
		} else {
			log.Warn("docker runtime unavailable", "error", err)
		}
	}
	if cfg.Plugin.Runtime == "auto" || cfg.Plugin.Runtime == "kubernetes" {
		if k8s, err := plugin.NewKubernetes(cfg.Plugin.Namespace, registryPolicy, log); err == nil {
			candidates = append(candidates, k8s)
		} else {
			log.Warn("kubernetes runtime unavailable", "error", err)
		}
	}

	runtime, err := plugin.Select(ctx, candidates...)
	if err != nil {
		log.Warn("plugin installs disabled", "error", err)
		return nil
	}
	c.Runtime = runtime
	log.Info("plugin runtime selected", "type", runtime.Type())

	var installStore install.Store
	if c.Components.DB != nil {
		installStore = install.NewPostgresStore(c.Components.DB)
	} else {
		installStore = install.NewMemoryStore()
	}

	var publisher events.Publisher
	if c.Components.Redis != nil {
		publisher = events.NewRedisPublisher(c.Components.Redis, log)
	} else {
		publisher = events.NewHubPublisher(c.Hub)
	}

	c.Installer = install.NewInstaller(installStore, c.Components.Queue, runtime,
		plugin.NewInvoker(nil, log), c.Registry, publisher, log, install.Options{
			Workers:       cfg.Plugin.InstallWorkers,
			HealthTimeout: cfg.Plugin.HealthTimeout,
		})
	c.Installer.SetMetrics(c.Components.Metrics)
	return nil
}

// Start launches the background loops: event hub, Redis event bridge, due
// timer polling, and install workers.
func (c *Container) Start(ctx context.Context) error {
	go c.Hub.Run(ctx)

	if c.Components.Redis != nil {
		sub := events.NewSubscriber(c.Components.Redis, c.Hub, c.Components.Logger)
		go func() {
			if err := sub.Start(ctx); err != nil {
				c.Components.Logger.Error("event subscriber stopped", "error", err)
			}
		}()
	}

	go c.Timer.Run(ctx)

	if c.Installer != nil {
		if err := c.Installer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start install workers: %w", err)
		}
	}
	return nil
}
