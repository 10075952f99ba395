// Package plugin materializes node implementations as external processes:
// containers on a local Docker runtime or Deployments on a Kubernetes
// cluster. The orchestrator owns the process lifecycle; the invoker proxies
// node executions to the running plugin's HTTP endpoint.
package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Label values identifying plugin workloads among everything else the
// runtime hosts.
const (
	LabelPlugin     = "flowcore.plugin"
	LabelPluginName = "flowcore.plugin.name"

	// PluginPort is the port every plugin process listens on inside its
	// container.
	PluginPort = 8080
)

// Container describes one running plugin workload.
type Container struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	Port  int    `json:"port"`
	State string `json:"state"`
}

// ProgressFunc receives pull progress as a fraction in [0,1] plus a human
// readable stage description.
type ProgressFunc func(fraction float64, status string)

// Orchestrator is the container/pod lifecycle contract. Implementations are
// selected once at startup and are safe for concurrent use.
type Orchestrator interface {
	// Available probes whether this runtime can be reached.
	Available(ctx context.Context) bool
	// Type names the runtime: "docker" or "kubernetes".
	Type() string
	// FromTrustedRegistry reports whether the image's registry is on the
	// configured allow-list.
	FromTrustedRegistry(image string) bool
	// Pull fetches the image, reporting progress. Rejects untrusted images.
	Pull(ctx context.Context, image, tag string, progress ProgressFunc) error
	// CreateAndStart launches a plugin workload and returns its identity.
	CreateAndStart(ctx context.Context, image, name string, env map[string]string) (*Container, error)
	// WaitHealthy blocks until the workload reports healthy or the timeout
	// elapses.
	WaitHealthy(ctx context.Context, id string, timeout time.Duration) error
	// Stop halts the workload without removing it.
	Stop(ctx context.Context, id string) error
	// Remove stops and deletes the workload.
	Remove(ctx context.Context, id string) error
	// Logs returns up to tailLines of recent workload output.
	Logs(ctx context.Context, id string, tailLines int) (string, error)
	// ListPlugins enumerates the plugin workloads this runtime hosts.
	ListPlugins(ctx context.Context) ([]*Container, error)
	// Endpoint returns the base URL node executions are proxied to.
	Endpoint(ctx context.Context, id string) (string, error)
}

// Logger is the logging surface the plugin layer depends on.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Select probes the candidates in order and returns the first available
// runtime. The choice is made once at startup and never revisited.
func Select(ctx context.Context, candidates ...Orchestrator) (Orchestrator, error) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if c.Available(ctx) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no container runtime available")
}

// RegistryPolicy is the trusted-registry allow-list. An image is trusted when
// its registry component matches an allowed entry; an empty list trusts
// nothing, so installs are disabled until registries are configured.
type RegistryPolicy struct {
	allowed []string
}

// NewRegistryPolicy builds the allow-list from configuration.
func NewRegistryPolicy(allowed []string) *RegistryPolicy {
	cleaned := make([]string, 0, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(strings.TrimSuffix(a, "/"))
		if a != "" {
			cleaned = append(cleaned, a)
		}
	}
	return &RegistryPolicy{allowed: cleaned}
}

// Allows reports whether the image reference may be pulled.
func (p *RegistryPolicy) Allows(image string) bool {
	registry := registryOf(image)
	for _, a := range p.allowed {
		if strings.EqualFold(registry, a) {
			return true
		}
	}
	return false
}

// registryOf extracts the registry component of an image reference. A bare
// name like "nginx" or "library/nginx" implies Docker Hub.
func registryOf(image string) string {
	first := image
	if i := strings.IndexByte(image, '/'); i >= 0 {
		first = image[:i]
	} else {
		return "docker.io"
	}
	// A registry host contains a dot, a colon, or is "localhost"; anything
	// else is a Docker Hub namespace.
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first
	}
	return "docker.io"
}
