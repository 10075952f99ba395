package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// healthPollInterval paces container health inspection.
const healthPollInterval = 500 * time.Millisecond

// Docker runs plugins as containers on a local Docker daemon. Plugin
// containers publish PluginPort on an ephemeral loopback port and carry the
// plugin labels for discovery.
type Docker struct {
	cli      *client.Client
	registry *RegistryPolicy
	log      Logger
}

// NewDocker connects to the daemon from the environment (DOCKER_HOST et al).
func NewDocker(registry *RegistryPolicy, log Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Docker{cli: cli, registry: registry, log: log}, nil
}

func (d *Docker) Type() string { return "docker" }

// Available pings the daemon.
func (d *Docker) Available(ctx context.Context) bool {
	_, err := d.cli.Ping(ctx)
	return err == nil
}

func (d *Docker) FromTrustedRegistry(img string) bool {
	return d.registry.Allows(img)
}

// Pull fetches the image, decoding the daemon's progress stream into
// fractional updates.
func (d *Docker) Pull(ctx context.Context, img, tag string, progress ProgressFunc) error {
	if !d.FromTrustedRegistry(img) {
		return fmt.Errorf("image %q is not from a trusted registry", img)
	}
	ref := img
	if tag != "" {
		ref = img + ":" + tag
	}

	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	defer rc.Close()

	return decodePullProgress(rc, progress)
}

// pullEvent is one line of the daemon's pull progress stream.
type pullEvent struct {
	Status         string `json:"status"`
	ID             string `json:"id"`
	Error          string `json:"error"`
	ProgressDetail struct {
		Current int64 `json:"current"`
		Total   int64 `json:"total"`
	} `json:"progressDetail"`
}

// decodePullProgress folds per-layer byte counts into one overall fraction.
func decodePullProgress(r io.Reader, progress ProgressFunc) error {
	type layer struct{ current, total int64 }
	layers := make(map[string]*layer)
	dec := json.NewDecoder(r)
	for {
		var ev pullEvent
		if err := dec.Decode(&ev); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("failed to decode pull progress: %w", err)
		}
		if ev.Error != "" {
			return fmt.Errorf("image pull failed: %s", ev.Error)
		}
		if ev.ID != "" && ev.ProgressDetail.Total > 0 {
			l := layers[ev.ID]
			if l == nil {
				l = &layer{}
				layers[ev.ID] = l
			}
			l.current = ev.ProgressDetail.Current
			l.total = ev.ProgressDetail.Total
		}
		if progress == nil {
			continue
		}
		var current, total int64
		for _, l := range layers {
			current += l.current
			total += l.total
		}
		if total > 0 {
			progress(float64(current)/float64(total), ev.Status)
		} else {
			progress(0, ev.Status)
		}
	}
	if progress != nil {
		progress(1, "pull complete")
	}
	return nil
}

// CreateAndStart launches the plugin container with PluginPort published on
// an ephemeral loopback port.
func (d *Docker) CreateAndStart(ctx context.Context, img, name string, env map[string]string) (*Container, error) {
	exposed := nat.Port(fmt.Sprintf("%d/tcp", PluginPort))

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image: img,
			Env:   envList,
			Labels: map[string]string{
				LabelPlugin:     "true",
				LabelPluginName: name,
			},
			ExposedPorts: nat.PortSet{exposed: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				exposed: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
			},
		},
		nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container for %s: %w", name, err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", name, err)
	}

	port, err := d.mappedPort(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	d.log.Info("plugin container started", "name", name, "container_id", created.ID, "port", port)
	return &Container{ID: created.ID, Name: name, Image: img, Port: port, State: "running"}, nil
}

// mappedPort finds the loopback port the daemon assigned to PluginPort.
func (d *Docker) mappedPort(ctx context.Context, id string) (int, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	exposed := nat.Port(fmt.Sprintf("%d/tcp", PluginPort))
	bindings := info.NetworkSettings.Ports[exposed]
	if len(bindings) == 0 {
		return 0, fmt.Errorf("container %s has no binding for port %d", id, PluginPort)
	}
	port, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("container %s has invalid host port %q", id, bindings[0].HostPort)
	}
	return port, nil
}

// WaitHealthy polls the container until it runs (and, when it defines a
// healthcheck, reports healthy).
func (d *Docker) WaitHealthy(ctx context.Context, id string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		info, err := d.cli.ContainerInspect(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to inspect container %s: %w", id, err)
		}
		if info.State != nil && info.State.Running {
			if info.State.Health == nil || info.State.Health.Status == "healthy" {
				return nil
			}
		}
		if info.State != nil && info.State.Dead {
			return fmt.Errorf("container %s died before becoming healthy", id)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("container %s not healthy after %s", id, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Docker) Stop(ctx context.Context, id string) error {
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

func (d *Docker) Remove(ctx context.Context, id string) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// Logs returns the tail of the container's combined output.
func (d *Docker) Logs(ctx context.Context, id string, tailLines int) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tailLines),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read logs of %s: %w", id, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("failed to demux logs of %s: %w", id, err)
	}
	return buf.String(), nil
}

// ListPlugins enumerates containers carrying the plugin label.
func (d *Docker) ListPlugins(ctx context.Context) ([]*Container, error) {
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelPlugin+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list plugin containers: %w", err)
	}

	out := make([]*Container, 0, len(summaries))
	for _, s := range summaries {
		c := &Container{
			ID:    s.ID,
			Name:  s.Labels[LabelPluginName],
			Image: s.Image,
			State: string(s.State),
		}
		for _, p := range s.Ports {
			if int(p.PrivatePort) == PluginPort && p.PublicPort != 0 {
				c.Port = int(p.PublicPort)
				break
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Endpoint resolves the loopback URL of the published plugin port.
func (d *Docker) Endpoint(ctx context.Context, id string) (string, error) {
	port, err := d.mappedPort(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://localhost:%d", port), nil
}
