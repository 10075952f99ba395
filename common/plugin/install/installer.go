package install

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowcore/common/events"
	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/plugin"
	"github.com/lyzr/flowcore/common/queue"
)

// Topic is the queue topic install jobs travel on.
const Topic = "plugin.install"

const (
	defaultWorkers       = 2
	defaultHealthTimeout = 2 * time.Minute

	// Progress checkpoints per stage; the pull stage interpolates between
	// its bounds from the runtime's byte counters.
	progressQueued    = 0
	progressPullStart = 5
	progressPullEnd   = 50
	progressStarting  = 55
	progressHealth    = 80
	progressDone      = 100
)

// errCancelled signals that a concurrent cancel won a stage transition.
var errCancelled = errors.New("install task cancelled")

// Request is what a user submits to install a plugin.
type Request struct {
	Image    string          `json:"image"`
	Tag      string          `json:"tag,omitempty"`
	Manifest plugin.Manifest `json:"manifest"`
}

// Options tunes the installer worker pool.
type Options struct {
	// Workers is the number of concurrent installs (default 2).
	Workers int
	// HealthTimeout bounds the health-check stage (default 2m).
	HealthTimeout time.Duration
}

// Metrics tracks in-flight installs. Optional.
type Metrics interface {
	InstallStarted()
	InstallFinished()
}

// Installer accepts install requests, runs them through a worker pool, and
// registers the resulting plugin handler on success.
type Installer struct {
	store    Store
	queue    queue.Queue
	orch     plugin.Orchestrator
	invoker  *plugin.Invoker
	registry *node.Registry
	events   events.Publisher
	log      plugin.Logger
	metrics  Metrics
	opts     Options
}

// SetMetrics attaches an install gauge; call before Start.
func (i *Installer) SetMetrics(m Metrics) { i.metrics = m }

// NewInstaller wires an installer. A nil publisher or logger is allowed.
func NewInstaller(st Store, q queue.Queue, orch plugin.Orchestrator, inv *plugin.Invoker,
	reg *node.Registry, pub events.Publisher, log plugin.Logger, opts Options) *Installer {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = defaultHealthTimeout
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Installer{
		store:    st,
		queue:    q,
		orch:     orch,
		invoker:  inv,
		registry: reg,
		events:   pub,
		log:      log,
		opts:     opts,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (i *Installer) Start(ctx context.Context) error {
	for w := 0; w < i.opts.Workers; w++ {
		if err := i.queue.Subscribe(ctx, Topic, i.process); err != nil {
			return fmt.Errorf("failed to subscribe install worker: %w", err)
		}
	}
	return nil
}

// Enqueue validates the request, persists a queued task, and hands it to the
// worker pool. Untrusted images are rejected before a task is created.
func (i *Installer) Enqueue(ctx context.Context, userID string, req Request) (*Task, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if req.Image == "" {
		return nil, fmt.Errorf("image is required")
	}
	if req.Manifest.NodeType == "" {
		return nil, fmt.Errorf("manifest node_type is required")
	}
	if !i.orch.FromTrustedRegistry(req.Image) {
		return nil, fmt.Errorf("image %q is not from a trusted registry", req.Image)
	}

	t := &Task{
		ID:           uuid.NewString(),
		UserID:       userID,
		Image:        req.Image,
		Tag:          req.Tag,
		Manifest:     req.Manifest,
		Status:       StatusQueued,
		CurrentStage: "queued",
		Progress:     progressQueued,
	}
	if err := i.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to persist install task: %w", err)
	}
	if err := i.queue.Publish(ctx, Topic, t.ID, []byte(t.ID)); err != nil {
		return nil, fmt.Errorf("failed to enqueue install task: %w", err)
	}
	i.publishProgress(ctx, t)
	return t, nil
}

// Status returns the task, restricted to its owner.
func (i *Installer) Status(ctx context.Context, taskID, userID string) (*Task, error) {
	t, err := i.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrForbidden
	}
	return t, nil
}

// List returns the user's tasks, optionally only the unfinished ones.
func (i *Installer) List(ctx context.Context, userID string, activeOnly bool) ([]*Task, error) {
	return i.store.List(ctx, userID, activeOnly)
}

// Cancel marks a non-terminal task cancelled. The worker observes the
// terminal state at its next stage boundary and cleans up any workload it
// already started.
func (i *Installer) Cancel(ctx context.Context, taskID, userID string) (*Task, error) {
	t, err := i.Status(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, ErrTerminal
	}
	t.Status = StatusCancelled
	t.CurrentStage = "cancelled"
	if err := i.store.Update(ctx, t); err != nil {
		return nil, err
	}
	i.publishProgress(ctx, t)
	return t, nil
}

// process runs one install end to end. It is the queue message handler.
func (i *Installer) process(ctx context.Context, key string, _ []byte) error {
	t, err := i.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load install task %s: %w", key, err)
	}
	if !t.Active() {
		return nil
	}
	if i.metrics != nil {
		i.metrics.InstallStarted()
		defer i.metrics.InstallFinished()
	}
	if err := i.run(ctx, t); err != nil {
		if errors.Is(err, errCancelled) {
			i.cleanup(ctx, t)
			return nil
		}
		i.fail(ctx, t, err)
	}
	return nil
}

func (i *Installer) run(ctx context.Context, t *Task) error {
	ref := imageRef(t.Image, t.Tag)

	if err := i.advance(ctx, t, StatusPulling, "pulling image", progressPullStart); err != nil {
		return err
	}
	if err := i.orch.Pull(ctx, t.Image, t.Tag, i.pullProgress(ctx, t)); err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, err)
	}

	if err := i.advance(ctx, t, StatusStarting, "starting workload", progressStarting); err != nil {
		return err
	}
	c, err := i.orch.CreateAndStart(ctx, ref, workloadName(t), t.Manifest.Env)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", ref, err)
	}
	t.ContainerID = c.ID

	if err := i.advance(ctx, t, StatusHealthChecking, "waiting for health", progressHealth); err != nil {
		return err
	}
	if err := i.orch.WaitHealthy(ctx, c.ID, i.opts.HealthTimeout); err != nil {
		return fmt.Errorf("plugin never became healthy: %w", err)
	}

	endpoint, err := i.orch.Endpoint(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin endpoint: %w", err)
	}
	t.Endpoint = endpoint
	if err := i.advance(ctx, t, StatusCompleted, "completed", progressDone); err != nil {
		return err
	}

	i.registry.Replace(plugin.NewHandler(t.Manifest, endpoint, i.invoker))
	i.log.Info("plugin installed",
		"task_id", t.ID, "node_type", t.Manifest.NodeType, "endpoint", endpoint)
	return nil
}

// advance moves the task to the next stage. An ErrTerminal from the store
// means a concurrent cancel won; the caller tears down and stops.
func (i *Installer) advance(ctx context.Context, t *Task, status Status, stage string, progress int) error {
	t.Status = status
	t.CurrentStage = stage
	if progress > t.Progress {
		t.Progress = progress
	}
	if err := i.store.Update(ctx, t); err != nil {
		if errors.Is(err, ErrTerminal) {
			return errCancelled
		}
		return fmt.Errorf("failed to advance install task: %w", err)
	}
	i.publishProgress(ctx, t)
	return nil
}

// pullProgress maps the runtime's pull fraction onto this task's progress
// window, persisting only whole-point increases.
func (i *Installer) pullProgress(ctx context.Context, t *Task) plugin.ProgressFunc {
	span := progressPullEnd - progressPullStart
	return func(fraction float64, status string) {
		p := progressPullStart + int(fraction*float64(span))
		if p <= t.Progress {
			return
		}
		t.Progress = p
		t.CurrentStage = status
		if err := i.store.Update(ctx, t); err != nil {
			return
		}
		i.publishProgress(ctx, t)
	}
}

func (i *Installer) fail(ctx context.Context, t *Task, cause error) {
	i.cleanup(ctx, t)
	t.Status = StatusFailed
	t.ErrorMessage = cause.Error()
	if err := i.store.Update(ctx, t); err != nil {
		i.log.Error("failed to record install failure", "task_id", t.ID, "error", err)
		return
	}
	i.log.Warn("plugin install failed", "task_id", t.ID, "image", t.Image, "error", cause)
	i.publishProgress(ctx, t)
}

// cleanup removes a workload the worker already started.
func (i *Installer) cleanup(ctx context.Context, t *Task) {
	if t.ContainerID == "" {
		return
	}
	if err := i.orch.Remove(ctx, t.ContainerID); err != nil {
		i.log.Warn("failed to remove plugin workload", "task_id", t.ID, "container_id", t.ContainerID, "error", err)
	}
}

func (i *Installer) publishProgress(ctx context.Context, t *Task) {
	e := &events.Event{
		ExecutionID: t.ID,
		Type:        events.TypeInstallProgress,
		Data: map[string]interface{}{
			"task_id":  t.ID,
			"status":   string(t.Status),
			"stage":    t.CurrentStage,
			"progress": t.Progress,
		},
	}
	if t.ErrorMessage != "" {
		e.Data["error"] = t.ErrorMessage
	}
	if err := i.events.Publish(ctx, e); err != nil {
		i.log.Warn("failed to publish install progress", "task_id", t.ID, "error", err)
	}
}

func imageRef(image, tag string) string {
	if tag == "" {
		return image
	}
	return image + ":" + tag
}

// workloadName derives a runtime-safe workload name from the node type and
// task id.
func workloadName(t *Task) string {
	base := strings.ToLower(t.Manifest.NodeType)
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, base)
	mapped = strings.Trim(mapped, "-")
	if mapped == "" {
		mapped = "plugin"
	}
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "plugin-" + mapped + "-" + id
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}
