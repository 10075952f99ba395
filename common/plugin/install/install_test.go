package install

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/plugin"
	"github.com/lyzr/flowcore/common/queue"
)

// fakeRuntime is an in-memory plugin.Orchestrator for installer tests.
type fakeRuntime struct {
	mu        sync.Mutex
	policy    *plugin.RegistryPolicy
	pullErr   error
	healthErr error
	started   []string
	removed   []string
	block     chan struct{}
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{policy: plugin.NewRegistryPolicy([]string{"docker.io"})}
}

func (f *fakeRuntime) Available(context.Context) bool          { return true }
func (f *fakeRuntime) Type() string                            { return "fake" }
func (f *fakeRuntime) FromTrustedRegistry(image string) bool   { return f.policy.Allows(image) }
func (f *fakeRuntime) Stop(context.Context, string) error      { return nil }
func (f *fakeRuntime) Logs(context.Context, string, int) (string, error) { return "", nil }
func (f *fakeRuntime) ListPlugins(context.Context) ([]*plugin.Container, error) {
	return nil, nil
}

func (f *fakeRuntime) Pull(ctx context.Context, image, tag string, progress plugin.ProgressFunc) error {
	if f.pullErr != nil {
		return f.pullErr
	}
	if f.block != nil {
		<-f.block
	}
	progress(0.5, "downloading")
	progress(1, "pull complete")
	return nil
}

func (f *fakeRuntime) CreateAndStart(ctx context.Context, image, name string, env map[string]string) (*plugin.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return &plugin.Container{ID: "ctr-" + name, Name: name, Image: image, Port: 12345}, nil
}

func (f *fakeRuntime) WaitHealthy(ctx context.Context, id string, timeout time.Duration) error {
	return f.healthErr
}

func (f *fakeRuntime) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) Endpoint(ctx context.Context, id string) (string, error) {
	return "http://localhost:12345", nil
}

func newTestInstaller(t *testing.T, rt *fakeRuntime) (*Installer, *node.Registry, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	reg := node.NewRegistry(nil)
	inst := NewInstaller(NewMemoryStore(), queue.NewMemoryQueue(nil), rt,
		plugin.NewInvoker(nil, nil), reg, nil, nil, Options{Workers: 1})
	require.NoError(t, inst.Start(ctx))
	t.Cleanup(cancel)
	return inst, reg, cancel
}

func waitTerminal(t *testing.T, inst *Installer, taskID, userID string) *Task {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		task, err := inst.Status(context.Background(), taskID, userID)
		require.NoError(t, err)
		if task.Status.Terminal() {
			return task
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached a terminal state (last: %s)", taskID, task.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestInstallHappyPathRegistersHandler(t *testing.T) {
	rt := newFakeRuntime()
	inst, reg, _ := newTestInstaller(t, rt)

	task, err := inst.Enqueue(context.Background(), "u1", Request{
		Image:    "acme/sentiment",
		Tag:      "1.2.0",
		Manifest: plugin.Manifest{NodeType: "sentimentAnalysis"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, task.Status)

	done := waitTerminal(t, inst, task.ID, "u1")
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, "http://localhost:12345", done.Endpoint)
	assert.NotEmpty(t, done.ContainerID)

	h, ok := reg.Get("sentimentAnalysis")
	require.True(t, ok)
	assert.Equal(t, "plugin", h.Category())
}

func TestInstallRejectsUntrustedRegistry(t *testing.T) {
	inst, _, _ := newTestInstaller(t, newFakeRuntime())

	_, err := inst.Enqueue(context.Background(), "u1", Request{
		Image:    "evil.example.com/malware",
		Manifest: plugin.Manifest{NodeType: "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted registry")
}

func TestInstallFailureRecordsErrorAndCleansUp(t *testing.T) {
	rt := newFakeRuntime()
	rt.healthErr = fmt.Errorf("readiness probe failed")
	inst, reg, _ := newTestInstaller(t, rt)

	task, err := inst.Enqueue(context.Background(), "u1", Request{
		Image:    "acme/broken",
		Manifest: plugin.Manifest{NodeType: "brokenPlugin"},
	})
	require.NoError(t, err)

	done := waitTerminal(t, inst, task.ID, "u1")
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "readiness probe failed")
	assert.Len(t, rt.removed, 1)

	_, ok := reg.Get("brokenPlugin")
	assert.False(t, ok)
}

func TestCancelWinsOverRunningInstall(t *testing.T) {
	rt := newFakeRuntime()
	rt.block = make(chan struct{})
	inst, _, _ := newTestInstaller(t, rt)

	ctx := context.Background()
	task, err := inst.Enqueue(ctx, "u1", Request{
		Image:    "acme/slow",
		Manifest: plugin.Manifest{NodeType: "slowPlugin"},
	})
	require.NoError(t, err)

	// Let the worker enter the pull stage, then cancel underneath it.
	require.Eventually(t, func() bool {
		cur, err := inst.Status(ctx, task.ID, "u1")
		return err == nil && cur.Status == StatusPulling
	}, time.Second, 5*time.Millisecond)

	cancelled, err := inst.Cancel(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	close(rt.block)

	// The worker's next stage transition loses against the terminal state.
	time.Sleep(50 * time.Millisecond)
	final, err := inst.Status(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)

	_, err = inst.Cancel(ctx, task.ID, "u1")
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestStatusIsOwnerOnly(t *testing.T) {
	inst, _, _ := newTestInstaller(t, newFakeRuntime())

	task, err := inst.Enqueue(context.Background(), "u1", Request{
		Image:    "acme/thing",
		Manifest: plugin.Manifest{NodeType: "thing"},
	})
	require.NoError(t, err)

	_, err = inst.Status(context.Background(), task.ID, "someone-else")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListFiltersByUserAndActivity(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, &Task{ID: "a", UserID: "u1", Status: StatusQueued}))
	require.NoError(t, st.Create(ctx, &Task{ID: "b", UserID: "u1", Status: StatusCompleted}))
	require.NoError(t, st.Create(ctx, &Task{ID: "c", UserID: "u2", Status: StatusQueued}))

	all, err := st.List(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := st.List(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
}

func TestStoreRejectsProgressRegression(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	task := &Task{ID: "t", UserID: "u1", Status: StatusPulling, Progress: 40}
	require.NoError(t, st.Create(ctx, task))

	task.Progress = 30
	assert.ErrorIs(t, st.Update(ctx, task), ErrProgressRegression)

	task.Progress = 55
	task.Status = StatusStarting
	assert.NoError(t, st.Update(ctx, task))
}

func TestStoreKeepsTerminalTasksImmutable(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	task := &Task{ID: "t", UserID: "u1", Status: StatusFailed, Progress: 60}
	require.NoError(t, st.Create(ctx, task))

	task.Status = StatusCompleted
	task.Progress = 100
	assert.ErrorIs(t, st.Update(ctx, task), ErrTerminal)
}
