// Package install runs plugin installation jobs: pull the image, start the
// workload, wait for health, then register the plugin's node handler. Each
// job is a task moving through a small state machine with monotone progress.
package install

import (
	"errors"
	"time"

	"github.com/lyzr/flowcore/common/plugin"
)

// Status is the install task state.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusPulling        Status = "pulling"
	StatusStarting       Status = "starting"
	StatusHealthChecking Status = "healthChecking"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrNotFound is returned when no task exists for the id.
	ErrNotFound = errors.New("install task not found")
	// ErrDuplicate is returned when a task id already exists.
	ErrDuplicate = errors.New("install task already exists")
	// ErrTerminal is returned when updating a task already in a terminal
	// state.
	ErrTerminal = errors.New("install task is in a terminal state")
	// ErrProgressRegression is returned when an update lowers progress.
	ErrProgressRegression = errors.New("install task progress cannot decrease")
	// ErrForbidden is returned when a user touches another user's task.
	ErrForbidden = errors.New("install task belongs to another user")
)

// Task is one plugin installation job.
type Task struct {
	ID           string          `json:"task_id"`
	UserID       string          `json:"user_id"`
	Image        string          `json:"image"`
	Tag          string          `json:"tag,omitempty"`
	Manifest     plugin.Manifest `json:"manifest"`
	Status       Status          `json:"status"`
	CurrentStage string          `json:"current_stage"`
	Progress     int             `json:"progress"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ContainerID  string          `json:"container_id,omitempty"`
	Endpoint     string          `json:"endpoint,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Active reports whether the task is still being worked.
func (t *Task) Active() bool { return !t.Status.Terminal() }

// validateTransition enforces the state machine: terminal states are
// immutable and progress is monotone in [0,100].
func validateTransition(from, to *Task) error {
	if from.Status.Terminal() {
		return ErrTerminal
	}
	if to.Progress < from.Progress {
		return ErrProgressRegression
	}
	return nil
}

// clampProgress bounds progress to [0,100].
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
