package engine

import (
	"context"
	"time"

	"github.com/lyzr/flowcore/common/journal"
)

// defaultTimerBatch caps how many due timers one poll processes.
const defaultTimerBatch = 50

// TimerWorker polls the pause journal for due timer suspensions (waits,
// rate-limit delays) and resumes their executions. Run one per process;
// concurrent pollers are safe because resume deletes the record first-wins.
type TimerWorker struct {
	engine   *Engine
	journal  journal.Store
	log      Logger
	interval time.Duration
	batch    int
}

// NewTimerWorker creates a poller. Interval defaults to one second.
func NewTimerWorker(e *Engine, jr journal.Store, log Logger, interval time.Duration) *TimerWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &TimerWorker{
		engine:   e,
		journal:  jr,
		log:      log,
		interval: interval,
		batch:    defaultTimerBatch,
	}
}

// Run blocks polling until the context is cancelled.
func (w *TimerWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.log.Info("timer worker started", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			w.log.Info("timer worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick resumes every due timer record.
func (w *TimerWorker) tick(ctx context.Context) {
	due, err := w.journal.ListDue(ctx, time.Now().UTC(), w.batch)
	if err != nil {
		w.log.Error("failed to list due timers", "error", err)
		return
	}
	for _, rec := range due {
		if ctx.Err() != nil {
			return
		}
		// The pause hint doubles as resume data so handlers see when and
		// why they were suspended.
		if _, err := w.engine.Resume(ctx, rec.ExecutionID, rec.NodeID, rec.Payload); err != nil {
			w.log.Error("timer resume failed",
				"execution_id", rec.ExecutionID, "node_id", rec.NodeID, "error", err)
		}
	}
}
