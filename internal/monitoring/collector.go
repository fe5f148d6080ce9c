package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/license-watch/internal/model"
)

// Snapshot holds a point-in-time view of workflow run health.
type Snapshot struct {
	// Counts over the most recent Window runs.
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Running   int     `json:"running"`
	FailRate  float64 `json:"fail_rate"`
	Window    int     `json:"window"`

	// LastSuccess is nil when no run has ever succeeded.
	LastSuccess *time.Time `json:"last_success,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
}

// RunSource is the subset of the run history the collector reads.
type RunSource interface {
	List(ctx context.Context, limit int) ([]model.Run, error)
	LastSuccess(ctx context.Context) (*model.Run, error)
}

// Collector gathers run health from the history store.
type Collector struct {
	runs RunSource
	now  func() time.Time
}

// NewCollector creates a collector over runs.
func NewCollector(runs RunSource) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect summarizes the most recent window runs.
func (c *Collector) Collect(ctx context.Context, window int) (*Snapshot, error) {
	if window <= 0 {
		window = 10
	}
	snap := &Snapshot{
		Window:      window,
		CollectedAt: c.now().UTC(),
	}

	runs, err := c.runs.List(ctx, window)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.Total = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusSucceeded:
			snap.Succeeded++
		case model.RunStatusFailed:
			snap.Failed++
		case model.RunStatusRunning:
			snap.Running++
		}
	}
	if finished := snap.Succeeded + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	last, err := c.runs.LastSuccess(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last success")
	}
	if last != nil {
		at := last.StartedAt
		if last.FinishedAt != nil {
			at = *last.FinishedAt
		}
		snap.LastSuccess = &at
	}

	return snap, nil
}
