package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/OABroadcast/pkg/logx"
	"github.com/Mutter0815/OABroadcast/pkg/metrics"
	"github.com/Mutter0815/OABroadcast/pkg/model"
)

const publishTimeout = 5 * time.Second

// ReportSink receives every finished run.
type ReportSink interface {
	PublishJSON(ctx context.Context, body []byte) error
}

// Snapshot is the live view of the current (or last) run.
type Snapshot struct {
	RunID      string    `json:"run_id,omitempty"`
	State      State     `json:"state"`
	Planned    int       `json:"planned"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Runner runs at most one broadcast at a time in the background.
type Runner struct {
	d    *Driver
	sink ReportSink

	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner wraps d. sink may be nil.
func NewRunner(d *Driver, sink ReportSink) *Runner {
	return &Runner{d: d, sink: sink, snap: Snapshot{State: StateIdle, Outcomes: []Outcome{}}}
}

// Start launches a run and returns its id without waiting for it.
func (r *Runner) Start(req Request) (string, error) {
	if len(req.Recipients) == 0 {
		return "", ErrNoRecipients
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State == StateRunning {
		return "", ErrBusy
	}

	req.RunID = uuid.NewString()
	planned := len(req.Recipients)
	if planned > MaxBatch {
		planned = MaxBatch
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.snap = Snapshot{
		RunID:     req.RunID,
		State:     StateRunning,
		Planned:   planned,
		StartedAt: r.d.now(),
		Outcomes:  make([]Outcome, 0, planned),
	}

	go r.run(ctx, req, r.done)
	return req.RunID, nil
}

func (r *Runner) run(ctx context.Context, req Request, done chan struct{}) {
	defer close(done)

	rep, err := r.d.Run(ctx, req, r.observe)
	if err != nil {
		rep.State = StateIdle
	}

	r.mu.Lock()
	r.snap.State = rep.State
	r.snap.FinishedAt = rep.FinishedAt
	r.cancel()
	r.cancel = nil
	r.mu.Unlock()

	if err == nil {
		r.publish(rep.Wire())
	}
}

func (r *Runner) observe(p Progress) {
	r.mu.Lock()
	r.snap.Processed = p.Processed
	r.snap.Succeeded = p.Succeeded
	r.snap.Failed = p.Failed
	r.snap.Outcomes = append(r.snap.Outcomes, p.Last)
	r.mu.Unlock()
}

func (r *Runner) publish(rep model.RunReport) {
	if r.sink == nil {
		return
	}
	body, err := json.Marshal(rep)
	if err != nil {
		logx.L().Errorw("report_encode_failed", "run_id", rep.RunID, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.sink.PublishJSON(ctx, body); err != nil {
		logx.L().Warnw("report_publish_failed", "run_id", rep.RunID, "err", err)
		return
	}
	metrics.ReportsPublishedTotal.Inc()
}

// Snapshot returns a copy of the live state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snap
	s.Outcomes = append([]Outcome(nil), r.snap.Outcomes...)
	return s
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.State == StateRunning
}

// Cancel asks the current run to stop after the recipient in flight.
// It reports whether a run was there to cancel.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State != StateRunning || r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until the current run, if any, has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
