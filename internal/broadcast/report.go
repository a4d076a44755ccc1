package broadcast

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Mutter0815/OABroadcast/pkg/model"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

type Status string

const (
	StatusSent     Status = "sent"
	StatusCooldown Status = "cooldown"
	StatusInvalid  Status = "invalid"
	StatusFailed   Status = "failed"
)

// Outcome is what happened to one recipient in a run.
type Outcome struct {
	RecipientID string    `json:"user_id"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	GatewayCode int       `json:"gateway_code,omitempty"`
	Code        string    `json:"code,omitempty"`
	At          time.Time `json:"at"`
}

func (o Outcome) OK() bool { return o.Status == StatusSent }

// Report is the final account of a run. Total counts attempted recipients,
// which is less than Planned only when the run was cancelled.
type Report struct {
	RunID      string    `json:"run_id"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Planned    int       `json:"planned"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Total++
	if o.OK() {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// Err folds every failed outcome into one error, or nil when all succeeded.
func (r Report) Err() error {
	var merr *multierror.Error
	for _, o := range r.Outcomes {
		if !o.OK() {
			merr = multierror.Append(merr, fmt.Errorf("%s: %s: %s", o.RecipientID, o.Status, o.Reason))
		}
	}
	return merr.ErrorOrNil()
}

// Wire converts the report to its queue payload.
func (r Report) Wire() model.RunReport {
	out := model.RunReport{
		RunID:      r.RunID,
		State:      string(r.State),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Total:      r.Total,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Outcomes:   make([]model.OutcomeRecord, len(r.Outcomes)),
	}
	for i, o := range r.Outcomes {
		out.Outcomes[i] = model.OutcomeRecord{
			RecipientID: o.RecipientID,
			Status:      string(o.Status),
			Reason:      o.Reason,
			GatewayCode: o.GatewayCode,
			Code:        o.Code,
			At:          o.At,
		}
	}
	return out
}

// Progress is published after every outcome.
type Progress struct {
	RunID     string
	Planned   int
	Processed int
	Succeeded int
	Failed    int
	Last      Outcome
}
