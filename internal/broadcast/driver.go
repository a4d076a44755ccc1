package broadcast

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/OABroadcast/internal/compose"
	"github.com/Mutter0815/OABroadcast/internal/gateway"
	"github.com/Mutter0815/OABroadcast/internal/history"
	"github.com/Mutter0815/OABroadcast/internal/recipient"
	"github.com/Mutter0815/OABroadcast/pkg/logx"
	"github.com/Mutter0815/OABroadcast/pkg/metrics"
)

const (
	// MaxBatch is the most recipients one run will attempt.
	MaxBatch    = 50
	DefaultPace = 100 * time.Millisecond

	reasonCooldown   = "cooldown active"
	reasonConnection = "connection error"
)

var (
	ErrNoRecipients = errors.New("no recipients")
	ErrNoSelfID     = errors.New("self-test user id is not configured")
	ErrBusy         = errors.New("a broadcast is already running")
)

type Sender interface {
	SendPromotion(ctx context.Context, token string, m compose.Message) error
}

type Ledger interface {
	IsBlocked(ctx context.Context, id string, now time.Time) (bool, error)
	Record(ctx context.Context, id string, now time.Time) error
}

type History interface {
	Record(ctx context.Context, r recipient.Recipient, code string, now time.Time) (history.Item, error)
}

// Request is everything one run needs. RunID is generated when empty.
type Request struct {
	RunID        string
	Recipients   []recipient.Recipient
	Template     compose.Template
	AttachmentID string
	Token        string
}

// Driver sends one composed message per recipient, strictly in order and
// one at a time.
type Driver struct {
	sender  Sender
	ledger  Ledger
	history History
	pace    time.Duration
	now     func() time.Time
}

func NewDriver(s Sender, l Ledger, h History, pace time.Duration) *Driver {
	if pace < 0 {
		pace = 0
	}
	return &Driver{sender: s, ledger: l, history: h, pace: pace, now: time.Now}
}

// Run works through at most MaxBatch recipients. Per-recipient problems are
// outcomes, not errors; the only error is ErrNoRecipients, returned before
// anything is touched. Cancelling ctx stops the run between recipients.
func (d *Driver) Run(ctx context.Context, req Request, onProgress func(Progress)) (Report, error) {
	if len(req.Recipients) == 0 {
		return Report{State: StateIdle}, ErrNoRecipients
	}
	batch := req.Recipients
	if len(batch) > MaxBatch {
		batch = batch[:MaxBatch]
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	rep := Report{
		RunID:     req.RunID,
		State:     StateRunning,
		StartedAt: d.now(),
		Planned:   len(batch),
		Outcomes:  make([]Outcome, 0, len(batch)),
	}
	log := logx.With("run_id", rep.RunID)
	log.Infow("broadcast_started", "recipients", len(batch), "dropped", len(req.Recipients)-len(batch))

	for i, r := range batch {
		if ctx.Err() != nil {
			rep.State = StateCancelled
			break
		}

		o := d.sendOne(ctx, req, r, false)
		rep.add(o)
		metrics.BroadcastOutcomesTotal.WithLabelValues(string(o.Status)).Inc()
		if o.OK() {
			log.Infow("recipient_sent", "user_id", o.RecipientID)
		} else {
			log.Infow("recipient_failed", "user_id", o.RecipientID, "status", o.Status, "reason", o.Reason)
		}
		if onProgress != nil {
			onProgress(Progress{
				RunID:     rep.RunID,
				Planned:   rep.Planned,
				Processed: rep.Total,
				Succeeded: rep.Succeeded,
				Failed:    rep.Failed,
				Last:      o,
			})
		}

		if i < len(batch)-1 {
			d.wait(ctx)
		}
	}

	if rep.State == StateRunning {
		rep.State = StateCompleted
	}
	rep.FinishedAt = d.now()
	metrics.BroadcastRunsTotal.WithLabelValues(string(rep.State)).Inc()
	log.Infow("broadcast_finished",
		"state", rep.State,
		"total", rep.Total,
		"succeeded", rep.Succeeded,
		"failed", rep.Failed,
		"took", rep.FinishedAt.Sub(rep.StartedAt).String(),
	)
	return rep, nil
}

// SendSelf sends the current message to the operator's own id. It skips the
// cooldown check and records nothing in the ledger or history.
func (d *Driver) SendSelf(ctx context.Context, req Request, selfID string) (Outcome, error) {
	selfID = strings.TrimSpace(selfID)
	if selfID == "" {
		return Outcome{}, ErrNoSelfID
	}
	r := recipient.Recipient{ID: selfID}
	for _, c := range req.Recipients {
		if c.ID == selfID {
			r = c
			break
		}
	}
	o := d.sendOne(ctx, req, r, true)
	logx.L().Infow("self_test_sent", "user_id", selfID, "status", o.Status, "reason", o.Reason)
	return o, nil
}

func (d *Driver) wait(ctx context.Context) {
	if d.pace <= 0 {
		return
	}
	t := time.NewTimer(d.pace)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (d *Driver) sendOne(ctx context.Context, req Request, r recipient.Recipient, self bool) Outcome {
	o := Outcome{RecipientID: r.ID}
	done := func(s Status, reason string) Outcome {
		o.Status, o.Reason, o.At = s, reason, d.now()
		return o
	}

	if strings.TrimSpace(req.Token) == "" {
		return done(StatusInvalid, gateway.ErrNoToken.Error())
	}
	if strings.TrimSpace(req.AttachmentID) == "" {
		return done(StatusInvalid, compose.ErrNoAttachment.Error())
	}

	// an in-flight send is allowed to finish when the run is cancelled
	sctx := context.WithoutCancel(ctx)

	if !self {
		blocked, err := d.ledger.IsBlocked(sctx, r.ID, d.now())
		if err != nil {
			return done(StatusFailed, "cooldown check: "+err.Error())
		}
		if blocked {
			return done(StatusCooldown, reasonCooldown)
		}
	}

	m, err := compose.Build(req.Template, r, req.AttachmentID)
	if err != nil {
		return done(StatusInvalid, err.Error())
	}
	o.Code = compose.CodeUsed(req.Template, r)

	if err := d.sender.SendPromotion(sctx, req.Token, m); err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			o.GatewayCode = apiErr.Code
			return done(StatusFailed, apiErr.Message)
		}
		return done(StatusFailed, reasonConnection+": "+err.Error())
	}

	out := done(StatusSent, "")
	if self {
		return out
	}
	if err := d.ledger.Record(sctx, r.ID, out.At); err != nil {
		logx.L().Errorw("cooldown_record_failed", "user_id", r.ID, "err", err)
	}
	if _, err := d.history.Record(sctx, r, out.Code, out.At); err != nil {
		logx.L().Errorw("history_record_failed", "user_id", r.ID, "err", err)
	}
	return out
}
