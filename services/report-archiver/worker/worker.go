package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Mutter0815/OABroadcast/pkg/logx"
	"github.com/Mutter0815/OABroadcast/pkg/metrics"
	"github.com/Mutter0815/OABroadcast/pkg/model"
	"github.com/Mutter0815/OABroadcast/pkg/rmq"
)

const opTimeout = 5 * time.Second

var errNoRunID = errors.New("report has no run_id")

type archiveStore interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	InsertRun(ctx context.Context, tx *sql.Tx, r model.RunReport) (bool, error)
	InsertOutcome(ctx context.Context, tx *sql.Tx, runID string, o model.OutcomeRecord) error
}

type requeuer interface {
	PublishJSONWithHeaders(ctx context.Context, body []byte, headers amqp.Table) error
}

type Worker struct {
	Store           archiveStore
	Pub             requeuer
	MaxRedeliveries int
	Backoff         func(retries int) time.Duration
}

func New(st archiveStore, pub requeuer, maxRedeliveries int) *Worker {
	return &Worker{Store: st, Pub: pub, MaxRedeliveries: maxRedeliveries, Backoff: rmq.Backoff}
}

// Run archives deliveries until ctx is done or the channel closes.
func (w *Worker) Run(ctx context.Context, msgs <-chan amqp.Delivery) error {
	logx.L().Infow("archiver_started")
	for {
		select {
		case <-ctx.Done():
			logx.L().Infow("archiver_stopping")
			return ctx.Err()

		case d, ok := <-msgs:
			if !ok {
				logx.L().Warnw("consumer_channel_closed")
				return nil
			}
			w.Handle(ctx, d)
		}
	}
}

// Handle archives one report. Malformed payloads are dropped; storage
// errors are retried up to MaxRedeliveries times, then dropped.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	defer func() { metrics.ArchiverProcessDuration.Observe(time.Since(start).Seconds()) }()
	metrics.ArchiverReportsConsumed.Inc()

	var rep model.RunReport
	if err := json.Unmarshal(d.Body, &rep); err != nil {
		logx.L().Warnw("report_unmarshal_error", "error", err)
		metrics.ArchiverReportsFailed.Inc()
		_ = d.Ack(false)
		return
	}
	if rep.RunID == "" {
		logx.L().Warnw("report_invalid", "error", errNoRunID)
		metrics.ArchiverReportsFailed.Inc()
		_ = d.Ack(false)
		return
	}
	fields := []any{"run_id", rep.RunID, "outcomes", len(rep.Outcomes)}

	dbCtx, cancel := context.WithTimeout(ctx, opTimeout)
	var inserted bool
	err := w.Store.WithTx(dbCtx, func(tx *sql.Tx) error {
		var err error
		inserted, err = w.Store.InsertRun(dbCtx, tx, rep)
		if err != nil || !inserted {
			return err
		}
		for _, o := range rep.Outcomes {
			if err := w.Store.InsertOutcome(dbCtx, tx, rep.RunID, o); err != nil {
				return err
			}
		}
		return nil
	})
	cancel()

	if err != nil {
		w.retry(ctx, d, append(fields, "error", err))
		return
	}
	if !inserted {
		logx.L().Infow("report_duplicate", fields...)
		_ = d.Ack(false)
		return
	}

	metrics.ArchiverReportsArchived.Inc()
	logx.L().Infow("report_archived", fields...)
	_ = d.Ack(false)
}

func (w *Worker) retry(ctx context.Context, d amqp.Delivery, fields []any) {
	logx.L().Errorw("db_archive_error", fields...)

	retries := rmq.Retries(d.Headers)
	if retries >= w.MaxRedeliveries {
		logx.L().Warnw("drop_after_retries", append(fields, "retries", retries)...)
		metrics.ArchiverReportsFailed.Inc()
		_ = d.Ack(false)
		return
	}

	delay := time.Duration(0)
	if w.Backoff != nil {
		delay = w.Backoff(retries + 1)
	}
	logx.L().Infow("retry_requeue", append(fields, "retries", retries+1, "delay", delay.String())...)
	if err := w.requeueMessage(ctx, d, retries+1, delay); err != nil {
		logx.L().Errorw("retry_publish_error", append(fields, "retries", retries+1, "publish_error", err)...)
		_ = d.Nack(false, true)
	}
}

func (w *Worker) requeueMessage(ctx context.Context, d amqp.Delivery, retries int, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := w.Pub.PublishJSONWithHeaders(pubCtx, d.Body, rmq.WithRetries(d.Headers, retries)); err != nil {
		return err
	}
	return d.Ack(false)
}
