package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/rostersync/internal/record"
)

// batch accumulates the outcome of one stage: status writes waiting to be
// flushed and the unexpected-error count for the breaker.
type batch struct {
	e      *Engine
	log    *slog.Logger
	stage  record.Status
	rep    *CycleReport
	errors int

	order   []record.Status
	pending map[record.Status][]record.Record
}

func newBatch(e *Engine, log *slog.Logger, stage record.Status, rep *CycleReport) *batch {
	return &batch{
		e:       e,
		log:     log,
		stage:   stage,
		rep:     rep,
		pending: make(map[record.Status][]record.Record),
	}
}

func (b *batch) recordLog(r record.Record) *slog.Logger {
	return b.log.With("record_id", r.ID, "identity", r.Key())
}

// queue schedules r's transition on trig for the next flush.
func (b *batch) queue(r record.Record, trig record.Trigger) {
	to, err := record.Next(r.Status, trig)
	if err != nil {
		b.fail(r, "transition", err)
		return
	}
	if _, ok := b.pending[to]; !ok {
		b.order = append(b.order, to)
	}
	b.pending[to] = append(b.pending[to], r)
}

// applied records a transition the table already confirmed.
func (b *batch) applied(r record.Record, to record.Status) {
	b.rep.Applied = append(b.rep.Applied, Applied{RecordID: r.ID, Identity: r.Key(), From: r.Status, To: to})
	b.e.metrics.Transitions.WithLabelValues(string(r.Status), string(to)).Inc()
}

// fail logs an unexpected per-record error and counts it toward the breaker.
func (b *batch) fail(r record.Record, op string, err error) {
	b.errors++
	b.e.metrics.Actions.WithLabelValues(op, "error").Inc()
	b.recordLog(r).Error("record failed", "op", op, "error", err, "batch_errors", b.errors)
}

// tripped returns the breaker error once more than MaxBatchErrors
// unexpected errors have been counted.
func (b *batch) tripped() error {
	if b.errors > b.e.cfg.MaxBatchErrors {
		return newTooManyErrors(string(b.stage), b.errors, b.e.cfg.MaxBatchErrors)
	}
	return nil
}

// flush writes each target status in one batched call. Writes run even
// after shutdown was requested so confirmed side effects are reported.
func (b *batch) flush(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, to := range b.order {
		recs := b.pending[to]
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}

		if err := b.e.src.WriteStatus(ctx, ids, to); err != nil {
			b.e.abort(b.log, b.rep, newSourceError(string(b.stage), "write_status", err))
			b.log.Error("status write failed; ledger will re-route on next cycle",
				"status", string(to), "record_ids", ids)
			continue
		}
		for _, r := range recs {
			b.applied(r, to)
		}
		b.log.Info("status written", "status", string(to), "records", len(ids))
	}
}
