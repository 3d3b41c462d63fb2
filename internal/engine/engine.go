package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/gateway"
	"github.com/roach88/rostersync/internal/ledger"
	"github.com/roach88/rostersync/internal/record"
)

// Source reads and writes records in the external table.
type Source interface {
	Fetch(ctx context.Context, status record.Status) ([]record.Record, error)
	WriteStatus(ctx context.Context, ids []string, status record.Status) error
	WriteDoubleMarker(ctx context.Context, id, marker string) error
}

// Notifier delivers webhook notifications.
type Notifier interface {
	Notify(ctx context.Context, kind gateway.Kind, p gateway.Payload) error
}

// Membership resolves users and mutates the target group.
type Membership interface {
	Resolve(ctx context.Context, handle string, identity int64) (actuator.UserRef, error)
	Add(ctx context.Context, user actuator.UserRef) (actuator.AddResult, error)
	Remove(ctx context.Context, user actuator.UserRef, policy actuator.BanPolicy) error
}

const (
	// DefaultPollInterval is the sleep between cycles.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxBatchErrors is the unexpected-error count a batch may reach
	// before it is aborted.
	DefaultMaxBatchErrors = 10
)

// Config tunes the loop.
type Config struct {
	PollInterval   time.Duration
	MaxBatchErrors int
	DoublePrefix   string
	BanPolicy      actuator.BanPolicy
	GroupID        int64 // echoed in notification payloads
}

// Applied is one status transition confirmed by the table.
type Applied struct {
	RecordID string        `json:"record_id"`
	Identity string        `json:"identity"`
	From     record.Status `json:"from"`
	To       record.Status `json:"to"`
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Token    string
	Started  time.Time
	Finished time.Time
	Applied  []Applied
	Invalid  int
	Errors   []error
}

// OK reports whether the cycle finished without runtime errors.
func (r CycleReport) OK() bool { return len(r.Errors) == 0 }

// Engine is the single-worker reconciliation loop.
//
// Thread-safety model:
//   - Run() and RunCycle(): must be called from exactly one goroutine
//   - LastCycle(), LastProgress(): safe from any goroutine
type Engine struct {
	src     Source
	notify  Notifier
	members Membership
	ledger  ledger.Ledger
	cfg     Config

	clock    Clock
	tokens   TokenGenerator
	metrics  *Metrics
	logger   *slog.Logger
	observer func(CycleReport)

	mu       sync.Mutex
	last     *CycleReport
	progress time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTokenGenerator replaces the UUIDv7 cycle-token generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithMetrics records into m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCycleObserver calls fn with every finished cycle's report, from the
// loop goroutine.
func WithCycleObserver(fn func(CycleReport)) Option {
	return func(e *Engine) { e.observer = fn }
}

// New creates an engine. Zero Config fields take their defaults.
func New(src Source, n Notifier, m Membership, l ledger.Ledger, cfg Config, opts ...Option) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxBatchErrors <= 0 {
		cfg.MaxBatchErrors = DefaultMaxBatchErrors
	}
	if cfg.DoublePrefix == "" {
		cfg.DoublePrefix = record.DefaultDoublePrefix
	}

	e := &Engine{
		src:     src,
		notify:  n,
		members: m,
		ledger:  l,
		cfg:     cfg,
		clock:   systemClock{},
		tokens:  UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// Run cycles until ctx is cancelled, sleeping PollInterval between cycles.
// Cycle failures are logged and retried; Run only returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		"poll_interval", e.cfg.PollInterval,
		"max_batch_errors", e.cfg.MaxBatchErrors,
	)

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("engine stopping: context cancelled")
			return err
		}

		e.RunCycle(ctx)
		if ctx.Err() != nil {
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()
		case <-e.clock.After(e.cfg.PollInterval):
		}
	}
}

// LastCycle returns the most recent report, if any cycle has finished.
func (e *Engine) LastCycle() (CycleReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return CycleReport{}, false
	}
	return *e.last, true
}

// LastProgress returns when the loop last started a cycle, started a record
// or finished a cycle. It is zero before the first cycle.
func (e *Engine) LastProgress() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

func (e *Engine) beat() {
	now := e.clock.Now()
	e.mu.Lock()
	e.progress = now
	e.mu.Unlock()
}

// RunCycle runs the three stages once. Panics are recovered into the
// report's errors.
func (e *Engine) RunCycle(ctx context.Context) (rep CycleReport) {
	rep = CycleReport{Token: e.tokens.Generate(), Started: e.clock.Now()}
	log := e.logger.With("cycle", rep.Token)
	e.beat()

	defer func() {
		if v := recover(); v != nil {
			perr := newPanicError(v)
			perr.Cycle = rep.Token
			log.Error("cycle panicked", "error", perr)
			rep.Errors = append(rep.Errors, perr)
		}
		e.finish(log, &rep)
	}()

	active, err := e.activeIdentities(ctx)
	if err != nil {
		e.abort(log, &rep, newSourceError(string(record.StatusTelegram), "fetch", err))
	} else {
		e.runStage(ctx, log, &rep, record.StatusSubmitted, func(ctx context.Context, b *batch, recs []record.Record) error {
			return e.submitted(ctx, b, recs, active)
		})
		e.runStage(ctx, log, &rep, record.StatusApproved, func(ctx context.Context, b *batch, recs []record.Record) error {
			return e.approved(ctx, b, recs, active)
		})
	}
	e.runStage(ctx, log, &rep, record.StatusRefused, e.refused)
	return rep
}

func (e *Engine) finish(log *slog.Logger, rep *CycleReport) {
	rep.Finished = e.clock.Now()
	e.metrics.CycleDuration.Observe(rep.Finished.Sub(rep.Started).Seconds())
	e.metrics.LastCycle.Set(float64(rep.Finished.Unix()))

	log.Info("cycle finished",
		"transitions", len(rep.Applied),
		"invalid", rep.Invalid,
		"errors", len(rep.Errors),
		"duration", rep.Finished.Sub(rep.Started),
	)

	snapshot := *rep
	e.mu.Lock()
	e.last = &snapshot
	e.progress = rep.Finished
	e.mu.Unlock()

	if e.observer != nil {
		e.observer(snapshot)
	}
}

func (e *Engine) abort(log *slog.Logger, rep *CycleReport, rerr *RuntimeError) {
	rerr.Cycle = rep.Token
	rep.Errors = append(rep.Errors, rerr)
	e.metrics.BatchAborts.WithLabelValues(rerr.Stage, string(rerr.Code)).Inc()
	if rerr.Code == ErrCodeSourceUnavailable {
		e.metrics.SourceErrors.WithLabelValues(rerr.Details["op"]).Inc()
	}
	log.Warn("batch aborted", "stage", rerr.Stage, "code", rerr.Code, "error", rerr)
}

// activeIdentities indexes the identities of every telegram-status record.
func (e *Engine) activeIdentities(ctx context.Context) (map[string]bool, error) {
	recs, err := e.src.Fetch(ctx, record.StatusTelegram)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(recs))
	for _, r := range recs {
		if r.Valid() {
			active[r.Key()] = true
		}
	}
	return active, nil
}

type stageFunc func(ctx context.Context, b *batch, recs []record.Record) error

// runStage fetches one status batch, hands its valid records to fn and
// flushes the queued status writes, also when fn aborted early.
func (e *Engine) runStage(ctx context.Context, log *slog.Logger, rep *CycleReport, stage record.Status, fn stageFunc) {
	if ctx.Err() != nil {
		return
	}
	log = log.With("stage", string(stage))

	recs, err := e.src.Fetch(ctx, stage)
	if err != nil {
		e.abort(log, rep, newSourceError(string(stage), "fetch", err))
		return
	}

	valid, invalid := record.Partition(recs)
	for _, r := range invalid {
		log.Warn("skipping record with invalid identity", "record_id", r.ID, "identity", r.RawIdentity)
	}
	rep.Invalid += len(invalid)
	e.metrics.InvalidRecords.Add(float64(len(invalid)))
	if len(valid) == 0 {
		return
	}
	log.Info("processing batch", "records", len(valid))

	b := newBatch(e, log, stage, rep)
	if err := fn(ctx, b, valid); err != nil {
		if rerr, ok := err.(*RuntimeError); ok {
			e.abort(log, rep, rerr)
		} else {
			rep.Errors = append(rep.Errors, err)
			log.Error("batch failed", "error", err)
		}
	}
	b.flush(ctx)
}
