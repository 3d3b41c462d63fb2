package harness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/engine"
	"github.com/roach88/rostersync/internal/gateway"
	"github.com/roach88/rostersync/internal/httpx"
	"github.com/roach88/rostersync/internal/ledger"
	"github.com/roach88/rostersync/internal/source"
	"github.com/roach88/rostersync/internal/testutil"
)

const tableToken = "scenario-token"

// DefaultCycleToken is used when a scenario sets no cycle_token.
const DefaultCycleToken = "test-cycle-default"

// Harness holds the fakes and the engine for one scenario run.
type Harness struct {
	scenario *Scenario
	clock    *testutil.FakeClock
	table    *testutil.FakeTable
	platform *testutil.FakePlatform
	webhooks map[gateway.Kind]*hookPair
	ledger   ledger.Ledger
	engine   *engine.Engine
	closers  []func()
}

// hookPair is one kind's primary and optional test endpoint.
type hookPair struct {
	primary *testutil.Webhook
	test    *testutil.Webhook
}

// Run executes a scenario and returns the result.
//
// Each run gets fresh fakes and a memory ledger. The clock advances only
// when the engine or the rate limiter waits, so timings are exact.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	ctx := context.Background()
	result := NewResult()

	cycles := scenario.Cycles
	if cycles == 0 {
		cycles = 1
	}
	for i := 0; i < cycles; i++ {
		rep := h.engine.RunCycle(ctx)
		result.Reports = append(result.Reports, rep)
		for _, err := range rep.Errors {
			result.Trace.Errors = append(result.Trace.Errors, errorCode(err))
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario) (*Harness, error) {
	cfg, rateLimit, err := engineConfig(s.Config)
	if err != nil {
		return nil, err
	}
	cfg.GroupID = s.Platform.Group.ID

	h := &Harness{
		scenario: s,
		clock:    testutil.NewFakeClock(testutil.Epoch),
		table:    testutil.NewFakeTable("status", tableToken),
		webhooks: map[gateway.Kind]*hookPair{},
		ledger:   ledger.NewMemory(),
	}
	h.platform = testutil.NewFakePlatform(h.clock)

	h.seedPlatform()
	h.seedTable()
	if err := h.seedLedger(); err != nil {
		return nil, err
	}

	srv := h.table.Server()
	h.closers = append(h.closers, srv.Close)

	endpoints := map[gateway.Kind]gateway.Endpoint{}
	for _, kind := range gateway.Kinds() {
		setup := s.Webhooks[string(kind)]
		if setup.Disabled {
			continue
		}
		pair := &hookPair{primary: h.webhook(setup.Status)}
		ep := gateway.Endpoint{Primary: pair.primary.URL}
		if setup.TestStatus != 0 {
			pair.test = h.webhook(setup.TestStatus)
			ep.Test = pair.test.URL
		}
		h.webhooks[kind] = pair
		endpoints[kind] = ep
	}

	src := source.New(source.Config{BaseURL: srv.URL, Token: tableToken, TableID: "scenario", Timeout: 5 * time.Second})
	gw := gateway.New(httpx.NewClient(5*time.Second), endpoints)

	group := actuator.GroupRef{ID: s.Platform.Group.ID, AccessHash: s.Platform.Group.AccessHash}
	act := actuator.New(h.platform, group, actuator.NewLimiter(rateLimit, h.clock))

	token := s.CycleToken
	if token == "" {
		token = DefaultCycleToken
	}
	h.engine = engine.New(src, gw, act, h.ledger, cfg,
		engine.WithClock(h.clock),
		engine.WithTokenGenerator(testutil.NewFixedTokenGenerator(token)),
		engine.WithLogger(testutil.DiscardLogger()),
		engine.WithMetrics(engine.NewMetrics(nil)),
	)
	return h, nil
}

func (h *Harness) webhook(status int) *testutil.Webhook {
	w := testutil.NewWebhook()
	if status != 0 {
		w.SetStatus(status)
	}
	h.closers = append(h.closers, w.Close)
	return w
}

func (h *Harness) close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
}

func engineConfig(s EngineSetup) (engine.Config, time.Duration, error) {
	cfg := engine.Config{
		MaxBatchErrors: s.MaxBatchErrors,
		DoublePrefix:   s.DoublePrefix,
	}
	rateLimit := actuator.DefaultInterval
	if s.RateLimit != "" {
		d, err := time.ParseDuration(s.RateLimit)
		if err != nil {
			return cfg, 0, fmt.Errorf("rate_limit: %w", err)
		}
		rateLimit = d
	}
	if s.BanDuration != "" {
		d, err := time.ParseDuration(s.BanDuration)
		if err != nil {
			return cfg, 0, fmt.Errorf("ban_duration: %w", err)
		}
		cfg.BanPolicy = actuator.BanPolicy{Duration: d}
	}
	return cfg, rateLimit, nil
}

func (h *Harness) seedPlatform() {
	p := h.scenario.Platform
	title := p.Group.Title
	if title == "" {
		title = "Scenario Group"
	}
	h.platform.AddGroup(actuator.Group{ID: p.Group.ID, AccessHash: p.Group.AccessHash, Title: title, Megagroup: true})
	for _, u := range p.Users {
		h.platform.AddUser(u.ID, u.Username)
	}
	for _, f := range p.FailInvite {
		h.platform.FailInvite(f.User, platformErrors(f.Errors)...)
	}
	for _, f := range p.FailBan {
		h.platform.FailBan(f.User, platformErrors(f.Errors)...)
	}
	if p.FailList != "" {
		h.platform.FailList(platformError(p.FailList))
	}
}

func (h *Harness) seedTable() {
	t := h.scenario.Table
	for _, r := range t.Records {
		fields := map[string]any{"status": r.Status}
		if r.Identity != nil {
			fields["telegramID"] = r.Identity
		}
		if r.Handle != "" {
			fields["telegramUsername"] = r.Handle
		}
		if r.Name != "" {
			fields["First name"] = r.Name
		}
		h.table.Add(r.ID, fields)
	}
	h.table.FailFetches(t.FailFetches)
	h.table.FailWrites(t.FailWrites)
}

func (h *Harness) seedLedger() error {
	if len(h.scenario.Ledger) == 0 {
		return nil
	}
	snap := ledger.Snapshot{}
	for kind, ids := range h.scenario.Ledger {
		snap[ledger.ActionKind(kind)] = ids
	}
	if _, err := ledger.Import(context.Background(), h.ledger, snap); err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}
	return nil
}

var namedErrors = map[string]error{
	"flood":              actuator.ErrFlood,
	"privacy_restricted": actuator.ErrPrivacyRestricted,
	"not_mutual_contact": actuator.ErrNotMutualContact,
	"group_invalid":      actuator.ErrGroupInvalid,
	"already_member":     actuator.ErrAlreadyMember,
	"admin_required":     actuator.ErrAdminRequired,
	"not_found":          actuator.ErrNotFound,
}

func platformError(name string) error {
	if err, ok := namedErrors[name]; ok {
		return fmt.Errorf("scripted: %w", err)
	}
	return errors.New(name)
}

func platformErrors(names []string) []error {
	out := make([]error, len(names))
	for i, n := range names {
		out[i] = platformError(n)
	}
	return out
}

func errorCode(err error) string {
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return err.Error()
}

// collect gathers the trace and final table state.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	result.calls = h.platform.Calls()
	for _, c := range result.calls {
		result.Trace.Calls = append(result.Trace.Calls, Call{
			Op:     c.Op,
			UserID: c.UserID,
			At:     c.At.Sub(testutil.Epoch).String(),
		})
	}
	result.Trace.Patches = append(result.Trace.Patches, h.table.Patches()...)

	for _, kind := range gateway.Kinds() {
		bodies := []map[string]any{}
		if pair, ok := h.webhooks[kind]; ok {
			if pair.test != nil && isSuccess(h.scenario.Webhooks[string(kind)].TestStatus) {
				bodies = append(bodies, pair.test.Bodies()...)
			}
			if isSuccess(h.scenario.Webhooks[string(kind)].Status) {
				bodies = append(bodies, pair.primary.Bodies()...)
			}
		}
		result.Trace.Notifications[string(kind)] = bodies
	}

	snap, err := h.ledger.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	result.Trace.Ledger = snap

	for _, row := range h.table.Rows() {
		result.Rows[row.ID] = row.Fields
	}
	return nil
}

// isSuccess reports whether an endpoint configured with status accepts
// deliveries. Zero means the default 200.
func isSuccess(status int) bool {
	return status == 0 || (status >= http.StatusOK && status < http.StatusMultipleChoices)
}
