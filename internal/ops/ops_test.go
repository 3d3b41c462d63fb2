package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rostersync/internal/engine"
	"github.com/roach88/rostersync/internal/ledger"
	"github.com/roach88/rostersync/internal/testutil"
)

type stubCycles struct {
	rep      engine.CycleReport
	ok       bool
	progress time.Time
}

func (s stubCycles) LastCycle() (engine.CycleReport, bool) { return s.rep, s.ok }
func (s stubCycles) LastProgress() time.Time               { return s.progress }

func get(t *testing.T, h http.Handler, path string) (*http.Response, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	res := rec.Result()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, body
}

func TestHealthzBeforeFirstCycle(t *testing.T) {
	h := NewRouter(Config{Cycles: stubCycles{}})
	res, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Contains(t, string(body), `"starting"`)
}

func TestHealthzFreshAndStale(t *testing.T) {
	now := testutil.Epoch
	cycles := stubCycles{ok: true, rep: engine.CycleReport{
		Token:    "c1",
		Finished: now.Add(-time.Minute),
		Applied:  []engine.Applied{{RecordID: "rec1"}},
	}}

	h := NewRouter(Config{Cycles: cycles, Now: func() time.Time { return now }})
	res, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var got healthResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "c1", got.Cycle)
	assert.Equal(t, 1, got.Applied)

	later := now.Add(10 * time.Minute)
	h = NewRouter(Config{Cycles: cycles, Now: func() time.Time { return later }})
	res, body = get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Contains(t, string(body), `"stale"`)
}

func TestHealthzLongCycleInProgress(t *testing.T) {
	now := testutil.Epoch
	cycles := stubCycles{
		ok:       true,
		rep:      engine.CycleReport{Token: "c1", Finished: now.Add(-20 * time.Minute)},
		progress: now.Add(-time.Minute),
	}
	h := NewRouter(Config{Cycles: cycles, Now: func() time.Time { return now }})
	res, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var got healthResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got.Status)
	assert.True(t, got.ProgressAt.Equal(now.Add(-time.Minute)), "progress_at %v", got.ProgressAt)

	cycles.progress = now.Add(-10 * time.Minute)
	h = NewRouter(Config{Cycles: cycles, Now: func() time.Time { return now }})
	res, body = get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Contains(t, string(body), `"stale"`)
}

func TestHealthzFirstCycleRunning(t *testing.T) {
	now := testutil.Epoch
	cycles := stubCycles{progress: now.Add(-2 * time.Minute)}
	h := NewRouter(Config{Cycles: cycles, Now: func() time.Time { return now }})
	res, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `"running"`)
}

func TestHealthzDegraded(t *testing.T) {
	now := testutil.Epoch
	cycles := stubCycles{ok: true, rep: engine.CycleReport{
		Finished: now,
		Errors:   []error{errors.New("source down")},
	}}
	h := NewRouter(Config{Cycles: cycles, Now: func() time.Time { return now }})
	res, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `"degraded"`)
	assert.Contains(t, string(body), "source down")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	engine.NewMetrics(reg).InvalidRecords.Inc()

	h := NewRouter(Config{Cycles: stubCycles{}, Gatherer: reg})
	res, body := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "rostersync_")
}

func TestLedgerEndpoints(t *testing.T) {
	l := ledger.NewMemory()
	ctx := context.Background()
	require.NoError(t, l.Mark(ctx, ledger.ActionAdded, "100"))
	require.NoError(t, l.Mark(ctx, ledger.ActionAdded, "200"))
	require.NoError(t, l.Mark(ctx, ledger.ActionRemoved, "300"))

	h := NewRouter(Config{Cycles: stubCycles{}, Ledger: l})

	res, body := get(t, h, "/ledger")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var snap ledger.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.ElementsMatch(t, []string{"100", "200"}, snap[ledger.ActionAdded])

	res, body = get(t, h, "/ledger/"+string(ledger.ActionRemoved))
	require.Equal(t, http.StatusOK, res.StatusCode)
	var ids []string
	require.NoError(t, json.Unmarshal(body, &ids))
	assert.Equal(t, []string{"300"}, ids)

	res, _ = get(t, h, "/ledger/bogus")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestLedgerRouteAbsentWithoutLedger(t *testing.T) {
	h := NewRouter(Config{Cycles: stubCycles{}})
	res, _ := get(t, h, "/ledger")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), testutil.DiscardLogger())
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
