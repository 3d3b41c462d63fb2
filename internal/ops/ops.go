// Package ops serves the operational HTTP surface: liveness based on the
// loop's progress, Prometheus metrics, and a read-only ledger dump.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/rostersync/internal/engine"
	"github.com/roach88/rostersync/internal/ledger"
)

// DefaultStaleAfter is how long the loop may go without progress before
// /healthz fails.
const DefaultStaleAfter = 5 * time.Minute

// CycleSource exposes the most recent cycle report and the loop's progress
// marker, which moves while a cycle is still running.
type CycleSource interface {
	LastCycle() (engine.CycleReport, bool)
	LastProgress() time.Time
}

// Config wires the handlers.
type Config struct {
	Cycles     CycleSource
	Ledger     ledger.Ledger
	Gatherer   prometheus.Gatherer
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

type server struct {
	cfg Config
}

// NewRouter builds the ops handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &server{cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if cfg.Ledger != nil {
		r.HandleFunc("/ledger", s.ledger).Methods(http.MethodGet)
		r.HandleFunc("/ledger/{kind}", s.ledger).Methods(http.MethodGet)
	}
	return r
}

type healthResponse struct {
	Status     string    `json:"status"`
	Cycle      string    `json:"cycle,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	ProgressAt time.Time `json:"progress_at,omitzero"`
	Applied    int       `json:"applied"`
	Errors     []string  `json:"errors,omitempty"`
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	rep, ok := s.cfg.Cycles.LastCycle()
	progress := s.cfg.Cycles.LastProgress()
	if progress.Before(rep.Finished) {
		progress = rep.Finished
	}
	if !ok && progress.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}

	resp := healthResponse{
		Status:     "ok",
		Cycle:      rep.Token,
		FinishedAt: rep.Finished,
		ProgressAt: progress,
		Applied:    len(rep.Applied),
	}
	for _, err := range rep.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}

	code := http.StatusOK
	switch {
	case s.cfg.Now().Sub(progress) > s.cfg.StaleAfter:
		resp.Status = "stale"
		code = http.StatusServiceUnavailable
	case !ok:
		// First cycle still running.
		resp.Status = "running"
	case !rep.OK():
		resp.Status = "degraded"
	}
	writeJSON(w, code, resp)
}

func (s *server) ledger(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Ledger.Snapshot(r.Context())
	if err != nil {
		s.cfg.Logger.Error("ledger snapshot failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
		return
	}

	raw, ok := mux.Vars(r)["kind"]
	if !ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	kind, err := ledger.ParseKind(raw)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	ids := snap[kind]
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("ops server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
