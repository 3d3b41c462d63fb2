package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/config"
	"github.com/roach88/rostersync/internal/engine"
	"github.com/roach88/rostersync/internal/gateway"
	"github.com/roach88/rostersync/internal/httpx"
	"github.com/roach88/rostersync/internal/ledger"
	"github.com/roach88/rostersync/internal/ops"
	"github.com/roach88/rostersync/internal/source"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string
	Once        bool

	// Tokens overrides the cycle token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Tokens engine.TokenGenerator
	// Clock overrides the wall clock for the engine and limiter (for testing).
	Clock engine.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the reconciliation loop",
		Long: `Start the reconciliation loop.

Configuration comes from the optional --config YAML file and the
environment (a .env file is loaded first when present). The platform
session is authorized before the first cycle; a login code and, if the
account has one, the two-factor password are prompted on the terminal.

Example:
  rostersync run
  rostersync run --config rostersync.yaml --metrics-addr :9090
  rostersync run --once --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /healthz, /metrics and /ledger on this address (overrides METRICS_ADDR)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single cycle and exit")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger, logCloser, err := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := opts.session(cfg)
	if err := sess.Authorize(ctx, opts.prompter()); err != nil {
		return WrapExitError(ExitCommandError, "platform authorization failed", err)
	}
	logger.Info("platform session authorized")

	var limClock actuator.Clock = actuator.SystemClock{}
	if opts.Clock != nil {
		limClock = opts.Clock
	}
	group := actuator.GroupRef{ID: cfg.Telegram.GroupID, AccessHash: cfg.Telegram.GroupHash}
	act := actuator.New(sess, group, actuator.NewLimiter(cfg.Telegram.RateLimit.Duration(), limClock))
	if group.AccessHash == 0 {
		if err := act.RefreshGroup(ctx); err != nil {
			return WrapExitError(ExitCommandError,
				fmt.Sprintf("target group %d not found; run list-groups and set TELEGRAM_GROUP_HASH", group.ID), err)
		}
		logger.Info("resolved target group", "group_id", group.ID, "access_hash", act.Group().AccessHash)
	}

	l, err := ledger.Open(cfg.Ledger.Backend, cfg.Ledger.DataDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer func() {
		if closeErr := l.Close(); closeErr != nil {
			logger.Error("error closing ledger", "error", closeErr)
		}
	}()
	logger.Info("ledger ready", "backend", cfg.Ledger.Backend, "dir", cfg.Ledger.DataDir)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng := buildEngine(opts, cfg, act, l, reg, logger)

	addr := cfg.Ops.MetricsAddr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		h := ops.NewRouter(ops.Config{
			Cycles:     eng,
			Ledger:     l,
			Gatherer:   reg,
			StaleAfter: cfg.Ops.StaleAfter.Duration(),
			Logger:     logger,
		})
		go func() {
			if err := ops.Serve(ctx, addr, h, logger); err != nil {
				logger.Error("ops server stopped", "error", err)
			}
		}()
	}

	if opts.Once {
		return runOnce(ctx, opts, cmd, eng)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	logger.Info("engine stopped gracefully")
	return nil
}

func buildEngine(opts *RunOptions, cfg *config.Config, act *actuator.Actuator, l ledger.Ledger, reg prometheus.Registerer, logger *slog.Logger) *engine.Engine {
	hc := httpx.NewClient(cfg.Teable.Timeout.Duration())

	src := source.New(source.Config{
		BaseURL:  cfg.Teable.BaseURL,
		Token:    cfg.Teable.Token,
		TableID:  cfg.Teable.TableID,
		PageSize: cfg.Teable.PageSize,
		Timeout:  cfg.Teable.Timeout.Duration(),
		Fields: source.FieldMap{
			Status:      cfg.Teable.Fields.Status,
			Identity:    cfg.Teable.Fields.Identity,
			Handle:      cfg.Teable.Fields.Handle,
			DisplayName: cfg.Teable.Fields.DisplayName,
		},
	})

	gw := gateway.New(hc, map[gateway.Kind]gateway.Endpoint{
		gateway.KindReceived:       endpoint(cfg.Notify.Received),
		gateway.KindAccepted:       endpoint(cfg.Notify.Accepted),
		gateway.KindInviteFallback: endpoint(cfg.Notify.InviteFallback),
	})

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(reg)),
	}
	if opts.Tokens != nil {
		engOpts = append(engOpts, engine.WithTokenGenerator(opts.Tokens))
	}
	if opts.Clock != nil {
		engOpts = append(engOpts, engine.WithClock(opts.Clock))
	}

	return engine.New(src, gw, act, l, engine.Config{
		PollInterval:   cfg.Engine.PollInterval.Duration(),
		MaxBatchErrors: cfg.Engine.MaxBatchErrors,
		DoublePrefix:   cfg.Engine.DoublePrefix,
		BanPolicy:      actuator.BanPolicy{Duration: cfg.Telegram.BanDuration.Duration()},
		GroupID:        cfg.Telegram.GroupID,
	}, engOpts...)
}

func endpoint(e config.Endpoint) gateway.Endpoint {
	return gateway.Endpoint{Primary: e.Primary, Test: e.Test}
}

// cycleSummary is the run --once result.
type cycleSummary struct {
	Cycle   string           `json:"cycle"`
	Applied []engine.Applied `json:"applied"`
	Invalid int              `json:"invalid"`
	Errors  []string         `json:"errors,omitempty"`
}

func (s cycleSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %s: %d transition(s), %d invalid record(s)", s.Cycle, len(s.Applied), s.Invalid)
	for _, a := range s.Applied {
		fmt.Fprintf(&b, "\n  %s %s: %s -> %s", a.RecordID, a.Identity, a.From, a.To)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "\n  error: %s", e)
	}
	return b.String()
}

func runOnce(ctx context.Context, opts *RunOptions, cmd *cobra.Command, eng *engine.Engine) error {
	rep := eng.RunCycle(ctx)
	sum := cycleSummary{Cycle: rep.Token, Applied: rep.Applied, Invalid: rep.Invalid}
	if sum.Applied == nil {
		sum.Applied = []engine.Applied{}
	}
	for _, err := range rep.Errors {
		sum.Errors = append(sum.Errors, err.Error())
	}

	out := opts.formatter(cmd)
	if !rep.OK() {
		_ = out.Error(ErrCodeCycle, "cycle finished with errors", sum)
		return NewExitError(ExitFailure, fmt.Sprintf("cycle %s finished with %d error(s)", rep.Token, len(rep.Errors)))
	}
	return out.Success(sum)
}
