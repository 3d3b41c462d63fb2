package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/config"
	"github.com/roach88/rostersync/internal/platform/bridge"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	EnvFile    string

	// Environ replaces the process environment when loading config (tests).
	Environ map[string]string

	// NewSession builds the platform session. Defaults to the HTTP bridge.
	NewSession SessionFactory
	// Prompter answers login challenges. Defaults to the terminal.
	Prompter bridge.Prompter
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Session is an authorizable platform connection.
type Session interface {
	actuator.Platform
	Authorize(ctx context.Context, p bridge.Prompter) error
}

// SessionFactory opens a Session for cfg.
type SessionFactory func(cfg *config.Config) Session

func bridgeSession(cfg *config.Config) Session {
	return bridge.New(bridge.Config{
		URL:     cfg.Telegram.BridgeURL,
		APIID:   cfg.Telegram.APIID,
		APIHash: cfg.Telegram.APIHash,
		Phone:   cfg.Telegram.Phone,
		Timeout: cfg.Teable.Timeout.Duration(),
	})
}

// NewRootCommand creates the root command for the rostersync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rostersync",
		Short: "Reconcile a membership table with a messaging group",
		Long: `rostersync polls a table of membership requests and keeps a group's
roster in line with it: approved rows are added, refused rows removed, and
webhooks fire for each step. An idempotency ledger keeps side effects to
at most once per identity.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded when present")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListGroupsCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		File:    o.ConfigFile,
		EnvFile: o.EnvFile,
		Environ: o.Environ,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration error", err)
	}
	return cfg, nil
}

func (o *RootOptions) session(cfg *config.Config) Session {
	if o.NewSession != nil {
		return o.NewSession(cfg)
	}
	return bridgeSession(cfg)
}

func (o *RootOptions) prompter() bridge.Prompter {
	if o.Prompter != nil {
		return o.Prompter
	}
	return bridge.NewTerminalPrompter()
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
