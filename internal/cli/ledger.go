package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/rostersync/internal/config"
	"github.com/roach88/rostersync/internal/ledger"
	"github.com/roach88/rostersync/internal/record"
)

// LedgerOptions holds flags shared by the ledger subcommands.
type LedgerOptions struct {
	*RootOptions
	DataDir string
	Backend string
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and migrate the idempotency ledger",
		Long: `Inspect and migrate the idempotency ledger.

The ledger records, per identity, which side effects have already been
carried out. These commands work offline and only need DATA_DIR and
LEDGER_BACKEND (or the matching flags).`,
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "ledger directory (overrides DATA_DIR)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "ledger backend json|sqlite|pebble (overrides LEDGER_BACKEND)")

	cmd.AddCommand(newLedgerExportCommand(opts))
	cmd.AddCommand(newLedgerImportCommand(opts))
	cmd.AddCommand(newLedgerCheckCommand(opts))
	return cmd
}

func (o *LedgerOptions) open() (ledger.Ledger, error) {
	cfg, err := config.LoadUnchecked(config.Options{
		File:    o.ConfigFile,
		EnvFile: o.EnvFile,
		Environ: o.Environ,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration error", err)
	}
	dir, backend := cfg.Ledger.DataDir, cfg.Ledger.Backend
	if o.DataDir != "" {
		dir = o.DataDir
	}
	if o.Backend != "" {
		backend = strings.ToLower(o.Backend)
	}
	l, err := ledger.Open(backend, dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	return l, nil
}

func newLedgerExportCommand(opts *LedgerOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Write the ledger in the JSON mapping format",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.open()
			if err != nil {
				return err
			}
			defer l.Close()

			snap, err := l.Snapshot(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read ledger", err)
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to create output file", err)
				}
				defer f.Close()
				w = f
			}
			if err := ledger.WriteSnapshot(w, snap); err != nil {
				return WrapExitError(ExitFailure, "failed to write ledger", err)
			}
			opts.formatter(cmd).VerboseLog("exported %s entries", humanize.Comma(int64(snap.Len())))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newLedgerImportCommand(opts *LedgerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge a JSON mapping file into the ledger",
		Long: `Merge a JSON mapping file into the ledger.

The file maps action kinds to identity lists, as written by "ledger export"
or by older deployments. Entries already present are skipped.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open import file", err)
			}
			defer f.Close()

			snap, err := ledger.ReadSnapshot(f)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid ledger file", err)
			}

			l, err := opts.open()
			if err != nil {
				return err
			}
			defer l.Close()

			added, err := ledger.Import(cmd.Context(), l, snap)
			if err != nil {
				return WrapExitError(ExitFailure, "import failed", err)
			}

			out := opts.formatter(cmd)
			if opts.Format == "json" {
				return out.Success(map[string]int{"read": snap.Len(), "added": added})
			}
			return out.Success(fmt.Sprintf("Imported %s of %s entries from %s",
				humanize.Comma(int64(added)), humanize.Comma(int64(snap.Len())), args[0]))
		},
	}
}

func newLedgerCheckCommand(opts *LedgerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <identity>",
		Short: "Show which actions are recorded for an identity",
		Long: `Show which actions are recorded for an identity.

Exits 1 when the identity has no entries.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := record.ParseIdentity(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid identity", err)
			}
			key := id.String()

			l, err := opts.open()
			if err != nil {
				return err
			}
			defer l.Close()

			var kinds []string
			for _, k := range ledger.Kinds() {
				ok, err := l.Has(cmd.Context(), k, key)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read ledger", err)
				}
				if ok {
					kinds = append(kinds, string(k))
				}
			}

			out := opts.formatter(cmd)
			if len(kinds) == 0 {
				_ = out.Error(ErrCodeLedger, fmt.Sprintf("no ledger entries for %s", key), nil)
				return NewExitError(ExitFailure, "identity not in ledger")
			}
			if opts.Format == "json" {
				return out.Success(map[string]any{"identity": key, "kinds": kinds})
			}
			return out.Success(fmt.Sprintf("%s: %s", key, strings.Join(kinds, ", ")))
		},
	}
}
