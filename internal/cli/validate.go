package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rostersync/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without connecting to anything",
		Long: `Check the configuration without connecting to anything.

Loads the env file, the optional YAML config and the environment the same
way run does, then reports every schema violation at once. Secret values
are never printed; violations name the variable to fix instead.

Exit codes:
  0 - Configuration valid
  1 - One or more violations
  2 - Configuration could not be read`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := config.LoadUnchecked(config.Options{
		File:    opts.ConfigFile,
		EnvFile: opts.EnvFile,
		Environ: opts.Environ,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "configuration error", err)
	}
	formatter.VerboseLog("Ledger backend %s in %s", cfg.Ledger.Backend, cfg.Ledger.DataDir)

	err = config.Validate(cfg)
	var verr *config.ValidationError
	switch {
	case err == nil:
		return outputValidateSuccess(formatter)
	case errors.As(err, &verr):
		return outputValidationErrors(formatter, verr.Issues)
	default:
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "configuration error", err)
	}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}

	fmt.Fprintln(formatter.Writer, "✓ Configuration valid")
	return nil
}

// outputValidationErrors outputs every violation.
func outputValidationErrors(formatter *OutputFormatter, issues []string) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    ErrCodeConfig,
				Message: fmt.Sprintf("%d configuration error(s)", len(issues)),
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		fmt.Fprintf(formatter.Writer, "  %s\n", issue)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
