package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidConfig(t *testing.T) {
	stdout, _, err := execute(t, &RootOptions{Environ: baseEnv(t)}, "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Configuration valid")
}

func TestValidateValidConfigJSON(t *testing.T) {
	stdout, _, err := execute(t, &RootOptions{Environ: baseEnv(t)}, "--format", "json", "validate")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
}

func TestValidateReportsEveryViolation(t *testing.T) {
	env := baseEnv(t)
	delete(env, "TEABLE_API_TOKEN")
	delete(env, "TELEGRAM_PHONE")

	stdout, _, err := execute(t, &RootOptions{Environ: env}, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ Validation failed")
	assert.Contains(t, stdout, "TEABLE_API_TOKEN")
	assert.Contains(t, stdout, "TELEGRAM_PHONE")
}

func TestValidateDoesNotPrintSecrets(t *testing.T) {
	env := baseEnv(t)
	env["TELEGRAM_API_HASH"] = "s3cr3t-hash"
	env["TELEGRAM_PHONE"] = "not-a-phone"

	stdout, _, err := execute(t, &RootOptions{Environ: env}, "validate")
	require.Error(t, err)
	assert.Contains(t, stdout, "TELEGRAM_PHONE")
	assert.NotContains(t, stdout, "not-a-phone")
	assert.NotContains(t, stdout, "s3cr3t-hash")
}

func TestValidateViolationsJSON(t *testing.T) {
	env := baseEnv(t)
	delete(env, "TEABLE_TABLE_ID")

	stdout, _, err := execute(t, &RootOptions{Environ: env}, "--format", "json", "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, data["valid"])
	assert.Contains(t, stdout, "TEABLE_TABLE_ID")
}

func TestValidateUnreadableConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("teable:\n  tokn: typo\n"), 0o600))

	_, _, err := execute(t, &RootOptions{Environ: baseEnv(t)}, "--config", path, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateRejectsArgs(t *testing.T) {
	_, _, err := execute(t, &RootOptions{Environ: baseEnv(t)}, "validate", "extra")
	require.Error(t, err)
}
