package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rostersync/internal/ledger"
)

func readLedger(t *testing.T, env map[string]string) ledger.Snapshot {
	t.Helper()
	l, err := ledger.Open(env["LEDGER_BACKEND"], env["DATA_DIR"])
	require.NoError(t, err)
	defer l.Close()
	snap, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func TestLedgerImportExportCheck(t *testing.T) {
	env := map[string]string{"DATA_DIR": t.TempDir(), "LEDGER_BACKEND": "sqlite"}
	opts := &RootOptions{Environ: env}

	legacy := filepath.Join(t.TempDir(), "legacy.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{
  "added": ["100", "200"],
  "notifiedSubmitted": ["100"]
}`), 0o600))

	stdout, _, err := execute(t, opts, "ledger", "import", legacy)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Imported 3 of 3 entries")

	stdout, _, err = execute(t, opts, "ledger", "import", legacy)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Imported 0 of 3 entries")

	stdout, _, err = execute(t, opts, "ledger", "check", "100")
	require.NoError(t, err)
	assert.Equal(t, "100: added, notifiedSubmitted\n", stdout)

	stdout, _, err = execute(t, opts, "ledger", "export")
	require.NoError(t, err)
	snap, err := ledger.ReadSnapshot(strings.NewReader(stdout))
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "200"}, snap[ledger.ActionAdded])
	assert.Equal(t, []string{"100"}, snap[ledger.ActionNotifiedSubmitted])
}

func TestLedgerExportToFile(t *testing.T) {
	env := map[string]string{"DATA_DIR": t.TempDir(), "LEDGER_BACKEND": "json"}
	l, err := ledger.Open("json", env["DATA_DIR"])
	require.NoError(t, err)
	require.NoError(t, l.Mark(context.Background(), ledger.ActionRemoved, "55"))
	require.NoError(t, l.Close())

	out := filepath.Join(t.TempDir(), "export.json")
	_, _, err = execute(t, &RootOptions{Environ: env}, "ledger", "export", "--out", out)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	snap, err := ledger.ReadSnapshot(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"55"}, snap[ledger.ActionRemoved])
}

func TestLedgerCheckMissingIdentity(t *testing.T) {
	env := map[string]string{"DATA_DIR": t.TempDir(), "LEDGER_BACKEND": "json"}

	stdout, _, err := execute(t, &RootOptions{Environ: env}, "--format", "json", "ledger", "check", "777")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, `"code":"E004"`)
}

func TestLedgerCheckInvalidIdentity(t *testing.T) {
	env := map[string]string{"DATA_DIR": t.TempDir()}
	_, _, err := execute(t, &RootOptions{Environ: env}, "ledger", "check", "not-a-number")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLedgerImportRejectsUnknownKind(t *testing.T) {
	env := map[string]string{"DATA_DIR": t.TempDir(), "LEDGER_BACKEND": "json"}
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"promoted": ["1"]}`), 0o600))

	_, _, err := execute(t, &RootOptions{Environ: env}, "ledger", "import", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLedgerBackendFlagOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	env := map[string]string{"DATA_DIR": dir, "LEDGER_BACKEND": "json"}

	_, _, err := execute(t, &RootOptions{Environ: env}, "ledger", "--backend", "sqlite", "export")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "ledger.db"))
	assert.NoError(t, err)
}
