package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv() map[string]string {
	return map[string]string{
		"TEABLE_API_TOKEN":    "tok",
		"TEABLE_TABLE_ID":     "tbl123",
		"TELEGRAM_GROUP_ID":   "1500000001",
		"TELEGRAM_API_ID":     "12345",
		"TELEGRAM_API_HASH":   "abcdef",
		"TELEGRAM_PHONE":      "+15551234567",
		"PLATFORM_BRIDGE_URL": "http://127.0.0.1:8081",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{Environ: validEnv()})
	require.NoError(t, err)

	assert.Equal(t, "https://teable.grait.io/api", cfg.Teable.BaseURL)
	assert.Equal(t, 1000, cfg.Teable.PageSize)
	assert.Equal(t, 15*time.Second, cfg.Teable.Timeout.Duration())
	assert.Equal(t, "telegramID", cfg.Teable.Fields.Identity)
	assert.Equal(t, 60*time.Second, cfg.Telegram.RateLimit.Duration())
	assert.Equal(t, 5*time.Second, cfg.Engine.PollInterval.Duration())
	assert.Equal(t, 10, cfg.Engine.MaxBatchErrors)
	assert.Equal(t, "double_", cfg.Engine.DoublePrefix)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, "./data", cfg.Ledger.DataDir)
	assert.Equal(t, int64(1500000001), cfg.Telegram.GroupID)
}

func TestLoadEnvOverrides(t *testing.T) {
	e := validEnv()
	e["POLL_INTERVAL_SECONDS"] = "2"
	e["RATE_LIMIT_INTERVAL"] = "90s"
	e["MAX_BATCH_ERRORS"] = "3"
	e["LEDGER_BACKEND"] = "Pebble"
	e["FIELD_STATUS"] = "Status"
	e["NOTIFY_ACCEPTED_URL"] = "https://hooks.example.com/accepted"
	e["NOTIFY_ACCEPTED_TEST_URL"] = "https://hooks.example.com/accepted-test"

	cfg, err := Load(Options{Environ: e})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval.Duration())
	assert.Equal(t, 90*time.Second, cfg.Telegram.RateLimit.Duration())
	assert.Equal(t, 3, cfg.Engine.MaxBatchErrors)
	assert.Equal(t, "pebble", cfg.Ledger.Backend)
	assert.Equal(t, "Status", cfg.Teable.Fields.Status)
	assert.Equal(t, Endpoint{
		Primary: "https://hooks.example.com/accepted",
		Test:    "https://hooks.example.com/accepted-test",
	}, cfg.Notify.Accepted)
}

func TestLoadLegacyGroupVariable(t *testing.T) {
	e := validEnv()
	delete(e, "TELEGRAM_GROUP_ID")
	e["TELGRAM_GROUP_ID"] = "777"

	cfg, err := Load(Options{Environ: e})
	require.NoError(t, err)
	assert.Equal(t, int64(777), cfg.Telegram.GroupID)
}

func TestLoadDefaultWebhook(t *testing.T) {
	e := validEnv()
	e["N8N_WEBHOOK_URL"] = "https://n8n.example.com/hook"
	e["NOTIFY_INVITE_URL"] = "https://n8n.example.com/invite"

	cfg, err := Load(Options{Environ: e})
	require.NoError(t, err)
	assert.Equal(t, "https://n8n.example.com/hook", cfg.Notify.Received.Primary)
	assert.Equal(t, "https://n8n.example.com/hook", cfg.Notify.Accepted.Primary)
	assert.Equal(t, "https://n8n.example.com/invite", cfg.Notify.InviteFallback.Primary)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rostersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
teable:
  table_id: from-yaml
  fields:
    display_name: Name
engine:
  poll_interval: 30s
  double_prefix: dup_
ledger:
  backend: json
`), 0o600))

	e := validEnv()
	delete(e, "TEABLE_TABLE_ID")
	e["DOUBLE_PREFIX"] = "twin_"

	cfg, err := Load(Options{File: path, Environ: e})
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", cfg.Teable.TableID)
	assert.Equal(t, "Name", cfg.Teable.Fields.DisplayName)
	assert.Equal(t, "status", cfg.Teable.Fields.Status)
	assert.Equal(t, 30*time.Second, cfg.Engine.PollInterval.Duration())
	assert.Equal(t, "twin_", cfg.Engine.DoublePrefix)
	assert.Equal(t, "json", cfg.Ledger.Backend)
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  poll: 3s\n"), 0o600))

	_, err := Load(Options{File: path, Environ: validEnv()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll")
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(Options{Environ: map[string]string{}})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	joined := verr.Error()
	for _, want := range []string{
		"TEABLE_API_TOKEN",
		"TEABLE_TABLE_ID",
		"TELEGRAM_GROUP_ID",
		"TELEGRAM_API_ID",
		"TELEGRAM_API_HASH",
		"TELEGRAM_PHONE",
		"PLATFORM_BRIDGE_URL",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"backend", "LEDGER_BACKEND", "mysql", "ledger.backend"},
		{"page size", "TEABLE_PAGE_SIZE", "5000", "teable.page_size"},
		{"batch errors", "MAX_BATCH_ERRORS", "0", "engine.max_batch_errors"},
		{"webhook scheme", "NOTIFY_RECEIVED_URL", "ftp://x", "notify.received.primary"},
		{"log level", "LOG_LEVEL", "chatty", "log.level"},
		{"numeric prefix", "DOUBLE_PREFIX", "9x", "engine.double_prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEnv()
			e[tt.key] = tt.val
			_, err := Load(Options{Environ: e})
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestLoadSecretsStayOutOfErrors(t *testing.T) {
	e := validEnv()
	e["TEABLE_API_TOKEN"] = "super-secret-token"
	e["LEDGER_BACKEND"] = "nope"

	_, err := Load(Options{Environ: e})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret-token")
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	_, err := Load(Options{
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
		Environ: validEnv(),
	})
	require.NoError(t, err)
}

func TestDurationParsing(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"5s", 5 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"5", 5 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"  ", 0, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		var d Duration
		err := d.UnmarshalText([]byte(tt.in))
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, d.Duration(), tt.in)
	}
}

func TestLoadUncheckedSkipsValidation(t *testing.T) {
	cfg, err := LoadUnchecked(Options{Environ: map[string]string{"DATA_DIR": "/var/lib/rostersync"}})
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rostersync", cfg.Ledger.DataDir)
	assert.Empty(t, cfg.Teable.Token)
}
