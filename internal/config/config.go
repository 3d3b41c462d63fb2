// Package config loads process configuration: a best-effort .env file, an
// optional YAML file, then environment overrides. The merged result is
// checked against an embedded CUE schema; any violation is fatal.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSrc []byte

// Config is the full process configuration.
type Config struct {
	Teable   Teable   `yaml:"teable" json:"teable"`
	Telegram Telegram `yaml:"telegram" json:"telegram"`
	Notify   Notify   `yaml:"notify" json:"notify"`
	Engine   Engine   `yaml:"engine" json:"engine"`
	Ledger   Ledger   `yaml:"ledger" json:"ledger"`
	Ops      Ops      `yaml:"ops" json:"ops"`
	Log      Log      `yaml:"log" json:"log"`
}

type Teable struct {
	BaseURL  string   `yaml:"base_url" json:"base_url" env:"TEABLE_BASE_URL"`
	Token    string   `yaml:"token" json:"token" env:"TEABLE_API_TOKEN"`
	TableID  string   `yaml:"table_id" json:"table_id" env:"TEABLE_TABLE_ID"`
	PageSize int      `yaml:"page_size" json:"page_size" env:"TEABLE_PAGE_SIZE"`
	Timeout  Duration `yaml:"timeout" json:"timeout" env:"HTTP_TIMEOUT"`
	Fields   Fields   `yaml:"fields" json:"fields"`
}

// Fields maps semantic fields to table column names.
type Fields struct {
	Status      string `yaml:"status" json:"status" env:"FIELD_STATUS"`
	Identity    string `yaml:"identity" json:"identity" env:"FIELD_IDENTITY"`
	Handle      string `yaml:"handle" json:"handle" env:"FIELD_HANDLE"`
	DisplayName string `yaml:"display_name" json:"display_name" env:"FIELD_DISPLAY_NAME"`
}

type Telegram struct {
	GroupID     int64    `yaml:"group_id" json:"group_id" env:"TELEGRAM_GROUP_ID"`
	GroupHash   int64    `yaml:"group_hash" json:"group_hash" env:"TELEGRAM_GROUP_HASH"`
	APIID       int      `yaml:"api_id" json:"api_id" env:"TELEGRAM_API_ID"`
	APIHash     string   `yaml:"api_hash" json:"api_hash" env:"TELEGRAM_API_HASH"`
	Phone       string   `yaml:"phone" json:"phone" env:"TELEGRAM_PHONE"`
	BridgeURL   string   `yaml:"bridge_url" json:"bridge_url" env:"PLATFORM_BRIDGE_URL"`
	RateLimit   Duration `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT_INTERVAL"`
	BanDuration Duration `yaml:"ban_duration" json:"ban_duration" env:"BAN_DURATION"`

	// Older deployments spell the variable TELGRAM_GROUP_ID.
	LegacyGroupID int64 `yaml:"-" json:"-" env:"TELGRAM_GROUP_ID"`
}

// Endpoint is a primary/test webhook pair.
type Endpoint struct {
	Primary string `yaml:"primary" json:"primary" env:"URL"`
	Test    string `yaml:"test" json:"test" env:"TEST_URL"`
}

type Notify struct {
	// Default is the primary endpoint for every kind without its own.
	Default        string   `yaml:"default" json:"default" env:"N8N_WEBHOOK_URL"`
	Received       Endpoint `yaml:"received" json:"received" envPrefix:"NOTIFY_RECEIVED_"`
	Accepted       Endpoint `yaml:"accepted" json:"accepted" envPrefix:"NOTIFY_ACCEPTED_"`
	InviteFallback Endpoint `yaml:"invite_fallback" json:"invite_fallback" envPrefix:"NOTIFY_INVITE_"`
}

type Engine struct {
	PollInterval   Duration `yaml:"poll_interval" json:"poll_interval" env:"POLL_INTERVAL_SECONDS"`
	MaxBatchErrors int      `yaml:"max_batch_errors" json:"max_batch_errors" env:"MAX_BATCH_ERRORS"`
	DoublePrefix   string   `yaml:"double_prefix" json:"double_prefix" env:"DOUBLE_PREFIX"`
}

type Ledger struct {
	DataDir string `yaml:"data_dir" json:"data_dir" env:"DATA_DIR"`
	Backend string `yaml:"backend" json:"backend" env:"LEDGER_BACKEND"`
}

type Ops struct {
	MetricsAddr string   `yaml:"metrics_addr" json:"metrics_addr" env:"METRICS_ADDR"`
	StaleAfter  Duration `yaml:"stale_after" json:"stale_after" env:"HEALTH_STALE_AFTER"`
}

type Log struct {
	Level  string   `yaml:"level" json:"level" env:"LOG_LEVEL"`
	File   string   `yaml:"file" json:"file" env:"LOG_FILE"`
	MaxAge Duration `yaml:"max_age" json:"max_age" env:"LOG_MAX_AGE"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Teable: Teable{
			BaseURL:  "https://teable.grait.io/api",
			PageSize: 1000,
			Timeout:  Duration(15 * time.Second),
			Fields: Fields{
				Status:      "status",
				Identity:    "telegramID",
				Handle:      "telegramUsername",
				DisplayName: "First name",
			},
		},
		Telegram: Telegram{
			RateLimit: Duration(60 * time.Second),
		},
		Engine: Engine{
			PollInterval:   Duration(5 * time.Second),
			MaxBatchErrors: 10,
			DoublePrefix:   "double_",
		},
		Ledger: Ledger{
			DataDir: "./data",
			Backend: "sqlite",
		},
		Ops: Ops{
			StaleAfter: Duration(5 * time.Minute),
		},
		Log: Log{
			Level:  "info",
			MaxAge: Duration(7 * 24 * time.Hour),
		},
	}
}

// Options controls where Load reads from.
type Options struct {
	// File is an optional YAML config file.
	File string
	// EnvFile is a dotenv file loaded into the process environment when it
	// exists. Variables already set win.
	EnvFile string
	// Environ replaces the process environment for override parsing.
	Environ map[string]string
}

// Load builds the configuration and validates it.
func Load(opts Options) (*Config, error) {
	cfg, err := LoadUnchecked(opts)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnchecked merges every source but skips schema validation. Offline
// commands that only touch the ledger use it.
func LoadUnchecked(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	cfg := Default()
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", opts.File, err)
		}
	}

	envOpts := env.Options{}
	if opts.Environ != nil {
		envOpts.Environment = opts.Environ
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Telegram.GroupID == 0 {
		c.Telegram.GroupID = c.Telegram.LegacyGroupID
	}
	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(c.Ledger.Backend))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	for _, e := range []*Endpoint{&c.Notify.Received, &c.Notify.Accepted, &c.Notify.InviteFallback} {
		if e.Primary == "" {
			e.Primary = c.Notify.Default
		}
	}
}

// ValidationError lists every schema violation, one per field path.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration:\n  " + strings.Join(e.Issues, "\n  ")
}

// Validate checks cfg against the embedded schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := def.Unify(ctx.Encode(cfg))
	err := val.Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return nil
	}

	var issues []string
	seen := map[string]bool{}
	for _, e := range cueerrors.Errors(err) {
		parts := e.Path()
		for len(parts) > 0 && strings.HasPrefix(parts[0], "#") {
			parts = parts[1:]
		}
		path := strings.Join(parts, ".")
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		issues = append(issues, path+": "+describe(path))
	}
	if len(issues) == 0 {
		issues = []string{err.Error()}
	}
	return &ValidationError{Issues: issues}
}

// describe names the env variable that sets path, keeping secret values
// out of the message.
func describe(path string) string {
	if v, ok := envNames[path]; ok {
		return "missing or invalid (set " + v + ")"
	}
	return "missing or invalid"
}

var envNames = map[string]string{
	"teable.base_url":                "TEABLE_BASE_URL",
	"teable.token":                   "TEABLE_API_TOKEN",
	"teable.table_id":                "TEABLE_TABLE_ID",
	"teable.page_size":               "TEABLE_PAGE_SIZE",
	"teable.timeout":                 "HTTP_TIMEOUT",
	"telegram.group_id":              "TELEGRAM_GROUP_ID",
	"telegram.api_id":                "TELEGRAM_API_ID",
	"telegram.api_hash":              "TELEGRAM_API_HASH",
	"telegram.phone":                 "TELEGRAM_PHONE",
	"telegram.bridge_url":            "PLATFORM_BRIDGE_URL",
	"telegram.rate_limit":            "RATE_LIMIT_INTERVAL",
	"engine.poll_interval":           "POLL_INTERVAL_SECONDS",
	"engine.max_batch_errors":        "MAX_BATCH_ERRORS",
	"engine.double_prefix":           "DOUBLE_PREFIX",
	"ledger.data_dir":                "DATA_DIR",
	"ledger.backend":                 "LEDGER_BACKEND",
	"log.level":                      "LOG_LEVEL",
	"notify.default":                 "N8N_WEBHOOK_URL",
	"notify.received.primary":        "NOTIFY_RECEIVED_URL",
	"notify.received.test":           "NOTIFY_RECEIVED_TEST_URL",
	"notify.accepted.primary":        "NOTIFY_ACCEPTED_URL",
	"notify.accepted.test":           "NOTIFY_ACCEPTED_TEST_URL",
	"notify.invite_fallback.primary": "NOTIFY_INVITE_URL",
	"notify.invite_fallback.test":    "NOTIFY_INVITE_TEST_URL",
}
