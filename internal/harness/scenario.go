package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rostersync/internal/gateway"
	"github.com/roach88/rostersync/internal/ledger"
	"github.com/roach88/rostersync/internal/record"
)

// Scenario is one end-to-end reconciliation case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// CycleToken is the fixed cycle token. Defaults to "test-cycle-default".
	CycleToken string `yaml:"cycle_token,omitempty"`

	// Cycles is how many cycles to run. Defaults to 1.
	Cycles int `yaml:"cycles,omitempty"`

	Config   EngineSetup             `yaml:"config,omitempty"`
	Platform PlatformSetup           `yaml:"platform"`
	Table    TableSetup              `yaml:"table"`
	Webhooks map[string]WebhookSetup `yaml:"webhooks,omitempty"`

	// Ledger pre-populates the idempotency ledger, in the export format.
	Ledger map[string][]string `yaml:"ledger,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// EngineSetup overrides engine tuning. Durations use Go syntax.
type EngineSetup struct {
	MaxBatchErrors int    `yaml:"max_batch_errors,omitempty"`
	RateLimit      string `yaml:"rate_limit,omitempty"`
	DoublePrefix   string `yaml:"double_prefix,omitempty"`
	BanDuration    string `yaml:"ban_duration,omitempty"`
}

// PlatformSetup seeds the fake platform.
type PlatformSetup struct {
	Group      GroupSetup     `yaml:"group"`
	Users      []UserSetup    `yaml:"users,omitempty"`
	FailInvite []FailureSetup `yaml:"fail_invite,omitempty"`
	FailBan    []FailureSetup `yaml:"fail_ban,omitempty"`
	// FailList makes every group listing fail with the named error.
	FailList string `yaml:"fail_list,omitempty"`
}

type GroupSetup struct {
	ID         int64  `yaml:"id"`
	AccessHash int64  `yaml:"access_hash"`
	Title      string `yaml:"title,omitempty"`
}

type UserSetup struct {
	ID       int64  `yaml:"id"`
	Username string `yaml:"username,omitempty"`
}

// FailureSetup queues errors for one user's mutations, one per call.
// Names: flood, privacy_restricted, not_mutual_contact, group_invalid,
// already_member, admin_required, not_found; anything else is an
// unexpected error with that text.
type FailureSetup struct {
	User   int64    `yaml:"user"`
	Errors []string `yaml:"errors"`
}

// TableSetup seeds the fake table.
type TableSetup struct {
	FailFetches int           `yaml:"fail_fetches,omitempty"`
	FailWrites  int           `yaml:"fail_writes,omitempty"`
	Records     []RecordSetup `yaml:"records"`
}

// RecordSetup is one table row. Identity is kept as written (number or
// string) so identity normalization is exercised.
type RecordSetup struct {
	ID       string `yaml:"id"`
	Status   string `yaml:"status"`
	Identity any    `yaml:"identity"`
	Handle   string `yaml:"handle,omitempty"`
	Name     string `yaml:"name,omitempty"`
}

// WebhookSetup configures one notification kind's endpoints.
type WebhookSetup struct {
	// Status is the primary endpoint's response code (200 when zero).
	Status int `yaml:"status,omitempty"`
	// TestStatus, when set, adds a test endpoint answering with it.
	TestStatus int `yaml:"test_status,omitempty"`
	// Disabled leaves the kind without endpoints.
	Disabled bool `yaml:"disabled,omitempty"`
}

// Assertion checks one aspect of the outcome.
type Assertion struct {
	Type string `yaml:"type"`

	Record string `yaml:"record,omitempty"`
	Status string `yaml:"status,omitempty"`
	Field  string `yaml:"field,omitempty"`
	Value  any    `yaml:"value,omitempty"`

	Kind       string   `yaml:"kind,omitempty"`
	Identities []string `yaml:"identities,omitempty"`

	Op    string `yaml:"op,omitempty"`
	Count int    `yaml:"count,omitempty"`

	Codes   []string `yaml:"codes,omitempty"`
	Spacing string   `yaml:"spacing,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus      = "status"
	AssertField       = "field"
	AssertLedger      = "ledger"
	AssertCallCount   = "call_count"
	AssertNotifyCount = "notify_count"
	AssertErrors      = "errors"
	AssertMinSpacing  = "min_spacing"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Cycles < 0 {
		return fmt.Errorf("cycles must be non-negative")
	}
	if s.Platform.Group.ID == 0 {
		return fmt.Errorf("platform.group.id is required")
	}
	for _, d := range []struct{ name, v string }{
		{"config.rate_limit", s.Config.RateLimit},
		{"config.ban_duration", s.Config.BanDuration},
	} {
		if d.v == "" {
			continue
		}
		if _, err := time.ParseDuration(d.v); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}

	seen := map[string]bool{}
	for i, r := range s.Table.Records {
		if r.ID == "" {
			return fmt.Errorf("table.records[%d]: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("table.records[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		if !record.Status(r.Status).Valid() {
			return fmt.Errorf("table.records[%d]: unknown status %q", i, r.Status)
		}
	}

	for kind := range s.Webhooks {
		if !validKind(kind) {
			return fmt.Errorf("webhooks: unknown kind %q", kind)
		}
	}
	for kind := range s.Ledger {
		if _, err := ledger.ParseKind(kind); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("at least one assertion is required")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i, seen); err != nil {
			return err
		}
	}
	return nil
}

func validKind(k string) bool {
	for _, kind := range gateway.Kinds() {
		if string(kind) == k {
			return true
		}
	}
	return false
}

func validateAssertion(a Assertion, index int, records map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStatus:
		if !records[a.Record] {
			return fmt.Errorf("assertions[%d]: unknown record %q", index, a.Record)
		}
		if !record.Status(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
	case AssertField:
		if !records[a.Record] {
			return fmt.Errorf("assertions[%d]: unknown record %q", index, a.Record)
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for field", index)
		}
	case AssertLedger:
		if _, err := ledger.ParseKind(a.Kind); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertCallCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertNotifyCount:
		if !validKind(a.Kind) {
			return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertErrors:
		// An empty list asserts a clean run.
	case AssertMinSpacing:
		if _, err := time.ParseDuration(a.Spacing); err != nil {
			return fmt.Errorf("assertions[%d]: spacing: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
