package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
name: minimal
platform:
  group: { id: 1500000001, access_hash: 1 }
table:
  records:
    - { id: rec1, status: submitted, identity: 100 }
assertions:
  - { type: status, record: rec1, status: pending }
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, int64(1500000001), s.Platform.Group.ID)
	require.Len(t, s.Table.Records, 1)
	assert.Equal(t, "rec1", s.Table.Records[0].ID)
	assert.Equal(t, 100, s.Table.Records[0].Identity)
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, AssertStatus, s.Assertions[0].Type)
}

func TestParseScenario_KeepsIdentityAsWritten(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: raw
platform:
  group: { id: 1 }
table:
  records:
    - { id: a, status: submitted, identity: "0042" }
    - { id: b, status: submitted, identity: abc }
    - { id: c, status: submitted }
assertions:
  - { type: errors }
`))
	require.NoError(t, err)

	assert.Equal(t, "0042", s.Table.Records[0].Identity)
	assert.Equal(t, "abc", s.Table.Records[1].Identity)
	assert.Nil(t, s.Table.Records[2].Identity)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalYAML + "flow_token: typo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `
platform: { group: { id: 1 } }
assertions: [{ type: errors }]
`,
			want: "name is required",
		},
		{
			name: "missing group",
			yaml: `
name: x
assertions: [{ type: errors }]
`,
			want: "platform.group.id is required",
		},
		{
			name: "negative cycles",
			yaml: `
name: x
cycles: -1
platform: { group: { id: 1 } }
assertions: [{ type: errors }]
`,
			want: "cycles must be non-negative",
		},
		{
			name: "bad rate limit",
			yaml: `
name: x
config: { rate_limit: soon }
platform: { group: { id: 1 } }
assertions: [{ type: errors }]
`,
			want: "config.rate_limit",
		},
		{
			name: "duplicate record",
			yaml: `
name: x
platform: { group: { id: 1 } }
table:
  records:
    - { id: a, status: submitted }
    - { id: a, status: approved }
assertions: [{ type: errors }]
`,
			want: `duplicate id "a"`,
		},
		{
			name: "unknown status",
			yaml: `
name: x
platform: { group: { id: 1 } }
table:
  records:
    - { id: a, status: waiting }
assertions: [{ type: errors }]
`,
			want: `unknown status "waiting"`,
		},
		{
			name: "unknown webhook kind",
			yaml: `
name: x
platform: { group: { id: 1 } }
webhooks:
  rejected: { status: 200 }
assertions: [{ type: errors }]
`,
			want: `unknown kind "rejected"`,
		},
		{
			name: "unknown ledger kind",
			yaml: `
name: x
platform: { group: { id: 1 } }
ledger:
  banned: ["1"]
assertions: [{ type: errors }]
`,
			want: "unknown action kind",
		},
		{
			name: "no assertions",
			yaml: `
name: x
platform: { group: { id: 1 } }
`,
			want: "at least one assertion is required",
		},
		{
			name: "assertion on unknown record",
			yaml: `
name: x
platform: { group: { id: 1 } }
assertions: [{ type: status, record: nope, status: pending }]
`,
			want: `unknown record "nope"`,
		},
		{
			name: "field assertion without field",
			yaml: `
name: x
platform: { group: { id: 1 } }
table:
  records: [{ id: a, status: submitted }]
assertions: [{ type: field, record: a }]
`,
			want: "field is required",
		},
		{
			name: "call count without op",
			yaml: `
name: x
platform: { group: { id: 1 } }
assertions: [{ type: call_count, count: 1 }]
`,
			want: "op is required",
		},
		{
			name: "notify count unknown kind",
			yaml: `
name: x
platform: { group: { id: 1 } }
assertions: [{ type: notify_count, kind: rejected }]
`,
			want: `unknown kind "rejected"`,
		},
		{
			name: "bad spacing",
			yaml: `
name: x
platform: { group: { id: 1 } }
assertions: [{ type: min_spacing, spacing: often }]
`,
			want: "spacing",
		},
		{
			name: "unknown assertion type",
			yaml: `
name: x
platform: { group: { id: 1 } }
assertions: [{ type: trace_contains }]
`,
			want: `unknown assertion type "trace_contains"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDir_SortedByFileName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b", "a"} {
		data := []byte("name: " + name + "\nplatform: { group: { id: 1 } }\nassertions: [{ type: errors }]\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "a", scenarios[0].Name)
	assert.Equal(t, "b", scenarios[1].Name)
}

func TestLoadDir_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: x\n"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadDir_Bundled(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	assert.NotEmpty(t, scenarios)
}
