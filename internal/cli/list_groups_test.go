package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rostersync/internal/actuator"
)

var goldenGroups = []actuator.Group{
	{ID: 1500000001, AccessHash: 7000000000000000001, Title: "Rostersync Members", Megagroup: true, Members: 1234},
	{ID: 1500000002, AccessHash: -42, Title: "A very long group title that overflows the column", Megagroup: true, Members: 56},
	{ID: 1500000003, AccessHash: 123456789, Title: "Käse & Brot", Megagroup: true, Members: 1234567},
}

func TestRenderGroupsGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name   string
		groups []actuator.Group
		target int64
	}{
		{"list_groups_target", goldenGroups, 1500000001},
		{"list_groups_missing", goldenGroups, 999},
		{"list_groups_empty", nil, 1500000001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderGroups(&buf, tt.groups, tt.target)
			g.Assert(t, tt.name, buf.Bytes())
		})
	}
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "short", truncateTitle("short"))
	exact := "123456789012345678901234567890"
	assert.Equal(t, exact, truncateTitle(exact))
	assert.Equal(t, "123456789012345678901234567...", truncateTitle(exact+"x"))
	assert.Len(t, []rune(truncateTitle("ääääääääääääääääääääääääääääääääää")), 30)
}

func TestListGroupsCommandJSON(t *testing.T) {
	sess := newFakeSession()
	opts := &RootOptions{Environ: baseEnv(t), NewSession: sessionFactory(sess)}

	stdout, _, err := execute(t, opts, "--format", "json", "list-groups")
	require.NoError(t, err)
	assert.True(t, sess.authorized)

	var resp struct {
		Status string     `json:"status"`
		Data   []groupRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1, "non-megagroups are hidden")
	assert.Equal(t, int64(testGroupID), resp.Data[0].ID)
	assert.Equal(t, int64(4242), resp.Data[0].AccessHash)
	assert.True(t, resp.Data[0].Target)
}

func TestListGroupsCommandText(t *testing.T) {
	sess := newFakeSession()
	opts := &RootOptions{Environ: baseEnv(t), NewSession: sessionFactory(sess)}

	stdout, _, err := execute(t, opts, "list-groups")
	require.NoError(t, err)
	assert.Contains(t, stdout, "* Rostersync Members")
	assert.Contains(t, stdout, "Set TELEGRAM_GROUP_HASH=4242")
	assert.NotContains(t, stdout, "Family chat")
}

func TestListGroupsPlatformFailure(t *testing.T) {
	sess := newFakeSession()
	sess.FailList(errors.New("bridge down"))
	opts := &RootOptions{Environ: baseEnv(t), NewSession: sessionFactory(sess)}

	_, _, err := execute(t, opts, "list-groups")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
