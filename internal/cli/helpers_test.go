package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/config"
	"github.com/roach88/rostersync/internal/platform/bridge"
	"github.com/roach88/rostersync/internal/testutil"
)

const testGroupID = 1500000001

// fakeSession adds an authorization step to the in-memory platform.
type fakeSession struct {
	*testutil.FakePlatform
	authErr    error
	authorized bool
}

func (s *fakeSession) Authorize(context.Context, bridge.Prompter) error {
	if s.authErr != nil {
		return s.authErr
	}
	s.authorized = true
	return nil
}

func newFakeSession() *fakeSession {
	p := testutil.NewFakePlatform(nil)
	p.AddGroup(actuator.Group{ID: testGroupID, AccessHash: 4242, Title: "Rostersync Members", Megagroup: true, Members: 1234})
	p.AddGroup(actuator.Group{ID: 900, AccessHash: 1, Title: "Family chat", Megagroup: false, Members: 4})
	return &fakeSession{FakePlatform: p}
}

func baseEnv(t *testing.T) map[string]string {
	t.Helper()
	return map[string]string{
		"TEABLE_API_TOKEN":    "tok",
		"TEABLE_TABLE_ID":     "tbl",
		"TELEGRAM_GROUP_ID":   "1500000001",
		"TELEGRAM_API_ID":     "12345",
		"TELEGRAM_API_HASH":   "abcdef",
		"TELEGRAM_PHONE":      "+15551234567",
		"PLATFORM_BRIDGE_URL": "http://127.0.0.1:1",
		"DATA_DIR":            t.TempDir(),
		"LEDGER_BACKEND":      "json",
	}
}

// execute runs the root command with args and returns stdout, stderr.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(opts)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func sessionFactory(s Session) SessionFactory {
	return func(*config.Config) Session { return s }
}
