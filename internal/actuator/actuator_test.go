package actuator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/testutil"
)

const groupID = int64(5000)

func setup(t *testing.T) (*testutil.FakeClock, *testutil.FakePlatform, *actuator.Actuator) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	p := testutil.NewFakePlatform(clock)
	p.AddGroup(actuator.Group{ID: groupID, AccessHash: 1, Title: "Members", Megagroup: true})
	a := actuator.New(p, actuator.GroupRef{ID: groupID, AccessHash: 1}, actuator.NewLimiter(time.Minute, clock))
	return clock, p, a
}

func TestResolve_PrefersHandle(t *testing.T) {
	_, p, a := setup(t)
	p.AddUser(100, "alice")

	u, err := a.Resolve(context.Background(), "@Alice", 999)
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.ID)

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "resolve_username", calls[0].Op)
}

func TestResolve_FallsBackToIdentity(t *testing.T) {
	_, p, a := setup(t)
	p.AddUser(200, "")

	u, err := a.Resolve(context.Background(), "ghost", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), u.ID)
}

func TestResolve_NotFound(t *testing.T) {
	_, _, a := setup(t)

	_, err := a.Resolve(context.Background(), "", 300)
	assert.ErrorIs(t, err, actuator.ErrNotFound)

	_, err = a.Resolve(context.Background(), "ghost", 0)
	assert.ErrorIs(t, err, actuator.ErrNotFound)
}

func TestAdd_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		fail    error
		outcome actuator.Outcome
	}{
		{"added", nil, actuator.Added},
		{"already member", actuator.ErrAlreadyMember, actuator.Added},
		{"privacy", actuator.ErrPrivacyRestricted, actuator.Declined},
		{"not mutual", actuator.ErrNotMutualContact, actuator.Declined},
		{"flood", actuator.ErrFlood, actuator.Throttled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p, a := setup(t)
			p.AddUser(1, "u")
			if tt.fail != nil {
				p.FailInvite(1, tt.fail)
			}

			res, err := a.Add(context.Background(), actuator.UserRef{ID: 1})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			if tt.fail != nil && tt.outcome != actuator.Added {
				assert.ErrorIs(t, res.Reason, tt.fail)
			}
			assert.Len(t, p.Mutations(), 1)
		})
	}
}

func TestAdd_UnexpectedErrorReturned(t *testing.T) {
	_, p, a := setup(t)
	boom := errors.New("boom")
	p.FailInvite(1, boom)

	_, err := a.Add(context.Background(), actuator.UserRef{ID: 1})
	assert.ErrorIs(t, err, boom)
}

func TestAdd_GroupInvalidRefreshesAndRetriesOnce(t *testing.T) {
	_, p, a := setup(t)
	p.AddGroup(actuator.Group{ID: 1, AccessHash: 9, Title: "Other", Megagroup: true})
	p.FailInvite(1, actuator.ErrGroupInvalid)

	res, err := a.Add(context.Background(), actuator.UserRef{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, actuator.Added, res.Outcome)

	muts := p.Mutations()
	require.Len(t, muts, 2)
	assert.Equal(t, actuator.GroupRef{ID: groupID, AccessHash: 1}, a.Group())
	assert.True(t, p.Member(1))
}

func TestAdd_GroupInvalidTwiceAborts(t *testing.T) {
	_, p, a := setup(t)
	p.FailInvite(1, actuator.ErrGroupInvalid, actuator.ErrGroupInvalid)

	res, err := a.Add(context.Background(), actuator.UserRef{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, actuator.GroupInvalid, res.Outcome)
	assert.Len(t, p.Mutations(), 2)
}

func TestAdd_GroupRefreshFails(t *testing.T) {
	_, p, a := setup(t)
	p.FailInvite(1, actuator.ErrGroupInvalid)
	p.FailList(errors.New("session expired"))

	res, err := a.Add(context.Background(), actuator.UserRef{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, actuator.GroupInvalid, res.Outcome)
	assert.Len(t, p.Mutations(), 1)
}

func TestRefreshGroup_UpdatesAccessHash(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	p := testutil.NewFakePlatform(clock)
	p.AddGroup(actuator.Group{ID: groupID, AccessHash: 77, Megagroup: true})
	a := actuator.New(p, actuator.GroupRef{ID: groupID}, actuator.NewLimiter(time.Minute, clock))

	require.NoError(t, a.RefreshGroup(context.Background()))
	assert.Equal(t, int64(77), a.Group().AccessHash)
}

func TestRefreshGroup_MissingGroup(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	p := testutil.NewFakePlatform(clock)
	a := actuator.New(p, actuator.GroupRef{ID: groupID}, actuator.NewLimiter(time.Minute, clock))

	assert.ErrorIs(t, a.RefreshGroup(context.Background()), actuator.ErrGroupInvalid)
}

func TestRemove_PermanentByDefault(t *testing.T) {
	_, p, a := setup(t)

	require.NoError(t, a.Remove(context.Background(), actuator.UserRef{ID: 1}, actuator.BanPolicy{}))

	muts := p.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "ban", muts[0].Op)
	require.NotNil(t, muts[0].Rights)
	assert.Equal(t, actuator.AllBanned(0), *muts[0].Rights)
}

func TestRemove_FiniteDuration(t *testing.T) {
	_, p, a := setup(t)

	require.NoError(t, a.Remove(context.Background(), actuator.UserRef{ID: 1}, actuator.BanPolicy{Duration: time.Hour}))
	muts := p.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, testutil.Epoch.Add(time.Hour).Unix(), muts[0].Rights.UntilDate)
}

func TestRemove_Failure(t *testing.T) {
	_, p, a := setup(t)
	p.FailBan(1, actuator.ErrAdminRequired)

	assert.ErrorIs(t, a.Remove(context.Background(), actuator.UserRef{ID: 1}, actuator.BanPolicy{}), actuator.ErrAdminRequired)
}

func TestMutations_AreRateLimitedAcrossAddAndRemove(t *testing.T) {
	_, p, a := setup(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		_, err := a.Add(ctx, actuator.UserRef{ID: i})
		require.NoError(t, err)
		require.NoError(t, a.Remove(ctx, actuator.UserRef{ID: i}, actuator.BanPolicy{}))
	}

	muts := p.Mutations()
	require.Len(t, muts, 6)
	for i := 1; i < len(muts); i++ {
		assert.GreaterOrEqual(t, muts[i].At.Sub(muts[i-1].At), time.Minute, "mutation %d", i)
	}
}

func TestAdd_CompletesAfterPermitDespiteCancel(t *testing.T) {
	_, p, a := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	// First mutation gets the permit immediately; cancellation afterwards
	// cannot interrupt it.
	res, err := a.Add(ctx, actuator.UserRef{ID: 1})
	cancel()
	require.NoError(t, err)
	assert.Equal(t, actuator.Added, res.Outcome)

	_, err = a.Add(ctx, actuator.UserRef{ID: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, p.Mutations(), 1)
}

func TestFindGroup_MegagroupsOnly(t *testing.T) {
	groups := []actuator.Group{
		{ID: 1, Title: "chat", Megagroup: false},
		{ID: 2, Title: "mega", Megagroup: true},
	}
	_, ok := actuator.FindGroup(groups, 1)
	assert.False(t, ok)
	g, ok := actuator.FindGroup(groups, 2)
	assert.True(t, ok)
	assert.Equal(t, "mega", g.Title)
	assert.Len(t, actuator.Megagroups(groups), 1)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "throttled", actuator.Throttled.String())
	assert.Equal(t, "group_invalid", actuator.GroupInvalid.String())
}
