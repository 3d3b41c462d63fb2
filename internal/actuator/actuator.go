package actuator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Outcome classifies an add attempt.
type Outcome int

const (
	Added Outcome = iota
	Declined
	Throttled
	GroupInvalid
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case Declined:
		return "declined"
	case Throttled:
		return "throttled"
	case GroupInvalid:
		return "group_invalid"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AddResult is the declared result of Add. Reason is set for Declined,
// Throttled and GroupInvalid.
type AddResult struct {
	Outcome Outcome
	Reason  error
}

// BanPolicy sets how long a removal lasts. Zero is permanent.
type BanPolicy struct {
	Duration time.Duration
}

// Actuator mutates one group's membership.
type Actuator struct {
	platform Platform
	limiter  *Limiter

	mu    sync.Mutex
	group GroupRef
}

// New returns an actuator for group. Mutations go through limiter.
func New(p Platform, group GroupRef, limiter *Limiter) *Actuator {
	if limiter == nil {
		limiter = NewLimiter(DefaultInterval, nil)
	}
	return &Actuator{platform: p, group: group, limiter: limiter}
}

// Group returns the current group reference.
func (a *Actuator) Group() GroupRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.group
}

// Resolve finds the platform user for a record. The handle is tried first;
// the numeric identity is the fallback. Returns ErrNotFound when neither
// resolves.
func (a *Actuator) Resolve(ctx context.Context, handle string, identity int64) (UserRef, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle != "" {
		u, err := a.platform.ResolveUsername(ctx, handle)
		switch {
		case err == nil:
			return u, nil
		case !errors.Is(err, ErrNotFound):
			return UserRef{}, fmt.Errorf("resolve @%s: %w", handle, err)
		}
	}
	if identity <= 0 {
		return UserRef{}, fmt.Errorf("resolve %q: %w", handle, ErrNotFound)
	}
	u, err := a.platform.ResolveUserID(ctx, identity)
	if err != nil {
		return UserRef{}, fmt.Errorf("resolve %d: %w", identity, err)
	}
	return u, nil
}

// Add invites user to the group. Declared outcomes come back in AddResult
// with a nil error; any other failure is returned as an error.
//
// On GroupInvalid the group reference is refreshed once and the same user
// retried once.
func (a *Actuator) Add(ctx context.Context, user UserRef) (AddResult, error) {
	invite := func(ctx context.Context, g GroupRef) error {
		return a.platform.InviteToGroup(ctx, g, user)
	}

	err := a.mutate(ctx, invite)
	if errors.Is(err, ErrGroupInvalid) {
		if rerr := a.RefreshGroup(ctx); rerr != nil {
			return AddResult{Outcome: GroupInvalid, Reason: rerr}, nil
		}
		err = a.mutate(ctx, invite)
	}
	return classifyAdd(err)
}

func classifyAdd(err error) (AddResult, error) {
	switch {
	case err == nil, errors.Is(err, ErrAlreadyMember):
		return AddResult{Outcome: Added}, nil
	case errors.Is(err, ErrPrivacyRestricted), errors.Is(err, ErrNotMutualContact):
		return AddResult{Outcome: Declined, Reason: err}, nil
	case errors.Is(err, ErrFlood):
		return AddResult{Outcome: Throttled, Reason: err}, nil
	case errors.Is(err, ErrGroupInvalid):
		return AddResult{Outcome: GroupInvalid, Reason: err}, nil
	default:
		return AddResult{}, err
	}
}

// Remove bans user from the group under policy.
func (a *Actuator) Remove(ctx context.Context, user UserRef, policy BanPolicy) error {
	var until int64
	if policy.Duration > 0 {
		until = a.limiter.clock.Now().Add(policy.Duration).Unix()
	}
	rights := AllBanned(until)
	ban := func(ctx context.Context, g GroupRef) error {
		return a.platform.EditBanned(ctx, g, user, rights)
	}

	err := a.mutate(ctx, ban)
	if errors.Is(err, ErrGroupInvalid) {
		if rerr := a.RefreshGroup(ctx); rerr != nil {
			return rerr
		}
		err = a.mutate(ctx, ban)
	}
	return err
}

// mutate runs one rate-limited platform call. Once a permit is held the call
// runs to completion even if ctx is cancelled.
func (a *Actuator) mutate(ctx context.Context, call func(context.Context, GroupRef) error) error {
	permit, err := a.limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()
	return call(context.WithoutCancel(ctx), a.Group())
}

// RefreshGroup re-reads the group's access reference from the dialog list.
func (a *Actuator) RefreshGroup(ctx context.Context) error {
	id := a.Group().ID
	groups, err := a.platform.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("refresh group %d: %w", id, err)
	}
	g, ok := FindGroup(groups, id)
	if !ok {
		return fmt.Errorf("refresh group %d: not in dialog list: %w", id, ErrGroupInvalid)
	}

	a.mu.Lock()
	a.group = g.Ref()
	a.mu.Unlock()
	return nil
}
