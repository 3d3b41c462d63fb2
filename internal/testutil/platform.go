package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/rostersync/internal/actuator"
)

// PlatformCall is one recorded FakePlatform call.
type PlatformCall struct {
	Op     string
	UserID int64
	Group  actuator.GroupRef
	At     time.Time
	Rights *actuator.BannedRights
}

// Mutating reports whether the call changes group membership.
func (c PlatformCall) Mutating() bool {
	return c.Op == "invite" || c.Op == "ban"
}

// FakePlatform is an in-memory actuator.Platform.
//
// Users are registered with AddUser; unknown handles and ids resolve to
// actuator.ErrNotFound. Scripted errors queued with FailInvite/FailBan are
// returned by the next matching mutation, one per call.
type FakePlatform struct {
	mu         sync.Mutex
	clock      interface{ Now() time.Time }
	users      map[int64]actuator.UserRef
	handles    map[string]int64
	groups     []actuator.Group
	members    map[int64]bool
	inviteErrs map[int64][]error
	banErrs    map[int64][]error
	listErr    error
	calls      []PlatformCall
}

// NewFakePlatform returns an empty platform. Calls are timestamped with clock
// (time.Now when nil).
func NewFakePlatform(clock interface{ Now() time.Time }) *FakePlatform {
	return &FakePlatform{
		clock:      clock,
		users:      map[int64]actuator.UserRef{},
		handles:    map[string]int64{},
		members:    map[int64]bool{},
		inviteErrs: map[int64][]error{},
		banErrs:    map[int64][]error{},
	}
}

// AddUser registers a resolvable user. username may be empty.
func (p *FakePlatform) AddUser(id int64, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[id] = actuator.UserRef{ID: id, AccessHash: id * 7, Username: username}
	if username != "" {
		p.handles[strings.ToLower(username)] = id
	}
}

// AddGroup registers a dialog.
func (p *FakePlatform) AddGroup(g actuator.Group) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups = append(p.groups, g)
}

// FailList makes ListGroups return err (nil clears it).
func (p *FakePlatform) FailList(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listErr = err
}

// FailInvite queues errors for the next invites of user id.
func (p *FakePlatform) FailInvite(id int64, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inviteErrs[id] = append(p.inviteErrs[id], errs...)
}

// FailBan queues errors for the next bans of user id.
func (p *FakePlatform) FailBan(id int64, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.banErrs[id] = append(p.banErrs[id], errs...)
}

// Calls returns every recorded call.
func (p *FakePlatform) Calls() []PlatformCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlatformCall(nil), p.calls...)
}

// Mutations returns invite and ban calls only.
func (p *FakePlatform) Mutations() []PlatformCall {
	var out []PlatformCall
	for _, c := range p.Calls() {
		if c.Mutating() {
			out = append(out, c)
		}
	}
	return out
}

// Member reports whether id is currently in the group.
func (p *FakePlatform) Member(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.members[id]
}

func (p *FakePlatform) now() time.Time {
	if p.clock == nil {
		return time.Now()
	}
	return p.clock.Now()
}

func (p *FakePlatform) record(c PlatformCall) {
	c.At = p.now()
	p.calls = append(p.calls, c)
}

func (p *FakePlatform) ResolveUsername(_ context.Context, username string) (actuator.UserRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.handles[strings.ToLower(username)]
	p.record(PlatformCall{Op: "resolve_username", UserID: id})
	if !ok {
		return actuator.UserRef{}, fmt.Errorf("@%s: %w", username, actuator.ErrNotFound)
	}
	return p.users[id], nil
}

func (p *FakePlatform) ResolveUserID(_ context.Context, id int64) (actuator.UserRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(PlatformCall{Op: "resolve_id", UserID: id})
	u, ok := p.users[id]
	if !ok {
		return actuator.UserRef{}, fmt.Errorf("user %d: %w", id, actuator.ErrNotFound)
	}
	return u, nil
}

func (p *FakePlatform) InviteToGroup(_ context.Context, g actuator.GroupRef, u actuator.UserRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(PlatformCall{Op: "invite", UserID: u.ID, Group: g})
	if err := pop(p.inviteErrs, u.ID); err != nil {
		return err
	}
	p.members[u.ID] = true
	return nil
}

func (p *FakePlatform) EditBanned(_ context.Context, g actuator.GroupRef, u actuator.UserRef, rights actuator.BannedRights) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := rights
	p.record(PlatformCall{Op: "ban", UserID: u.ID, Group: g, Rights: &r})
	if err := pop(p.banErrs, u.ID); err != nil {
		return err
	}
	delete(p.members, u.ID)
	return nil
}

func (p *FakePlatform) ListGroups(context.Context) ([]actuator.Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(PlatformCall{Op: "list_groups"})
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]actuator.Group(nil), p.groups...), nil
}

func pop(q map[int64][]error, id int64) error {
	errs := q[id]
	if len(errs) == 0 {
		return nil
	}
	q[id] = errs[1:]
	return errs[0]
}
