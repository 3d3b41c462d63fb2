package actuator

import (
	"context"
	"errors"
)

// Platform errors. Implementations wrap these so callers can classify with
// errors.Is.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrNotUser           = errors.New("entity is not a user")
	ErrFlood             = errors.New("flood control")
	ErrPrivacyRestricted = errors.New("user privacy restricted")
	ErrNotMutualContact  = errors.New("user is not a mutual contact")
	ErrAlreadyMember     = errors.New("user already a participant")
	ErrGroupInvalid      = errors.New("group reference invalid")
	ErrAdminRequired     = errors.New("admin rights required")
)

// UserRef is a resolved platform user.
type UserRef struct {
	ID         int64  `json:"id"`
	AccessHash int64  `json:"access_hash"`
	Username   string `json:"username,omitempty"`
}

// GroupRef addresses the target group.
type GroupRef struct {
	ID         int64 `json:"id"`
	AccessHash int64 `json:"access_hash"`
}

// Group is one entry of the account's dialog list.
type Group struct {
	ID         int64  `json:"id"`
	AccessHash int64  `json:"access_hash"`
	Title      string `json:"title"`
	Megagroup  bool   `json:"megagroup"`
	Members    int    `json:"participants_count"`
}

// Ref returns the group's address.
func (g Group) Ref() GroupRef {
	return GroupRef{ID: g.ID, AccessHash: g.AccessHash}
}

// BannedRights is a restricted-rights grant. A true field revokes that right.
// UntilDate is a unix time; zero means permanent.
type BannedRights struct {
	ViewMessages bool  `json:"view_messages"`
	SendMessages bool  `json:"send_messages"`
	SendMedia    bool  `json:"send_media"`
	SendStickers bool  `json:"send_stickers"`
	SendGifs     bool  `json:"send_gifs"`
	SendGames    bool  `json:"send_games"`
	SendInline   bool  `json:"send_inline"`
	EmbedLinks   bool  `json:"embed_links"`
	SendPolls    bool  `json:"send_polls"`
	ChangeInfo   bool  `json:"change_info"`
	InviteUsers  bool  `json:"invite_users"`
	PinMessages  bool  `json:"pin_messages"`
	UntilDate    int64 `json:"until_date"`
}

// AllBanned revokes every right until the given unix time (0 = forever).
func AllBanned(until int64) BannedRights {
	return BannedRights{
		ViewMessages: true,
		SendMessages: true,
		SendMedia:    true,
		SendStickers: true,
		SendGifs:     true,
		SendGames:    true,
		SendInline:   true,
		EmbedLinks:   true,
		SendPolls:    true,
		ChangeInfo:   true,
		InviteUsers:  true,
		PinMessages:  true,
		UntilDate:    until,
	}
}

// Platform is the messaging-platform session the actuator drives.
type Platform interface {
	ResolveUsername(ctx context.Context, username string) (UserRef, error)
	ResolveUserID(ctx context.Context, id int64) (UserRef, error)
	InviteToGroup(ctx context.Context, group GroupRef, user UserRef) error
	EditBanned(ctx context.Context, group GroupRef, user UserRef, rights BannedRights) error
	ListGroups(ctx context.Context) ([]Group, error)
}

// FindGroup returns the megagroup with id from groups.
func FindGroup(groups []Group, id int64) (Group, bool) {
	for _, g := range groups {
		if g.ID == id && g.Megagroup {
			return g, true
		}
	}
	return Group{}, false
}

// Megagroups filters groups down to megagroups, preserving order.
func Megagroups(groups []Group) []Group {
	var out []Group
	for _, g := range groups {
		if g.Megagroup {
			out = append(out, g)
		}
	}
	return out
}
