// Package bridge implements actuator.Platform against a messaging-platform
// session bridge: a sidecar that owns the authenticated user session and
// exposes the handful of calls this module needs as JSON over HTTP.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/httpx"
)

// Config identifies the bridge and the account it acts as.
type Config struct {
	URL     string
	APIID   int
	APIHash string
	Phone   string
	Timeout time.Duration
}

// Client talks to one bridge.
type Client struct {
	cfg  Config
	http *httpx.Client
}

// New returns a bridge client.
func New(cfg Config) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{cfg: cfg, http: httpx.NewClient(cfg.Timeout)}
}

var _ actuator.Platform = (*Client)(nil)

// APIError is an error reported by the bridge. Type carries the platform's
// RPC error name (for example FLOOD_WAIT_30 or USER_PRIVACY_RESTRICTED).
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bridge: %s (%d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("bridge: %s (%d)", e.Type, e.Code)
}

// Unwrap maps the RPC error name onto the actuator's error taxonomy.
func (e *APIError) Unwrap() error {
	t := strings.ToUpper(e.Type)
	switch {
	case strings.HasPrefix(t, "FLOOD_WAIT"), t == "PEER_FLOOD", t == "SLOWMODE_WAIT":
		return actuator.ErrFlood
	case t == "USER_PRIVACY_RESTRICTED":
		return actuator.ErrPrivacyRestricted
	case t == "USER_NOT_MUTUAL_CONTACT":
		return actuator.ErrNotMutualContact
	case t == "USER_ALREADY_PARTICIPANT":
		return actuator.ErrAlreadyMember
	case t == "CHANNEL_INVALID", t == "CHANNEL_PRIVATE", t == "CHAT_ID_INVALID":
		return actuator.ErrGroupInvalid
	case t == "CHAT_ADMIN_REQUIRED", t == "CHAT_WRITE_FORBIDDEN":
		return actuator.ErrAdminRequired
	case t == "NOT_FOUND", t == "USERNAME_NOT_OCCUPIED", t == "USERNAME_INVALID", t == "PEER_ID_INVALID", t == "USER_ID_INVALID":
		return actuator.ErrNotFound
	case t == errSessionPasswordNeeded:
		return ErrPasswordNeeded
	case t == errPhoneCodeInvalid, t == "PHONE_CODE_EXPIRED", t == "PHONE_CODE_EMPTY":
		return ErrCodeInvalid
	case t == "PASSWORD_HASH_INVALID":
		return ErrPasswordInvalid
	case t == "AUTH_KEY_UNREGISTERED", t == "SESSION_REVOKED":
		return ErrUnauthorized
	}
	return nil
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// call POSTs in to path and decodes the response into out.
func (c *Client) call(ctx context.Context, path string, in, out any) error {
	resp, err := c.http.Do(ctx, http.MethodPost, c.cfg.URL+path, nil, in)
	if err != nil {
		return fmt.Errorf("bridge %s: %w", path, err)
	}
	if !resp.OK() {
		var env errorEnvelope
		if json.Unmarshal(resp.Body, &env) == nil && env.Error != nil {
			env.Error.Status = resp.StatusCode
			return fmt.Errorf("%s: %w", path, env.Error)
		}
		return fmt.Errorf("bridge %s: %w", path, &httpx.StatusError{
			Method: http.MethodPost, URL: c.cfg.URL + path, StatusCode: resp.StatusCode, Body: string(resp.Body),
		})
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("bridge %s: decode: %w", path, err)
	}
	return nil
}

type resolveRequest struct {
	Username string `json:"username,omitempty"`
	ID       int64  `json:"id,omitempty"`
}

type resolveResponse struct {
	Type string           `json:"type"`
	User actuator.UserRef `json:"user"`
}

func (c *Client) resolve(ctx context.Context, req resolveRequest) (actuator.UserRef, error) {
	var resp resolveResponse
	if err := c.call(ctx, "/v1/users/resolve", req, &resp); err != nil {
		return actuator.UserRef{}, err
	}
	if resp.Type != "user" {
		return actuator.UserRef{}, fmt.Errorf("resolved a %s: %w", resp.Type, actuator.ErrNotUser)
	}
	return resp.User, nil
}

// ResolveUsername resolves a public username.
func (c *Client) ResolveUsername(ctx context.Context, username string) (actuator.UserRef, error) {
	return c.resolve(ctx, resolveRequest{Username: username})
}

// ResolveUserID resolves a numeric user id the session has seen.
func (c *Client) ResolveUserID(ctx context.Context, id int64) (actuator.UserRef, error) {
	return c.resolve(ctx, resolveRequest{ID: id})
}

type membershipRequest struct {
	Channel actuator.GroupRef      `json:"channel"`
	User    actuator.UserRef       `json:"user"`
	Rights  *actuator.BannedRights `json:"banned_rights,omitempty"`
}

// InviteToGroup adds user to the group.
func (c *Client) InviteToGroup(ctx context.Context, group actuator.GroupRef, user actuator.UserRef) error {
	return c.call(ctx, "/v1/channels/invite", membershipRequest{Channel: group, User: user}, nil)
}

// EditBanned applies a restricted-rights grant to user.
func (c *Client) EditBanned(ctx context.Context, group actuator.GroupRef, user actuator.UserRef, rights actuator.BannedRights) error {
	return c.call(ctx, "/v1/channels/edit-banned", membershipRequest{Channel: group, User: user, Rights: &rights}, nil)
}

type dialogsResponse struct {
	Groups []actuator.Group `json:"groups"`
}

// ListGroups returns the channels and groups in the account's dialog list.
func (c *Client) ListGroups(ctx context.Context) ([]actuator.Group, error) {
	var resp dialogsResponse
	if err := c.call(ctx, "/v1/dialogs", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}
