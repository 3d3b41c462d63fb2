// Package gateway delivers webhook notifications. Each notification kind has
// a primary endpoint and an optional test endpoint; the test endpoint is tried
// first and the primary is the fallback.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/roach88/rostersync/internal/httpx"
)

// Kind names a notification.
type Kind string

const (
	KindReceived       Kind = "received"
	KindAccepted       Kind = "accepted"
	KindInviteFallback Kind = "invite-fallback"
)

// Kinds returns every notification kind.
func Kinds() []Kind {
	return []Kind{KindReceived, KindAccepted, KindInviteFallback}
}

// ErrNoEndpoint is returned by Endpoint lookups for unconfigured kinds.
var ErrNoEndpoint = errors.New("no endpoint configured")

// Endpoint is the delivery target pair for one kind.
type Endpoint struct {
	Primary string
	Test    string
}

// Configured reports whether at least one URL is set.
func (e Endpoint) Configured() bool {
	return e.Primary != "" || e.Test != ""
}

// Payload is the JSON body posted to an endpoint.
type Payload struct {
	Event            Kind   `json:"event"`
	ExternalIdentity int64  `json:"externalIdentity"`
	Handle           string `json:"handle,omitempty"`
	DisplayName      string `json:"displayName,omitempty"`
	GroupID          int64  `json:"telegramGroupId,omitempty"`
}

// DeliveryError describes the last failed attempt of a notification.
type DeliveryError struct {
	Kind       Kind
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notify %s: %s: status %d", e.Kind, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("notify %s: %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsServerError reports whether err is a delivery failure whose final attempt
// got a 5xx response.
func IsServerError(err error) bool {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return false
	}
	return de.StatusCode >= 500 && de.StatusCode <= 599
}

// Gateway posts notifications.
type Gateway struct {
	http      *httpx.Client
	endpoints map[Kind]Endpoint
}

// New returns a gateway using hc for delivery.
func New(hc *httpx.Client, endpoints map[Kind]Endpoint) *Gateway {
	eps := make(map[Kind]Endpoint, len(endpoints))
	for k, e := range endpoints {
		eps[k] = Endpoint{Primary: strings.TrimSpace(e.Primary), Test: strings.TrimSpace(e.Test)}
	}
	return &Gateway{http: hc, endpoints: eps}
}

// Endpoint returns the configured endpoint for kind.
func (g *Gateway) Endpoint(kind Kind) (Endpoint, error) {
	e, ok := g.endpoints[kind]
	if !ok || !e.Configured() {
		return Endpoint{}, fmt.Errorf("%s: %w", kind, ErrNoEndpoint)
	}
	return e, nil
}

// Notify delivers p for kind. With no endpoint configured it succeeds
// without sending anything. Each endpoint gets exactly one attempt.
func (g *Gateway) Notify(ctx context.Context, kind Kind, p Payload) error {
	e, err := g.Endpoint(kind)
	if errors.Is(err, ErrNoEndpoint) {
		return nil
	}
	p.Event = kind

	var last error
	for _, url := range []string{e.Test, e.Primary} {
		if url == "" {
			continue
		}
		last = g.post(ctx, kind, url, p)
		if last == nil {
			return nil
		}
	}
	return last
}

func (g *Gateway) post(ctx context.Context, kind Kind, url string, p Payload) error {
	resp, err := g.http.Do(ctx, http.MethodPost, url, nil, p)
	if err != nil {
		return &DeliveryError{Kind: kind, Endpoint: url, Err: err}
	}
	if !resp.OK() {
		return &DeliveryError{Kind: kind, Endpoint: url, StatusCode: resp.StatusCode}
	}
	return nil
}
