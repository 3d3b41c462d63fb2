package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Webhook is a recording notification endpoint.
//
// It answers every POST with Status (200 by default) and keeps the decoded
// JSON bodies for assertions.
type Webhook struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	bodies []map[string]any
}

// NewWebhook starts a webhook server. The caller closes it.
func NewWebhook() *Webhook {
	w := &Webhook{status: http.StatusOK}
	w.Server = httptest.NewServer(http.HandlerFunc(w.serve))
	return w
}

// SetStatus changes the response code for subsequent requests.
func (w *Webhook) SetStatus(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = code
}

// Bodies returns every request body received, in order.
func (w *Webhook) Bodies() []map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]any(nil), w.bodies...)
}

// Count returns the number of requests received.
func (w *Webhook) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bodies)
}

func (w *Webhook) serve(rw http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	w.mu.Lock()
	w.bodies = append(w.bodies, body)
	code := w.status
	w.mu.Unlock()

	rw.WriteHeader(code)
}
