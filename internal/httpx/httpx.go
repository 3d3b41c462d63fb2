// Package httpx wraps a fasthttp client with the small JSON request/response
// surface the table adapter, the notification gateway and the platform bridge
// share.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultTimeout bounds a single request when the context has no deadline.
const DefaultTimeout = 15 * time.Second

// Client issues single HTTP requests. It never retries: retry policy belongs
// to the caller's next poll cycle.
type Client struct {
	c       *fasthttp.Client
	timeout time.Duration
}

// NewClient returns a client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		c: &fasthttp.Client{
			Name:                      "rostersync",
			MaxConnsPerHost:           4,
			MaxIdemponentCallAttempts: 1,
			ReadTimeout:               timeout,
			WriteTimeout:              timeout,
		},
		timeout: timeout,
	}
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// Do sends one request. body, when non-nil, is encoded as JSON.
// Transport failures are returned as errors; any status code is returned as
// a Response for the caller to interpret.
func (c *Client) Do(ctx context.Context, method, url string, header map[string]string, body any) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	if err := c.c.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       append([]byte(nil), resp.Body()...),
	}, nil
}

// DoJSON sends a request and decodes a 2xx JSON response into out (when
// non-nil). Non-2xx responses return *StatusError.
func (c *Client) DoJSON(ctx context.Context, method, url string, header map[string]string, in, out any) error {
	resp, err := c.Do(ctx, method, url, header, in)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, url, err)
	}
	return nil
}

// deadline picks the earlier of the context deadline and now+timeout.
func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
