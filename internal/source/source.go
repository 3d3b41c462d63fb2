package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/rostersync/internal/httpx"
	"github.com/roach88/rostersync/internal/record"
)

// ErrSourceUnavailable wraps every transport, auth, and decode failure.
// Callers treat it as retryable.
var ErrSourceUnavailable = errors.New("record source unavailable")

// DefaultBaseURL is the Teable API root used when none is configured.
const DefaultBaseURL = "https://teable.grait.io/api"

// DefaultPageSize is the take value for paginated reads.
const DefaultPageSize = 1000

// FieldMap names the table columns holding each semantic field.
type FieldMap struct {
	Status      string `yaml:"status"`
	Identity    string `yaml:"identity"`
	Handle      string `yaml:"handle"`
	DisplayName string `yaml:"display_name"`
}

// DefaultFields returns the column names used by the membership table.
func DefaultFields() FieldMap {
	return FieldMap{
		Status:      "status",
		Identity:    "telegramID",
		Handle:      "telegramUsername",
		DisplayName: "First name",
	}
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Token    string
	TableID  string
	Fields   FieldMap
	PageSize int
	Timeout  time.Duration
}

// Client talks to one Teable table.
type Client struct {
	cfg  Config
	http *httpx.Client
}

// New returns a client for cfg. Zero-valued settings take their defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	def := DefaultFields()
	if cfg.Fields.Status == "" {
		cfg.Fields.Status = def.Status
	}
	if cfg.Fields.Identity == "" {
		cfg.Fields.Identity = def.Identity
	}
	if cfg.Fields.Handle == "" {
		cfg.Fields.Handle = def.Handle
	}
	if cfg.Fields.DisplayName == "" {
		cfg.Fields.DisplayName = def.DisplayName
	}
	return &Client{cfg: cfg, http: httpx.NewClient(cfg.Timeout)}
}

type wireRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type listResponse struct {
	Records []wireRecord `json:"records"`
}

type patchRequest struct {
	FieldKeyType string       `json:"fieldKeyType"`
	Typecast     bool         `json:"typecast"`
	Records      []wireRecord `json:"records"`
}

// Fetch returns every record whose status equals status, or every record
// when status is empty. Records with unparseable identities are returned
// with a zero Identity; callers filter them with record.Partition.
func (c *Client) Fetch(ctx context.Context, status record.Status) ([]record.Record, error) {
	var out []record.Record
	for skip := 0; ; skip += c.cfg.PageSize {
		page, err := c.fetchPage(ctx, skip)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", status, err)
		}
		for _, w := range page {
			r := c.decode(w)
			if status != "" && r.Status != status {
				continue
			}
			out = append(out, r)
		}
		if len(page) < c.cfg.PageSize {
			return out, nil
		}
	}
}

// fetchPage reads one unfiltered page. Teable filters address columns by
// field id while the adapter is configured with column names, so status
// matching happens in Fetch.
func (c *Client) fetchPage(ctx context.Context, skip int) ([]wireRecord, error) {
	q := url.Values{}
	q.Set("fieldKeyType", "name")
	q.Set("take", strconv.Itoa(c.cfg.PageSize))
	q.Set("skip", strconv.Itoa(skip))

	resp, err := c.http.Do(ctx, http.MethodGet, c.recordsURL()+"?"+q.Encode(), c.header(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch page at %d: %v", ErrSourceUnavailable, skip, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: fetch page at %d: %v", ErrSourceUnavailable, skip,
			&httpx.StatusError{Method: http.MethodGet, URL: c.recordsURL(), StatusCode: resp.StatusCode, Body: string(resp.Body)})
	}

	// UseNumber keeps large numeric identities exact.
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	var list listResponse
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: decode records: %v", ErrSourceUnavailable, err)
	}
	return list.Records, nil
}

func (c *Client) decode(w wireRecord) record.Record {
	f := c.cfg.Fields
	return record.New(
		w.ID,
		w.Fields[f.Identity],
		stringField(w.Fields[f.Handle]),
		stringField(w.Fields[f.DisplayName]),
		record.Status(stringField(w.Fields[f.Status])),
	)
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// WriteStatus sets status on every record in ids with one batched PATCH.
// The table does not report per-record outcomes, so any failure means the
// whole batch is unconfirmed.
func (c *Client) WriteStatus(ctx context.Context, ids []string, status record.Status) error {
	if len(ids) == 0 {
		return nil
	}
	recs := make([]wireRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, wireRecord{ID: id, Fields: map[string]any{c.cfg.Fields.Status: string(status)}})
	}
	if err := c.patch(ctx, recs); err != nil {
		return fmt.Errorf("%w: write status %s for %d records: %v", ErrSourceUnavailable, status, len(ids), err)
	}
	return nil
}

// WriteDoubleMarker moves one record to double and overwrites its identity
// with marker so it no longer matches identity lookups.
func (c *Client) WriteDoubleMarker(ctx context.Context, id, marker string) error {
	rec := wireRecord{ID: id, Fields: map[string]any{
		c.cfg.Fields.Status:   string(record.StatusDouble),
		c.cfg.Fields.Identity: marker,
	}}
	if err := c.patch(ctx, []wireRecord{rec}); err != nil {
		return fmt.Errorf("%w: write double marker for %s: %v", ErrSourceUnavailable, id, err)
	}
	return nil
}

func (c *Client) patch(ctx context.Context, recs []wireRecord) error {
	body := patchRequest{FieldKeyType: "name", Typecast: true, Records: recs}
	return c.http.DoJSON(ctx, http.MethodPatch, c.recordsURL(), c.header(), body, nil)
}

func (c *Client) recordsURL() string {
	return c.cfg.BaseURL + "/table/" + url.PathEscape(c.cfg.TableID) + "/record"
}

func (c *Client) header() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.Token}
}
