package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Row is one record held by FakeTable.
type Row struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// FakeTable is an in-memory table speaking the Teable record API subset the
// source adapter uses: unfiltered paginated GET and batched PATCH. A GET
// carrying a filter is rejected with 400, since real filters need field ids.
//
// Failure injection: FailFetches and FailWrites make the next N requests of
// that kind answer 503.
type FakeTable struct {
	mu          sync.Mutex
	statusField string
	token       string
	rows        []Row
	patches     [][]Row
	gets        int
	failFetches int
	failWrites  int
}

// NewFakeTable returns an empty table whose status column is statusField.
// A non-empty token is required as a bearer credential on every request.
func NewFakeTable(statusField, token string) *FakeTable {
	if statusField == "" {
		statusField = "status"
	}
	return &FakeTable{statusField: statusField, token: token}
}

// Add appends a row.
func (t *FakeTable) Add(id string, fields map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	t.rows = append(t.rows, Row{ID: id, Fields: cp})
}

// Field returns one field of a row, or nil when absent.
func (t *FakeTable) Field(id, field string) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rows {
		if r.ID == id {
			return r.Fields[field]
		}
	}
	return nil
}

// Status returns the status field of a row as a string.
func (t *FakeTable) Status(id string) string {
	s, _ := t.Field(id, t.statusField).(string)
	return s
}

// Rows returns a copy of every row, in insertion order.
func (t *FakeTable) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = copyRow(r)
	}
	return out
}

// Patches returns every PATCH body's records, in request order.
func (t *FakeTable) Patches() [][]Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]Row(nil), t.patches...)
}

// Gets returns the number of GET requests served.
func (t *FakeTable) Gets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gets
}

// FailFetches makes the next n GET requests fail.
func (t *FakeTable) FailFetches(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failFetches = n
}

// FailWrites makes the next n PATCH requests fail.
func (t *FakeTable) FailWrites(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWrites = n
}

// Server starts an httptest server for the table. The caller closes it.
// Its URL is the API base; records live under /table/{id}/record.
func (t *FakeTable) Server() *httptest.Server {
	return httptest.NewServer(t)
}

// ServeHTTP implements http.Handler.
func (t *FakeTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/table/") || !strings.HasSuffix(r.URL.Path, "/record") {
		http.NotFound(w, r)
		return
	}
	if t.token != "" && r.Header.Get("Authorization") != "Bearer "+t.token {
		http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		t.serveGet(w, r)
	case http.MethodPatch:
		t.servePatch(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (t *FakeTable) serveGet(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gets++
	if t.failFetches > 0 {
		t.failFetches--
		http.Error(w, `{"message":"unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	if q.Has("filter") {
		http.Error(w, `{"message":"filter requires field ids"}`, http.StatusBadRequest)
		return
	}
	take, err := strconv.Atoi(q.Get("take"))
	if err != nil || take <= 0 {
		take = 100
	}
	skip, _ := strconv.Atoi(q.Get("skip"))

	matched := make([]Row, 0, len(t.rows))
	for _, row := range t.rows {
		matched = append(matched, copyRow(row))
	}
	if skip > len(matched) {
		skip = len(matched)
	}
	end := skip + take
	if end > len(matched) {
		end = len(matched)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"records": nonNil(matched[skip:end])})
}

func (t *FakeTable) servePatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FieldKeyType string `json:"fieldKeyType"`
		Typecast     bool   `json:"typecast"`
		Records      []Row  `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FieldKeyType != "name" {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failWrites > 0 {
		t.failWrites--
		http.Error(w, `{"message":"unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	t.patches = append(t.patches, body.Records)
	var updated []Row
	for _, p := range body.Records {
		for i := range t.rows {
			if t.rows[i].ID != p.ID {
				continue
			}
			for k, v := range p.Fields {
				t.rows[i].Fields[k] = v
			}
			updated = append(updated, copyRow(t.rows[i]))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(nonNil(updated))
}

func copyRow(r Row) Row {
	cp := Row{ID: r.ID, Fields: make(map[string]any, len(r.Fields))}
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return cp
}

func nonNil(rows []Row) []Row {
	if rows == nil {
		return []Row{}
	}
	return rows
}
