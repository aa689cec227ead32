package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// Fake backend operations used for failure injection and counting.
const (
	OpPing   = "ping"
	OpSelect = "select"
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpUpload = "upload"
	OpSign   = "sign"
)

// FakeBackend emulates the row and object endpoints closely enough for sync tests.
type FakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	rows     map[string][]map[string]any
	objects  map[string][]byte
	counts   map[string]int
	failures map[string][]int
	offline  bool
	delay    time.Duration
	headers  []http.Header
}

// NewFakeBackend starts a fake backend that is closed when the test ends.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	fb := &FakeBackend{
		rows:     map[string][]map[string]any{},
		objects:  map[string][]byte{},
		counts:   map[string]int{},
		failures: map[string][]int{},
	}
	fb.Server = httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(fb.Close)
	return fb
}

// FailNext makes the next n calls of op answer with status.
func (fb *FakeBackend) FailNext(op string, n int, status int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i := 0; i < n; i++ {
		fb.failures[op] = append(fb.failures[op], status)
	}
}

// SetOffline makes every request fail at the transport level.
func (fb *FakeBackend) SetOffline(offline bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.offline = offline
}

// SetDelay slows every request, which helps tests hold a flush open.
func (fb *FakeBackend) SetDelay(d time.Duration) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.delay = d
}

// Count returns how many calls of op reached the fake, failed ones included.
func (fb *FakeBackend) Count(op string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.counts[op]
}

// Rows returns a copy of the rows stored in table.
func (fb *FakeBackend) Rows(table string) []map[string]any {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]map[string]any, 0, len(fb.rows[table]))
	for _, row := range fb.rows[table] {
		out = append(out, cloneRow(row))
	}
	return out
}

// SeedRow stores a row directly, bypassing counters.
func (fb *FakeBackend) SeedRow(table string, row map[string]any) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.rows[table] = append(fb.rows[table], cloneRow(row))
}

// Object returns the stored object bytes, if any.
func (fb *FakeBackend) Object(bucket, path string) ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	data, ok := fb.objects[bucket+"/"+path]
	return data, ok
}

// LastHeaders returns the headers of the most recent request.
func (fb *FakeBackend) LastHeaders() http.Header {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.headers) == 0 {
		return nil
	}
	return fb.headers[len(fb.headers)-1].Clone()
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (fb *FakeBackend) begin(op string, r *http.Request) (status int, delay time.Duration, offline bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.counts[op]++
	fb.headers = append(fb.headers, r.Header.Clone())
	if queued := fb.failures[op]; len(queued) > 0 {
		status = queued[0]
		fb.failures[op] = queued[1:]
	}
	return status, fb.delay, fb.offline
}

func classify(r *http.Request) (op, table, objectPath string) {
	path := r.URL.Path
	switch {
	case path == "/rest/v1/" || path == "/rest/v1":
		return OpPing, "", ""
	case strings.HasPrefix(path, "/rest/v1/"):
		table = strings.TrimPrefix(path, "/rest/v1/")
		switch r.Method {
		case http.MethodGet:
			return OpSelect, table, ""
		case http.MethodPost:
			return OpInsert, table, ""
		case http.MethodPatch:
			return OpUpdate, table, ""
		case http.MethodDelete:
			return OpDelete, table, ""
		}
	case strings.HasPrefix(path, "/storage/v1/object/sign/"):
		return OpSign, "", strings.TrimPrefix(path, "/storage/v1/object/sign/")
	case strings.HasPrefix(path, "/storage/v1/object/"):
		return OpUpload, "", strings.TrimPrefix(path, "/storage/v1/object/")
	}
	return "", "", ""
}

func (fb *FakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	op, table, objectPath := classify(r)
	if op == "" {
		http.NotFound(w, r)
		return
	}
	status, delay, offline := fb.begin(op, r)
	if offline {
		panic(http.ErrAbortHandler)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		http.Error(w, fmt.Sprintf(`{"message":"injected %s failure"}`, op), status)
		return
	}

	switch op {
	case OpPing:
		w.WriteHeader(http.StatusOK)
	case OpSelect:
		fb.handleSelect(w, r, table)
	case OpInsert:
		fb.handleInsert(w, r, table)
	case OpUpdate:
		fb.handleUpdate(w, r, table)
	case OpDelete:
		fb.handleDelete(w, r, table)
	case OpUpload:
		data, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.objects[objectPath] = data
		fb.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"Key": objectPath})
	case OpSign:
		writeJSON(w, http.StatusOK, map[string]string{"signedURL": "/object/sign/" + objectPath + "?token=test-token"})
	}
}

type eqFilter struct {
	column string
	value  string
}

func parseFilters(r *http.Request) []eqFilter {
	var filters []eqFilter
	for column, values := range r.URL.Query() {
		switch column {
		case "select", "order", "limit":
			continue
		}
		for _, v := range values {
			if strings.HasPrefix(v, "eq.") {
				filters = append(filters, eqFilter{column: column, value: strings.TrimPrefix(v, "eq.")})
			}
		}
	}
	return filters
}

func matches(row map[string]any, filters []eqFilter) bool {
	for _, f := range filters {
		if fmt.Sprint(row[f.column]) != f.value {
			return false
		}
	}
	return true
}

func (fb *FakeBackend) handleSelect(w http.ResponseWriter, r *http.Request, table string) {
	filters := parseFilters(r)
	fb.mu.Lock()
	out := []map[string]any{}
	for _, row := range fb.rows[table] {
		if matches(row, filters) {
			out = append(out, cloneRow(row))
		}
	}
	fb.mu.Unlock()

	if order := r.URL.Query().Get("order"); order != "" {
		column, direction, _ := strings.Cut(order, ".")
		sort.SliceStable(out, func(i, j int) bool {
			a, b := fmt.Sprint(out[i][column]), fmt.Sprint(out[j][column])
			if direction == "desc" {
				return a > b
			}
			return a < b
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (fb *FakeBackend) handleInsert(w http.ResponseWriter, r *http.Request, table string) {
	var row map[string]any
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		http.Error(w, `{"message":"bad json"}`, http.StatusBadRequest)
		return
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	fb.mu.Lock()
	if id, ok := row["id"]; ok {
		for _, existing := range fb.rows[table] {
			if existing["id"] == id {
				fb.mu.Unlock()
				http.Error(w, `{"code":"23505","message":"duplicate key value violates unique constraint"}`, http.StatusConflict)
				return
			}
		}
	}
	fb.rows[table] = append(fb.rows[table], row)
	fb.mu.Unlock()

	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, http.StatusCreated, []map[string]any{row})
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (fb *FakeBackend) handleUpdate(w http.ResponseWriter, r *http.Request, table string) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, `{"message":"bad json"}`, http.StatusBadRequest)
		return
	}
	filters := parseFilters(r)
	fb.mu.Lock()
	updated := []map[string]any{}
	for _, row := range fb.rows[table] {
		if !matches(row, filters) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		updated = append(updated, cloneRow(row))
	}
	fb.mu.Unlock()

	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, http.StatusOK, updated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fb *FakeBackend) handleDelete(w http.ResponseWriter, r *http.Request, table string) {
	filters := parseFilters(r)
	fb.mu.Lock()
	kept := fb.rows[table][:0]
	for _, row := range fb.rows[table] {
		if !matches(row, filters) {
			kept = append(kept, row)
		}
	}
	fb.rows[table] = kept
	fb.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
