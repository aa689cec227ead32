package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"linesync/internal/api"
	"linesync/internal/backend"
	"linesync/internal/connectivity"
	"linesync/internal/queue"
	"linesync/internal/syncer"
	"linesync/internal/testsupport"
)

func newTestAPI(t *testing.T, token string) (http.Handler, *queue.Store, *testsupport.FakeBackend) {
	t.Helper()
	fake := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fake.URL))
	store := testsupport.MustOpenStore(t, cfg)
	client := backend.New(cfg)
	d, err := New(cfg, nil, Deps{
		Store:    store,
		Syncer:   syncer.New(cfg, store, client),
		Observer: connectivity.New(cfg, client),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d.api.routes(token), store, fake
}

func serve(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPIServerHandleQueue(t *testing.T) {
	h, store, _ := newTestAPI(t, "")
	if _, err := store.Enqueue(context.Background(), &queue.Record{LineID: "line-1", Date: "2026-03-14", Quantity: 4}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := serve(h, http.MethodGet, "/api/queue?status=pending", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.QueueListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].LineID != "line-1" {
		t.Fatalf("unexpected records %+v", resp.Records)
	}

	if w := serve(h, http.MethodGet, "/api/queue?status=bogus", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", w.Code)
	}
}

func TestAPIServerRequiresToken(t *testing.T) {
	h, _, _ := newTestAPI(t, "secret")
	w := serve(h, http.MethodGet, "/api/status", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="linesync"` {
		t.Fatalf("unexpected challenge %q", got)
	}
	var denied api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &denied); err != nil || !strings.Contains(denied.Error, "paths.api_token") {
		t.Fatalf("expected error naming paths.api_token, got %q (%v)", w.Body.String(), err)
	}
	if w := serve(h, http.MethodGet, "/api/status", "wrong", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	w = serve(h, http.MethodGet, "/api/status", "secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Connectivity != connectivity.StateUnknown.String() {
		t.Fatalf("expected unknown connectivity before start, got %q", status.Connectivity)
	}
}

func TestAPIServerEnqueueAndFlush(t *testing.T) {
	h, store, fake := newTestAPI(t, "")

	w := serve(h, http.MethodPost, "/api/records", "", map[string]any{
		"lineId": "line-2", "date": "2026-03-14", "quantity": 9,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var submit api.SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &submit); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if !submit.Queued || submit.LocalID == "" {
		t.Fatalf("expected queued record while connectivity is unknown, got %+v", submit)
	}

	w = serve(h, http.MethodPost, "/api/flush", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var summary api.FlushSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode flush: %v", err)
	}
	if summary.Synced != 1 || fake.Count("insert") != 1 {
		t.Fatalf("expected one synced record, got %+v", summary)
	}
	if recs, _ := store.List(context.Background()); len(recs) != 0 {
		t.Fatalf("expected empty queue, got %d", len(recs))
	}
}

func TestAPIServerRejectsInvalidRecord(t *testing.T) {
	h, _, _ := newTestAPI(t, "")
	w := serve(h, http.MethodPost, "/api/records", "", map[string]any{"lineId": "line-2", "date": "14/03/2026", "quantity": 1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/api/flush", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
