package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperengineering/outbox"
)

func TestHTTPClient_Insert_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections/sessions/records" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-api-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "outbox-client/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		if got := r.Header.Get("X-Outbox-Source-ID"); got != "laptop" {
			t.Errorf("X-Outbox-Source-ID = %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "01ITEM" {
			t.Errorf("Idempotency-Key = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["title"] != "Focus" {
			t.Errorf("body = %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"srv-1","data":{"title":"Focus","version":1}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "test-api-key", "laptop")
	ctx := outbox.WithIdempotencyKey(context.Background(), "01ITEM")
	rec, err := client.Insert(ctx, "sessions", outbox.Payload{"title": "Focus"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "srv-1" {
		t.Errorf("ID = %q, want srv-1", rec.ID)
	}
	if rec.Data["version"] != float64(1) {
		t.Errorf("Data = %v", rec.Data)
	}
}

func TestHTTPClient_Update(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.EscapedPath() != "/api/v1/collections/meetings/records/m%2F1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	rec, err := NewHTTPClient(server.URL, "k", "").Update(context.Background(), "meetings", "m/1", outbox.Payload{"title": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "m/1" {
		t.Errorf("ID = %q, want the requested id when the body omits it", rec.ID)
	}
}

func TestHTTPClient_Conflicts(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		conflict bool
	}{
		{"409", http.StatusConflict, `{"message":"exists"}`, true},
		{"412", http.StatusPreconditionFailed, ``, true},
		{"unique code", http.StatusBadRequest, `{"code":"unique_violation"}`, true},
		{"version code", http.StatusUnprocessableEntity, `{"code":"version_conflict"}`, true},
		{"server error", http.StatusServiceUnavailable, `{"code":"overloaded"}`, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid api key"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPClient(server.URL, "k", "").Insert(context.Background(), "stats", outbox.Payload{"name": "n", "value": 1})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var rerr *outbox.RemoteError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected RemoteError, got %T", err)
			}
			if rerr.StatusCode != tt.status || rerr.Operation != "insert" || rerr.Collection != "stats" {
				t.Errorf("RemoteError = %+v", rerr)
			}
			if got := errors.Is(err, outbox.ErrConflict); got != tt.conflict {
				t.Errorf("errors.Is(err, ErrConflict) = %v, want %v", got, tt.conflict)
			}
		})
	}
}

func TestHTTPClient_ErrorBodyTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("e", 500)))
	}))
	defer server.Close()

	err := NewHTTPClient(server.URL, "k", "").Delete(context.Background(), "sessions", "1")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if strings.Count(err.Error(), "e") > 260 {
		t.Errorf("error body not truncated: %d bytes", len(err.Error()))
	}
}

func TestHTTPClient_Delete(t *testing.T) {
	status := http.StatusNoContent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method: %s", r.Method)
		}
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", "")
	if err := client.Delete(context.Background(), "sessions", "1"); err != nil {
		t.Errorf("204: %v", err)
	}
	status = http.StatusNotFound
	if err := client.Delete(context.Background(), "sessions", "1"); err != nil {
		t.Errorf("404 should count as deleted: %v", err)
	}
}

func TestHTTPClient_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/collections/sessions/records" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"records":[{"id":"1","data":{"title":"a"}},{"id":"2","data":{"title":"b"}}]}`))
	}))
	defer server.Close()

	records, err := NewHTTPClient(server.URL, "k", "").List(context.Background(), "sessions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 || records[1].ID != "2" || records[1].Data["title"] != "b" {
		t.Errorf("records = %+v", records)
	}
}

func TestHTTPClient_Ping(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", "")
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
	healthy = false
	if err := client.Ping(context.Background()); err == nil {
		t.Error("Ping() against failing remote = nil")
	}
}

func TestHTTPClient_NetworkError(t *testing.T) {
	_, err := NewHTTPClient("http://localhost:1", "k", "").Insert(context.Background(), "sessions", outbox.Payload{})
	var rerr *outbox.RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RemoteError, got %T", err)
	}
	if rerr.StatusCode != 0 || errors.Is(err, outbox.ErrConflict) {
		t.Errorf("network failure classified as %+v", rerr)
	}
}

func TestHTTPClient_SessionTokenPreferred(t *testing.T) {
	var auth []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	token := "session-jwt"
	client := NewHTTPClient(server.URL, "api-key", "").WithSessionToken(func() string { return token })
	_ = client.Ping(context.Background())
	token = ""
	_ = client.Ping(context.Background())

	if len(auth) != 2 || auth[0] != "Bearer session-jwt" || auth[1] != "Bearer api-key" {
		t.Errorf("Authorization headers = %v", auth)
	}
}

func TestHTTPClient_DrainsQueueThroughEngine(t *testing.T) {
	var created int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			created++
			_, _ = w.Write([]byte(`{"id":"srv-9","data":{"title":"Focus"}}`))
		case http.MethodPatch:
			if !strings.HasSuffix(r.URL.Path, "/srv-9") {
				t.Errorf("update not retargeted: %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{"id":"srv-9"}`))
		default:
			t.Errorf("unexpected method: %s", r.Method)
		}
	}))
	defer server.Close()

	engine, err := outbox.NewEngine(nil, NewHTTPClient(server.URL, "k", ""), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	localID, err := engine.EnqueueCreate("sessions", outbox.Payload{"title": "Focus"})
	if err != nil {
		t.Fatalf("EnqueueCreate: %v", err)
	}
	if _, err := engine.EnqueueUpdate("sessions", localID, outbox.Payload{"title": "Deep focus"}); err != nil {
		t.Fatalf("EnqueueUpdate: %v", err)
	}

	res, err := engine.ForceSyncNow(context.Background())
	if err != nil {
		t.Fatalf("ForceSyncNow: %v", err)
	}
	if res.Succeeded != 2 || created != 1 {
		t.Errorf("result = %+v, created = %d", res, created)
	}
	if _, ok := engine.MirrorEntry("sessions", "srv-9"); !ok {
		t.Error("mirror not reconciled to the server id")
	}
}
