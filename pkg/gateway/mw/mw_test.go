package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Fatalf("request id not injected into context")
	}
	if rec.Header().Get("X-Request-ID") != captured {
		t.Fatalf("response header %q != context id %q", rec.Header().Get("X-Request-ID"), captured)
	}
}

func TestRequestID_PreservesIncoming(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_incoming")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if captured != "req_incoming" {
		t.Fatalf("captured = %q, want req_incoming", captured)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := map[string]struct{}{"https://app.example.com": {}}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := OriginAllowed(allowed, tt.origin); got != tt.want {
			t.Errorf("OriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	wildcard := map[string]struct{}{"*": {}}
	if !OriginAllowed(wildcard, "https://anything.example.com") {
		t.Errorf("wildcard should allow any origin")
	}
}

func TestCORS_PreflightAndHeaders(t *testing.T) {
	allowed := map[string]struct{}{"https://app.example.com": {}}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORS(allowed, next)

	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin must not be reflected")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("non-preflight request should reach the handler, status = %d", rec.Code)
	}
}

func TestRecover_TurnsPanicInto500(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
