package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSOnAppRoutes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name        string
		method      string
		path        string
		origin      string
		wantStatus  int
		wantAllowed bool
	}{
		{"poll preflight", http.MethodOptions, "/poll?videoId=job123", testAppOrigin, http.StatusNoContent, true},
		{"upload preflight skips auth", http.MethodOptions, "/upload", testAppOrigin, http.StatusNoContent, true},
		{"session from app", http.MethodGet, "/session", testAppOrigin, http.StatusOK, true},
		{"vite dev server", http.MethodGet, "/session", "http://localhost:5173", http.StatusOK, true},
		{"loopback ip", http.MethodGet, "/health", "http://127.0.0.1:5173", http.StatusOK, true},
		{"foreign origin on upload", http.MethodPost, "/upload", "https://evil.example.net", http.StatusForbidden, false},
		{"foreign origin on checkout", http.MethodGet, "/checkout", "https://app.example.com.evil.net", http.StatusForbidden, false},
		{"no origin", http.MethodGet, "/session", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := env.do(req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}

			gotOrigin := rr.Header().Get("Access-Control-Allow-Origin")
			if !tt.wantAllowed {
				if gotOrigin != "" {
					t.Fatalf("Access-Control-Allow-Origin = %q, want none", gotOrigin)
				}
				return
			}
			if gotOrigin != tt.origin {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", gotOrigin, tt.origin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
				t.Fatalf("Access-Control-Allow-Credentials = %q, want true", got)
			}
		})
	}
}

func TestCORSRejectionUsesErrorEnvelope(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/poll?videoId=job123", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rr := env.do(req)

	resp := decodeBody[ErrorResponse](t, rr)
	if resp.Success || resp.Error.Code != ErrCodeInvalidRequest {
		t.Fatalf("response = %+v, want %s", resp, ErrCodeInvalidRequest)
	}
	if got := env.poller.calls.Load(); got != 0 {
		t.Fatalf("poller calls = %d, want 0", got)
	}
}
