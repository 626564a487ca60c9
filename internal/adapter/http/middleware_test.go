package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAuthMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		token      string
		header     string
		wantStatus int
	}{
		{"open access without configured token", "", "", http.StatusOK},
		{"extra header ignored without configured token", "", "anything", http.StatusOK},
		{"matching key accepted", "secret", "secret", http.StatusOK},
		{"mismatched key rejected", "secret", "wrong", http.StatusUnauthorized},
		{"missing key rejected", "secret", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := authMiddleware(tt.token)(okHandler)

			req := httptest.NewRequest(http.MethodGet, "/api/applications/", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized &&
				!strings.Contains(rec.Body.String(), "unauthorized") {
				t.Errorf("body = %q, want json error payload", rec.Body.String())
			}
		})
	}
}

func TestBodySizeLimitMiddleware(t *testing.T) {
	var readErr error
	handler := bodySizeLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		if readErr != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("small body passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || readErr != nil {
			t.Errorf("status = %d, read err = %v", rec.Code, readErr)
		}
	})

	t.Run("oversized body truncated", func(t *testing.T) {
		body := strings.NewReader(strings.Repeat("a", maxRequestBodySize+1))
		req := httptest.NewRequest(http.MethodPost, "/", body)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if readErr == nil {
			t.Fatal("expected read error past the body limit")
		}
	})
}

func TestLoggingMiddlewareStatusCapture(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want passthrough %d", rec.Code, http.StatusTeapot)
	}
}

func TestWatchRateLimiterAllow(t *testing.T) {
	l := newWatchRateLimiter(2, time.Minute)

	if !l.Allow("alice") || !l.Allow("alice") {
		t.Fatal("first two streams should be allowed")
	}
	if l.Allow("alice") {
		t.Error("third stream within the window should be rejected")
	}
	// 调用方之间互不影响
	if !l.Allow("bob") {
		t.Error("other callers should have their own quota")
	}
}

func TestWatchRateLimiterWindowExpiry(t *testing.T) {
	l := newWatchRateLimiter(1, 10*time.Millisecond)

	if !l.Allow("alice") {
		t.Fatal("first stream should be allowed")
	}
	if l.Allow("alice") {
		t.Fatal("second stream inside the window should be rejected")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Allow("alice") {
		t.Error("quota should recover after the window slides past")
	}
}

func TestCallerIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Operator", "admin")
	if got := callerIdentity(req); got != "admin" {
		t.Errorf("identity = %q, want operator header", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := callerIdentity(req); got != req.RemoteAddr {
		t.Errorf("identity = %q, want remote addr %q", got, req.RemoteAddr)
	}
}
