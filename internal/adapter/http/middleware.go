package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const maxRequestBodySize = 1 << 20 // 1MB

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(start).String(),
		)
	})
}

func bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Flush 透传给底层 writer，SSE 推流依赖。
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// watchRateLimiter 限制单个调用方开启 watch 流的频率（滑动窗口计数）。
type watchRateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	starts map[string][]time.Time
}

func newWatchRateLimiter(limit int, window time.Duration) *watchRateLimiter {
	return &watchRateLimiter{
		window: window,
		limit:  limit,
		starts: map[string][]time.Time{},
	}
}

// Allow 判断 caller 是否还能开新流，允许时记一次。
func (l *watchRateLimiter) Allow(caller string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-l.window)

	kept := l.starts[caller][:0]
	for _, t := range l.starts[caller] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.starts[caller] = kept
		return false
	}
	l.starts[caller] = append(kept, now)
	return true
}

// callerIdentity 提取调用方标识：优先 operator 头，退回远端地址。
func callerIdentity(r *http.Request) string {
	if op := r.Header.Get("X-Operator"); op != "" {
		return op
	}
	return r.RemoteAddr
}
