package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marks/internal/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestMatchHost(t *testing.T) {
	tests := []struct {
		host, pattern string
		want          bool
	}{
		{"localhost", "localhost", true},
		{"app.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"evil-example.com", "*.example.com", false},
		{"localhost", "127.0.0.1", false},
	}
	for _, tt := range tests {
		if got := matchHost(tt.host, tt.pattern); got != tt.want {
			t.Errorf("matchHost(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
		}
	}
}

func TestEnforceHost(t *testing.T) {
	h := EnforceHost([]string{"localhost", "[::1]"}, logger.NewNop())(ok)

	tests := []struct {
		host string
		want int
	}{
		{"localhost:8787", http.StatusOK},
		{"LOCALHOST", http.StatusOK},
		{"[::1]:8787", http.StatusOK},
		{"attacker.example:8787", http.StatusForbidden},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = tt.host
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != tt.want {
			t.Errorf("Host %q: status = %d, want %d", tt.host, w.Code, tt.want)
		}
	}
}

func TestAllowOnlyCIDRSPassthrough(t *testing.T) {
	h := AllowOnlyCIDRS(nil, false, logger.NewNop())(ok)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestLimiterReserve(t *testing.T) {
	l := newLimiter(RateLimitConfig{PerMinute: 60, Burst: 2})
	now := time.Now()

	for i := 0; i < 2; i++ {
		if allowed, _ := l.reserve("1.2.3.4", now); !allowed {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
	allowed, retry := l.reserve("1.2.3.4", now)
	if allowed {
		t.Fatal("third request should be limited")
	}
	if retry <= 0 || retry > time.Second {
		t.Errorf("retry = %v, want within one second at 60/min", retry)
	}

	if allowed, _ := l.reserve("5.6.7.8", now); !allowed {
		t.Error("another client has its own bucket")
	}
	if allowed, _ := l.reserve("1.2.3.4", now.Add(time.Second)); !allowed {
		t.Error("a token should be back after one second")
	}
}

func TestLimiterForgetsIdleClients(t *testing.T) {
	l := newLimiter(RateLimitConfig{PerMinute: 1, Burst: 1, IdleTTL: time.Minute})
	now := time.Now()
	l.reserve("1.2.3.4", now)
	l.reserve("5.6.7.8", now.Add(2*time.Minute))

	if _, found := l.clients["1.2.3.4"]; found {
		t.Error("idle client should have been swept")
	}
}

func TestLogKeepsStatus(t *testing.T) {
	h := Log(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
}
