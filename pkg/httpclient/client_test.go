package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero timeout", Config{UserAgent: "test/1.0"}},
		{"negative retries", Config{Timeout: time.Second, RetryAttempts: -1, UserAgent: "test/1.0"}},
		{"missing user agent", Config{Timeout: time.Second}},
		{"backoff exceeds max", Config{Timeout: time.Second, RetryAttempts: 1, RetryBackoff: time.Minute, MaxBackoff: time.Second, UserAgent: "test/1.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("Expected config validation error")
			}
		})
	}
}

func TestClient_SetsUserAgent(t *testing.T) {
	var gotAgent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.UserAgent = "foreman-test/1.0"
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()

	if agent := gotAgent.Load(); agent != "foreman-test/1.0" {
		t.Errorf("Expected User-Agent foreman-test/1.0, got %v", agent)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	client, _ := New(cfg)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected eventual 200, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	client, _ := New(cfg)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 1 {
		t.Errorf("Expected 1 attempt for 404, got %d", calls.Load())
	}
}

func TestClient_DoesNotRetryPostByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	client, _ := New(cfg)

	resp, err := client.Post(srv.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 1 {
		t.Errorf("Expected POST not retried, got %d attempts", calls.Load())
	}
}

func TestSanitizeURL(t *testing.T) {
	u, _ := url.Parse("https://ci.example.com/trigger?token=secret123&suite=unit")
	got := sanitizeURL(u)
	if got != "https://ci.example.com/trigger?suite=unit&token=%5BREDACTED%5D" {
		t.Errorf("Unexpected sanitized URL: %s", got)
	}
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	rt := &retryTransport{}
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"2"}}}
	if got := rt.parseRetryAfter(resp); got != 2*time.Second {
		t.Errorf("Expected 2s, got %v", got)
	}
}
