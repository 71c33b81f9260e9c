package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wonny/ifrs9-ecl/pkg/config"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

func TestFXOptions(t *testing.T) {
	opts := FXOptions(config.FXConfig{Timeout: 7 * time.Second, MaxRetries: 2, RatePerSecond: 5})

	if opts.Timeout != 7*time.Second || opts.MaxRetries != 2 || opts.RatePerSecond != 5 {
		t.Errorf("unexpected options %+v", opts)
	}

	client := New(opts, logger.Nop())
	if client.httpClient.Timeout != 7*time.Second {
		t.Errorf("Expected timeout 7s, got %v", client.httpClient.Timeout)
	}
	if client.limiter == nil {
		t.Error("Expected limiter to be set")
	}
	if New(Options{}, logger.Nop()).limiter != nil {
		t.Error("Expected no limiter without a rate")
	}
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Expected JSON accept header, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rate":1.0834}`))
	}))
	defer server.Close()

	var body struct {
		Rate float64 `json:"rate"`
	}
	if err := New(Options{}, logger.Nop()).GetJSON(context.Background(), server.URL, &body); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if body.Rate != 1.0834 {
		t.Errorf("Expected rate 1.0834, got %v", body.Rate)
	}
}

func TestGetJSON_NonOKIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`not found`))
	}))
	defer server.Close()

	client := New(Options{MaxRetries: 3, InitialDelay: time.Millisecond}, logger.Nop())

	var body map[string]interface{}
	err := client.GetJSON(context.Background(), server.URL, &body)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 StatusError, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts.Load())
	}
}

func TestRetryOn5xx(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(Options{MaxRetries: 3, InitialDelay: time.Millisecond}, logger.Nop())

	var body map[string]string
	if err := client.GetJSON(context.Background(), server.URL, &body); err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(Options{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, logger.Nop())

	var body map[string]string
	err := client.GetJSON(context.Background(), server.URL, &body)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 StatusError, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := New(Options{MaxRetries: 10, InitialDelay: time.Second}, logger.Nop())

	var body map[string]string
	if err := client.GetJSON(ctx, server.URL, &body); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	if d, ok := retryAfter("3"); !ok || d != 3*time.Second {
		t.Errorf("retryAfter(3) = %v, %v", d, ok)
	}
	for _, v := range []string{"", "-1", "Wed, 21 Oct 2015 07:28:00 GMT"} {
		if _, ok := retryAfter(v); ok {
			t.Errorf("retryAfter(%q) should not parse", v)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		statusCode int
		want       bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.statusCode), func(t *testing.T) {
			if got := IsRetryableError(tt.statusCode); got != tt.want {
				t.Errorf("IsRetryableError(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}
