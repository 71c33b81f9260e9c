package redis

import (
	"context"
	"testing"
	"time"

	"github.com/wonny/ifrs9-ecl/pkg/config"
)

func TestNewClient_Disabled(t *testing.T) {
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Enabled: false,
		},
	}

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if client.Enabled() {
		t.Error("Expected client to be disabled")
	}
}

func TestLocker_Disabled(t *testing.T) {
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Enabled: false,
		},
	}

	client, _ := New(cfg)
	locker := NewLocker(client, "test")

	// When Redis is disabled, the lock is always granted
	ok, release, err := locker.Acquire(context.Background(), "pipeline:2024-12-31", "token", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !ok {
		t.Error("Expected lock to be granted when Redis disabled")
	}
	if err := release(context.Background()); err != nil {
		t.Errorf("release() error = %v", err)
	}
}

func TestCache_Disabled(t *testing.T) {
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Enabled: false,
		},
	}

	client, _ := New(cfg)
	cache := NewCache(client, "test")

	var result float64
	found, err := cache.Get(context.Background(), FXRateKey("USD", "EUR", "2024-12-31"), &result)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Expected cache miss when Redis disabled")
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"FXRateKey", FXRateKey("USD", "EUR", "2024-12-31"), "fx:USD:EUR:2024-12-31"},
		{"cache key", Key("ecl", "cache", FXRateKey("USD", "EUR", "2024-12-31")), "ecl:cache:fx:USD:EUR:2024-12-31"},
		{"lock key", Key("ecl", "lock", "ecl_pipeline:2024-06-30"), "ecl:lock:ecl_pipeline:2024-06-30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestCache_DisabledSetIsNoop(t *testing.T) {
	client, _ := New(&config.Config{})
	if err := NewCache(client, "test").Set(context.Background(), "k", 1.25, TTLDaily); err != nil {
		t.Errorf("Set() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := &config.Config{Redis: config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: "1"}}
	if _, err := New(cfg); err == nil {
		t.Error("Expected connection error for unreachable redis")
	}
}
