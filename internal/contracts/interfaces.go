package contracts

import (
	"context"
	"time"
)

// CurrencyRates returns a rate for (from → to) on a date
// ⭐ SSOT: 환율 조회 인터페이스 (S8)
type CurrencyRates interface {
	Rate(ctx context.Context, from, to string, date time.Time) (float64, error)
}

// LogSink is the fire-and-forget logging collaborator.
// Implementations must never block or panic.
type LogSink interface {
	Log(source, level, message string)
}

// RunKeyIssuer hands out run keys
// ⭐ SSOT: run_key 발급 인터페이스 (S7)
type RunKeyIssuer interface {
	// Next atomically increments the global counter (or initialises it to 1)
	Next(ctx context.Context) (int64, error)
	// Current returns the latest issued key, issuing one if none exists
	Current(ctx context.Context) (int64, error)
}
