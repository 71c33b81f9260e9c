package batch

import (
	"context"
	"fmt"
	"time"
)

// DefaultChunkSize is the number of rows written per transaction
const DefaultChunkSize = 2000

// Chunk splits rows into consecutive slices of at most size rows
func Chunk[T any](rows []T, size int) [][]T {
	if size < 1 {
		size = DefaultChunkSize
	}

	chunks := make([][]T, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// PersistChunks writes rows sequentially, one write call (one transaction) per chunk.
// ⭐ SSOT: "parallel compute, sequential bulk write" 패턴의 write 단계
func PersistChunks[T any](ctx context.Context, rows []T, size int, write func(context.Context, []T) error) (int, error) {
	written := 0
	for i, chunk := range Chunk(rows, size) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := write(ctx, chunk); err != nil {
			return written, fmt.Errorf("chunk %d (%d rows): %w", i, len(chunk), err)
		}
		written += len(chunk)
	}
	return written, nil
}

// Options tunes the compute and write phases of a stage
type Options struct {
	Workers    int
	ChunkSize  int
	Retries    int
	RetryDelay time.Duration
}

// DefaultOptions returns 8 workers, DefaultChunkSize and 3 lock-contention retries
func DefaultOptions() Options {
	return Options{Workers: 8, ChunkSize: DefaultChunkSize, Retries: 3, RetryDelay: 500 * time.Millisecond}
}

// Do runs a single write under the options' lock-contention retry
func (o Options) Do(ctx context.Context, fn func(context.Context) error) error {
	return WithRetry(ctx, o.Retries, o.RetryDelay, fn)
}

// Retrying wraps a chunk writer with WithRetry using the options' attempts and delay
func Retrying[T any](opts Options, write func(context.Context, []T) error) func(context.Context, []T) error {
	return func(ctx context.Context, rows []T) error {
		return WithRetry(ctx, opts.Retries, opts.RetryDelay, func(ctx context.Context) error {
			return write(ctx, rows)
		})
	}
}
