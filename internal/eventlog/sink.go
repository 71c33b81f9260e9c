package eventlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Writer persists a batch of log entries
type Writer interface {
	InsertLogs(ctx context.Context, entries []contracts.LogEntry) error
}

// Sink is the fire-and-forget logging sink: log(source, level, message)
// ⭐ SSOT: process_log 기록은 이 Sink를 통해서만
//
// Every entry is emitted through the zerolog logger immediately and queued for
// asynchronous persistence. A full queue drops the entry; Log never blocks.
type Sink struct {
	logger  *logger.Logger
	writer  Writer
	queue   chan contracts.LogEntry
	dropped atomic.Int64

	batchSize     int
	flushInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Sink
type Option func(*Sink)

// WithBuffer sets the queue capacity
func WithBuffer(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.queue = make(chan contracts.LogEntry, n)
		}
	}
}

// WithFlushInterval sets how often a partial batch is written
func WithFlushInterval(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// New creates a sink. writer may be nil (log-only).
func New(log *logger.Logger, writer Writer, opts ...Option) *Sink {
	s := &Sink{
		logger:        log.WithField("module", "eventlog"),
		writer:        writer,
		queue:         make(chan contracts.LogEntry, 1024),
		batchSize:     100,
		flushInterval: time.Second,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.loop()
	return s
}

var _ contracts.LogSink = (*Sink)(nil)

// Log records one message. Never blocks, never panics.
func (s *Sink) Log(source, level, message string) {
	defer func() {
		// send on a closed queue after Close
		if r := recover(); r != nil {
			s.dropped.Add(1)
		}
	}()

	l := s.logger.WithField("source", source)
	switch level {
	case contracts.LevelError:
		l.Error(message)
	case contracts.LevelWarning:
		l.Warn(message)
	default:
		l.Info(message)
	}

	if s.writer == nil {
		return
	}

	entry := contracts.LogEntry{
		LoggedAt: time.Now(),
		Source:   source,
		Level:    level,
		Message:  message,
	}

	select {
	case s.queue <- entry:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of entries that could not be queued
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes the queue and stops the background writer
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		<-s.done
	})
}

func (s *Sink) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	pending := make([]contracts.LogEntry, 0, s.batchSize)
	for {
		select {
		case entry, ok := <-s.queue:
			if !ok {
				s.flush(pending)
				return
			}
			pending = append(pending, entry)
			if len(pending) >= s.batchSize {
				s.flush(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				s.flush(pending)
				pending = pending[:0]
			}
		}
	}
}

func (s *Sink) flush(entries []contracts.LogEntry) {
	if len(entries) == 0 || s.writer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch := make([]contracts.LogEntry, len(entries))
	copy(batch, entries)
	if err := s.writer.InsertLogs(ctx, batch); err != nil {
		s.logger.WithError(err).WithField("entries", len(batch)).Warn("Failed to persist log entries")
	}
}

// Discard is a LogSink that drops everything
type Discard struct{}

// Log implements contracts.LogSink
func (Discard) Log(string, string, string) {}
