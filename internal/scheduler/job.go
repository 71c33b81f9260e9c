package scheduler

import (
	"context"
	"errors"
	"time"
)

// ErrSkipped marks a run that deliberately did nothing (date lock held elsewhere,
// process cancelled by an operator). It is recorded, never retried, never a failure.
var ErrSkipped = errors.New("job skipped")

// Job represents a scheduled job
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string

	// Run executes the job; wrap ErrSkipped to report a deliberate no-op
	Run(ctx context.Context) error

	// Schedule is a six-field cron expression (with seconds), e.g. "0 0 2 * * *",
	// or a descriptor such as "@daily"
	Schedule() string
}

// Outcome of one scheduled run
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// JobResult is one run including its retries
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
}

// Success reports whether the run completed its work
func (r JobResult) Success() bool { return r.Outcome == OutcomeSuccess }

const historySize = 100

// JobHistory keeps the latest historySize results of a job
type JobHistory struct {
	results []JobResult
}

// Add appends a result, dropping the oldest past historySize
func (h *JobHistory) Add(result JobResult) {
	h.results = append(h.results, result)
	if len(h.results) > historySize {
		h.results = h.results[len(h.results)-historySize:]
	}
}

// Len returns the number of kept results
func (h *JobHistory) Len() int { return len(h.results) }

// Latest returns up to n most recent results, oldest first
func (h *JobHistory) Latest(n int) []JobResult {
	if n > len(h.results) {
		n = len(h.results)
	}
	out := make([]JobResult, n)
	copy(out, h.results[len(h.results)-n:])
	return out
}

// Count returns how many kept results have the outcome
func (h *JobHistory) Count(o Outcome) int {
	n := 0
	for _, r := range h.results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// SuccessRate is successes over runs that did work (skips excluded); 0 with none
func (h *JobHistory) SuccessRate() float64 {
	worked := len(h.results) - h.Count(OutcomeSkipped)
	if worked == 0 {
		return 0
	}
	return float64(h.Count(OutcomeSuccess)) / float64(worked)
}

// last returns the most recent result with the outcome
func (h *JobHistory) last(o Outcome) *JobResult {
	for i := len(h.results) - 1; i >= 0; i-- {
		if h.results[i].Outcome == o {
			r := h.results[i]
			return &r
		}
	}
	return nil
}
