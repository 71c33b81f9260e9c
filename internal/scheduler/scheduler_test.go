package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

type countingJob struct {
	name     string
	failures int32
	calls    atomic.Int32
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return "0 0 1 * * *" }

func (j *countingJob) Run(context.Context) error {
	n := j.calls.Add(1)
	if n <= j.failures {
		return errors.New("transient")
	}
	return nil
}

func TestScheduler_AddAndList(t *testing.T) {
	s := New(logger.Nop())
	require.NoError(t, s.AddJob(&countingJob{name: "b"}))
	require.NoError(t, s.AddJob(&countingJob{name: "a"}))

	assert.Error(t, s.AddJob(&countingJob{name: "a"}))
	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())

	require.NoError(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.GetAllJobs())
	assert.Error(t, s.RemoveJob("a"))
}

func TestScheduler_RetriesUntilSuccess(t *testing.T) {
	s := New(logger.Nop(), WithRetry(3, time.Millisecond))
	job := &countingJob{name: "flaky", failures: 2}
	require.NoError(t, s.AddJob(job))

	result, err := s.RunJobSync(context.Background(), "flaky")
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), job.calls.Load())

	stats := s.GetJobStats()["flaky"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.NotNil(t, stats.LastSuccess)
}

func TestScheduler_FailsAfterRetries(t *testing.T) {
	s := New(logger.Nop(), WithRetry(1, time.Millisecond))
	job := &countingJob{name: "broken", failures: 100}
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("broken"))
	s.Wait()

	assert.Equal(t, int32(2), job.calls.Load())
	results, err := s.GetJobHistory("broken", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Equal(t, 2, results[0].Attempts)
	assert.Equal(t, "transient", results[0].Error)

	stats := s.GetJobStats()["broken"]
	assert.Equal(t, 0.0, stats.SuccessRate)
	assert.Equal(t, "transient", stats.LastError)
	assert.NotNil(t, stats.LastFailure)
}

type skippingJob struct{ calls atomic.Int32 }

func (j *skippingJob) Name() string     { return "locked" }
func (j *skippingJob) Schedule() string { return "@daily" }

func (j *skippingJob) Run(context.Context) error {
	j.calls.Add(1)
	return fmt.Errorf("%w: ecl_pipeline:2024-06-30 locked", ErrSkipped)
}

func TestScheduler_SkipIsNotRetried(t *testing.T) {
	s := New(logger.Nop(), WithRetry(3, time.Millisecond))
	job := &skippingJob{}
	require.NoError(t, s.AddJob(job))

	result, err := s.RunJobSync(context.Background(), "locked")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.False(t, result.Success())
	assert.Equal(t, int32(1), job.calls.Load())

	stats := s.GetJobStats()["locked"]
	assert.Equal(t, 1, stats.SkippedCount)
	assert.Zero(t, stats.FailureCount)
	assert.NotNil(t, stats.LastRun)
}

func TestScheduler_UnknownJob(t *testing.T) {
	s := New(logger.Nop())
	assert.Error(t, s.RunJob("nope"))
	_, err := s.RunJobSync(context.Background(), "nope")
	assert.Error(t, err)
	_, err = s.NextRun("nope")
	assert.Error(t, err)
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := New(logger.Nop())
	err := s.AddJob(&badScheduleJob{})
	assert.Error(t, err)
}

type badScheduleJob struct{}

func (badScheduleJob) Name() string              { return "bad" }
func (badScheduleJob) Schedule() string          { return "not a cron" }
func (badScheduleJob) Run(context.Context) error { return nil }

func TestJobHistory_KeepsLast100(t *testing.T) {
	h := &JobHistory{}
	outcomes := []Outcome{OutcomeSuccess, OutcomeFailed, OutcomeSkipped, OutcomeSuccess}
	for i := 0; i < 120; i++ {
		h.Add(JobResult{Attempts: i, Outcome: outcomes[i%len(outcomes)]})
	}
	assert.Equal(t, 100, h.Len())
	latest := h.Latest(5)
	require.Len(t, latest, 5)
	assert.Equal(t, 119, latest[4].Attempts)
	assert.Equal(t, 50, h.Count(OutcomeSuccess))
	assert.Equal(t, 25, h.Count(OutcomeSkipped))
	// skips do not dilute the rate
	assert.InDelta(t, 50.0/75.0, h.SuccessRate(), 1e-12)
	assert.Equal(t, 0.0, (&JobHistory{}).SuccessRate())
}
