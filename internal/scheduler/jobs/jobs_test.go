package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/pipeline"
	"github.com/wonny/ifrs9-ecl/internal/scheduler"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

type stubRunner struct {
	req pipeline.Request
	err error
}

func (r *stubRunner) Run(_ context.Context, req pipeline.Request) (*contracts.ProcessRun, error) {
	r.req = req
	if r.err != nil {
		return nil, r.err
	}
	key := int64(7)
	return &contracts.ProcessRun{ProcessID: "p", RunKey: &key, Status: contracts.StatusSuccess}, nil
}

type stubLocker struct {
	granted  bool
	key      string
	released bool
}

func (l *stubLocker) Acquire(_ context.Context, key, _ string, _ time.Duration) (bool, func(context.Context) error, error) {
	l.key = key
	return l.granted, func(context.Context) error { l.released = true; return nil }, nil
}

func fixedNow() time.Time { return time.Date(2024, 7, 1, 1, 30, 0, 0, time.UTC) }

func TestReportingDates(t *testing.T) {
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), PreviousDay(fixedNow()))
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), PreviousMonthEnd(fixedNow()))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), PreviousMonthEnd(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func TestECLPipelineJob_Run(t *testing.T) {
	runner := &stubRunner{}
	locker := &stubLocker{granted: true}
	job := NewECLPipelineJob(runner, locker, "0 30 1 * * *", PreviousDay, logger.Nop())
	job.now = fixedNow

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "ecl_pipeline", job.Name())
	assert.Equal(t, "0 30 1 * * *", job.Schedule())
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), runner.req.Date)
	assert.True(t, runner.req.FreshRunKey)
	assert.Equal(t, "ecl_pipeline:2024-06-30", locker.key)
	assert.True(t, locker.released)
}

func TestECLPipelineJob_SkipsWhenLocked(t *testing.T) {
	runner := &stubRunner{}
	job := NewECLPipelineJob(runner, &stubLocker{granted: false}, "@daily", nil, logger.Nop())

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrSkipped)
	assert.True(t, runner.req.Date.IsZero())
}

func TestECLPipelineJob_CancelledRunIsSkipped(t *testing.T) {
	locker := &stubLocker{granted: true}
	cancelled := fmt.Errorf("%w: before S4_LGD", contracts.ErrCancelled)
	job := NewECLPipelineJob(&stubRunner{err: cancelled}, locker, "@daily", nil, logger.Nop())

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrSkipped)
	assert.True(t, locker.released)
}

func TestECLPipelineJob_PropagatesFailure(t *testing.T) {
	locker := &stubLocker{granted: true}
	job := NewECLPipelineJob(&stubRunner{err: contracts.ErrNoInstruments}, locker, "@daily", nil, logger.Nop())

	err := job.Run(context.Background())
	assert.True(t, errors.Is(err, contracts.ErrNoInstruments))
	assert.True(t, locker.released)
}

type stubPruner struct{ before time.Time }

func (p *stubPruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return 3, nil
}

func TestLogRetentionJob(t *testing.T) {
	p := &stubPruner{}
	job := NewLogRetentionJob(p, 48*time.Hour, logger.Nop())
	job.now = fixedNow

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, fixedNow().Add(-48*time.Hour), p.before)
}
