package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/pipeline"
	"github.com/wonny/ifrs9-ecl/internal/scheduler"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Runner runs one pipeline process
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*contracts.ProcessRun, error)
}

// Locker guards against two replicas running the same reporting date
type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, func(context.Context) error, error)
}

// DateFunc picks the reporting date for a scheduled run
type DateFunc func(now time.Time) time.Time

// PreviousDay returns the calendar day before now (UTC midnight)
func PreviousDay(now time.Time) time.Time {
	d := now.UTC().AddDate(0, 0, -1)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// PreviousMonthEnd returns the last day of the month before now
func PreviousMonthEnd(now time.Time) time.Time {
	n := now.UTC()
	return time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// ECLPipelineJob runs the full S1→S8 chain with a fresh run key
// ⭐ SSOT: 정기 ECL 산출 스케줄은 이 Job에서만
type ECLPipelineJob struct {
	runner   Runner
	locker   Locker
	schedule string
	date     DateFunc
	lockTTL  time.Duration
	now      func() time.Time
	logger   *logger.Logger
}

// NewECLPipelineJob creates a new pipeline job
func NewECLPipelineJob(runner Runner, locker Locker, schedule string, date DateFunc, log *logger.Logger) *ECLPipelineJob {
	if date == nil {
		date = PreviousDay
	}
	return &ECLPipelineJob{
		runner:   runner,
		locker:   locker,
		schedule: schedule,
		date:     date,
		lockTTL:  6 * time.Hour,
		now:      time.Now,
		logger:   log.WithField("job", "ecl_pipeline"),
	}
}

// Name returns the job name
func (j *ECLPipelineJob) Name() string {
	return "ecl_pipeline"
}

// Schedule returns the configured cron expression
func (j *ECLPipelineJob) Schedule() string {
	return j.schedule
}

// Run executes the pipeline for the resolved reporting date
func (j *ECLPipelineJob) Run(ctx context.Context) error {
	date := j.date(j.now())
	log := j.logger.WithField("date", contracts.DateKey(date))

	key := "ecl_pipeline:" + contracts.DateKey(date)
	ok, release, err := j.locker.Acquire(ctx, key, uuid.NewString(), j.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("Pipeline already running elsewhere, skipping")
		return fmt.Errorf("%w: %s locked", scheduler.ErrSkipped, key)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("lock release failed")
		}
	}()

	log.Info("Starting scheduled ECL pipeline")
	run, err := j.runner.Run(ctx, pipeline.Request{Date: date, FreshRunKey: true})
	if pipeline.IsCancelled(err) {
		return fmt.Errorf("%w: %v", scheduler.ErrSkipped, err)
	}
	if err != nil {
		return fmt.Errorf("ecl pipeline %s: %w", contracts.DateKey(date), err)
	}

	fields := map[string]interface{}{"process_id": run.ProcessID}
	if run.RunKey != nil {
		fields["run_key"] = *run.RunKey
	}
	log.WithFields(fields).Info("Scheduled ECL pipeline completed")
	return nil
}
