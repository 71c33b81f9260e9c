package jobs

import (
	"context"
	"time"

	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// LogPruner deletes old process_log rows
type LogPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// LogRetentionJob trims ecl.process_log
type LogRetentionJob struct {
	pruner    LogPruner
	retention time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

// NewLogRetentionJob creates a new log retention job
func NewLogRetentionJob(pruner LogPruner, retention time.Duration, log *logger.Logger) *LogRetentionJob {
	return &LogRetentionJob{
		pruner:    pruner,
		retention: retention,
		now:       time.Now,
		logger:    log.WithField("job", "log_retention"),
	}
}

// Name returns the job name
func (j *LogRetentionJob) Name() string {
	return "log_retention"
}

// Schedule returns the cron schedule (daily at 3 AM)
func (j *LogRetentionJob) Schedule() string {
	return "0 0 3 * * *"
}

// Run executes the cleanup
func (j *LogRetentionJob) Run(ctx context.Context) error {
	j.logger.Debug("Starting scheduled log retention")

	count, err := j.pruner.Prune(ctx, j.now().Add(-j.retention))
	if err != nil {
		return err
	}

	if count > 0 {
		j.logger.WithField("removed", count).Info("Log retention completed")
	}

	return nil
}
