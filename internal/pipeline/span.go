package pipeline

import (
	"fmt"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/metrics"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Span wraps one stage invocation: entry/exit/error logging plus metrics
// ⭐ SSOT: stage 단위 로깅/메트릭은 여기서만
type Span struct {
	stage   contracts.Stage
	logger  *logger.Logger
	metrics *metrics.Metrics
	sink    contracts.LogSink
	start   time.Time
}

// StartSpan logs the stage entry
func StartSpan(stage contracts.Stage, processID string, date time.Time, log *logger.Logger, m *metrics.Metrics, sink contracts.LogSink) *Span {
	l := log.WithFields(map[string]interface{}{
		"stage":      stage.String(),
		"process_id": processID,
		"date":       contracts.DateKey(date),
	})
	l.Infof("%s started: %s", stage.ShortName(), stage.Description())
	sink.Log(stage.String(), contracts.LevelInfo, fmt.Sprintf("stage started for %s", contracts.DateKey(date)))

	return &Span{stage: stage, logger: l, metrics: m, sink: sink, start: time.Now()}
}

// End logs the exit (or error) and records the outcome. Returns the elapsed time.
func (s *Span) End(res *contracts.StageResult, err error) time.Duration {
	elapsed := time.Since(s.start)

	if err != nil {
		s.logger.WithError(err).WithField("duration", elapsed.String()).Error("stage failed")
		s.sink.Log(s.stage.String(), contracts.LevelError, fmt.Sprintf("stage failed after %s: %v", elapsed.Round(time.Millisecond), err))
		s.metrics.ObserveStage(s.stage.String(), string(contracts.StatusFailed), elapsed, 0)
		return elapsed
	}

	rows, warnings := 0, 0
	if res != nil {
		rows, warnings = res.RowsAffected, res.Warnings
	}
	s.logger.WithFields(map[string]interface{}{
		"duration": elapsed.String(),
		"rows":     rows,
		"warnings": warnings,
	}).Info("stage completed")
	s.sink.Log(s.stage.String(), contracts.LevelInfo,
		fmt.Sprintf("stage completed in %s: %d rows, %d warnings", elapsed.Round(time.Millisecond), rows, warnings))
	s.metrics.ObserveStage(s.stage.String(), string(contracts.StatusSuccess), elapsed, rows)
	s.metrics.RejectRows(s.stage.String(), warnings)
	return elapsed
}
