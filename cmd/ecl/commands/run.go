package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/pipeline"
)

// runCmd executes the full (or partial) pipeline as one process
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "전체 파이프라인 실행 (S1 → S8)",
	Long: `기준일에 대해 파이프라인을 하나의 process 로 순차 실행합니다.
각 stage 상태는 ecl.process_stage_status 에 기록됩니다.

Flags:
  --date            기준일 (YYYY-MM-DD, 필수)
  --stages          실행할 stage 목록 (기본: 전체)
  --fresh-run-key   S7 에서 새 run_key 발급
  --run-key         지정한 run_key 사용

Example:
  go run ./cmd/ecl run --date 2024-06-30 --fresh-run-key
  go run ./cmd/ecl run --date 2024-06-30 --stages S6,S7,S8`,
	RunE: runPipeline,
}

var (
	runDate        string
	runStages      []string
	runFreshKey    bool
	runExplicitKey int64
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runDate, "date", "", "기준일 (YYYY-MM-DD)")
	runCmd.Flags().StringSliceVar(&runStages, "stages", nil, "stage 목록 (예: S6,S7,S8)")
	runCmd.Flags().BoolVar(&runFreshKey, "fresh-run-key", false, "새 run_key 발급")
	runCmd.Flags().Int64Var(&runExplicitKey, "run-key", 0, "사용할 run_key (0 = 자동)")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	date, err := parseDate(runDate)
	if err != nil {
		return err
	}
	stages, err := parseStages(runStages)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req := pipeline.Request{Date: date, Stages: stages, FreshRunKey: runFreshKey}
	if runExplicitKey > 0 {
		req.RunKey = &runExplicitKey
	}

	PrintDoubleSeparator()
	fmt.Printf("  ECL pipeline  %s\n", contracts.DateKey(date))
	PrintSeparator()

	run, err := a.orchestrator().Run(cmd.Context(), req)
	if run != nil {
		printProcess(run)
	}
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	PrintSuccess("Pipeline completed")
	return nil
}

func parseStages(names []string) ([]contracts.Stage, error) {
	stages := make([]contracts.Stage, 0, len(names))
	for _, n := range names {
		s, err := contracts.ParseStage(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

func printProcess(run *contracts.ProcessRun) {
	PrintKeyValue("Process", run.ProcessID, 10)
	PrintKeyValue("Status", string(run.Status), 10)
	if run.RunKey != nil {
		PrintKeyValue("Run key", fmt.Sprintf("%d", *run.RunKey), 10)
	}
	if run.Error != "" {
		PrintKeyValue("Error", run.Error, 10)
	}
	fmt.Println()

	widths := []int{4, 20, 10, 12}
	PrintTableHeader([]string{"#", "STAGE", "STATUS", "DURATION"}, widths)
	for _, st := range run.Stages {
		dur := "-"
		if st.StartedAt != nil && st.FinishedAt != nil {
			dur = st.FinishedAt.Sub(*st.StartedAt).Round(time.Millisecond).String()
		}
		PrintTableRow([]string{fmt.Sprintf("%d", st.Seq), st.Stage.String(), string(st.Status), dur}, widths)
	}
	fmt.Println()
}
