package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/pipeline"
	"github.com/wonny/ifrs9-ecl/internal/s7_ledger"
)

// stageCmd runs one stage outside a process
var stageCmd = &cobra.Command{
	Use:   "stage [stage]",
	Short: "단일 stage 실행",
	Long: `하나의 stage 를 단독 실행합니다 (process 기록 없음).
S7 은 --step 으로 원장 단계 하나만 실행할 수 있습니다.

Stages:
  S1_STAGE_SEED, S1_STAGE_ENRICH, S1_STAGE_CLASSIFY, S1_COOLING,
  S2, S3, S4, S5, S6, S7, S8

Ledger steps (S7):
  insert, discount, propagate, marginal, ead, expected_cf, shortfall, forward_el

Example:
  go run ./cmd/ecl stage S6 --date 2024-06-30
  go run ./cmd/ecl stage S7 --date 2024-06-30 --step ead --run-key 12`,
	Args: cobra.ExactArgs(1),
	RunE: runStage,
}

var (
	stageDate     string
	stageStep     string
	stageFreshKey bool
	stageRunKey   int64
)

func init() {
	rootCmd.AddCommand(stageCmd)

	stageCmd.Flags().StringVar(&stageDate, "date", "", "기준일 (YYYY-MM-DD)")
	stageCmd.Flags().StringVar(&stageStep, "step", "", "S7 원장 단계")
	stageCmd.Flags().BoolVar(&stageFreshKey, "fresh-run-key", false, "새 run_key 발급")
	stageCmd.Flags().Int64Var(&stageRunKey, "run-key", 0, "사용할 run_key (0 = 자동)")
}

func runStage(cmd *cobra.Command, args []string) error {
	stage, err := contracts.ParseStage(args[0])
	if err != nil {
		return err
	}
	date, err := parseDate(stageDate)
	if err != nil {
		return err
	}
	var step s7_ledger.Step
	if stageStep != "" {
		if stage != contracts.StageLedger {
			return fmt.Errorf("--step is only valid for %s", contracts.StageLedger)
		}
		if step, err = s7_ledger.ParseStep(stageStep); err != nil {
			return err
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rc := contracts.RunContext{Date: date, FreshRunKey: stageFreshKey}
	if stageRunKey > 0 {
		rc.RunKey = &stageRunKey
	}

	span := pipeline.StartSpan(stage, "", date, a.log, a.metrics, a.sink)
	var res *contracts.StageResult
	if step != "" {
		res, err = pipeline.NewLedger(a.deps).RunStep(cmd.Context(), rc, step)
	} else {
		res, err = runnerFor(a, stage).Run(cmd.Context(), rc)
	}
	elapsed := span.End(res, err)
	if err != nil {
		PrintError(fmt.Sprintf("%s failed: %v", stage, err))
		return err
	}

	PrintSuccess(fmt.Sprintf("%s completed in %s", stage, elapsed.Round(time.Millisecond)))
	PrintKeyValue("Rows", fmt.Sprintf("%d", res.RowsAffected), 10)
	PrintKeyValue("Warnings", fmt.Sprintf("%d", res.Warnings), 10)
	if res.RunKey != nil {
		PrintKeyValue("Run key", fmt.Sprintf("%d", *res.RunKey), 10)
	}
	return nil
}

func runnerFor(a *app, stage contracts.Stage) contracts.StageRunner {
	for _, r := range pipeline.NewRunners(a.deps) {
		if r.Stage() == stage {
			return r
		}
	}
	return nil
}
