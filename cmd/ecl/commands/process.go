package commands

import (
	"github.com/spf13/cobra"
)

// processCmd inspects or cancels persisted processes
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "process 조회/취소",
	Long: `ecl.process_runs 에 기록된 process 를 조회하거나 취소를 요청합니다.

Example:
  go run ./cmd/ecl process get 2b0c...
  go run ./cmd/ecl process cancel 2b0c...`,
}

var (
	processGetCmd = &cobra.Command{
		Use:   "get [process_id]",
		Short: "process 상태 조회",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orchestrator().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printProcess(run)
			return nil
		},
	}

	processCancelCmd = &cobra.Command{
		Use:   "cancel [process_id]",
		Short: "다음 stage 전 취소 요청",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orchestrator().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			PrintSuccess("Cancellation requested")
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.AddCommand(processGetCmd)
	processCmd.AddCommand(processCancelCmd)
}
