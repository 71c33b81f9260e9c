package commands

import (
	"github.com/spf13/cobra"
)

// migrateCmd applies the ecl schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "ecl 스키마 생성/갱신",
	Long: `ecl 스키마의 모든 테이블을 생성합니다 (idempotent).

Example:
  go run ./cmd/ecl migrate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ensureSchema(cmd.Context()); err != nil {
			PrintError("Migration failed")
			return err
		}
		PrintSuccess("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
