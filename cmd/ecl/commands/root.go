package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ecl",
	Short: "IFRS9 expected credit loss engine",
	Long: `IFRS9 ECL Unified CLI

기준일(fic_mis_date) 단위 배치 파이프라인:
  S1 staging → S2 transition → S3 interpolation → S4 LGD
  → S5 PIT → S6 cash flow → S7 ledger → S8 ECL

Usage:
  go run ./cmd/ecl [command]

Examples:
  go run ./cmd/ecl migrate
  go run ./cmd/ecl run --date 2024-06-30 --fresh-run-key
  go run ./cmd/ecl stage S6 --date 2024-06-30
  go run ./cmd/ecl scheduler start
  go run ./cmd/ecl api`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug log level)")
}

// parseDate parses a YYYY-MM-DD reporting date
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("--date is required (YYYY-MM-DD)")
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format: %w", err)
	}
	return d, nil
}
