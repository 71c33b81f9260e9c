package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// runkeyCmd inspects or advances the global run key counter
var runkeyCmd = &cobra.Command{
	Use:   "runkey",
	Short: "run_key 조회/발급",
	Long: `ecl.run_key_counter 를 조회하거나 증가시킵니다.

Example:
  go run ./cmd/ecl runkey current
  go run ./cmd/ecl runkey next`,
}

var (
	runkeyCurrentCmd = &cobra.Command{
		Use:   "current",
		Short: "최근 발급된 run_key",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := a.issuer.Current(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}

	runkeyNextCmd = &cobra.Command{
		Use:   "next",
		Short: "새 run_key 발급",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := a.issuer.Next(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(runkeyCmd)
	runkeyCmd.AddCommand(runkeyCurrentCmd)
	runkeyCmd.AddCommand(runkeyNextCmd)
}
