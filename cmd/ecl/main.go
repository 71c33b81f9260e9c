package main

import (
	"os"

	"github.com/wonny/ifrs9-ecl/cmd/ecl/commands"
)

// main is the entry point for the ECL CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/ecl [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
