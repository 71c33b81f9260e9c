package config_test

import (
	"fmt"

	"github.com/wonny/ifrs9-ecl/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	fmt.Printf("Environment: %s\n", cfg.Env)
	fmt.Printf("Engine workers: %d\n", cfg.Engine.Workers)
	fmt.Printf("Chunk size: %d\n", cfg.Engine.ChunkSize)
}
