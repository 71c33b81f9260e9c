package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/ifrs9-ecl/pkg/config"
	"github.com/wonny/ifrs9-ecl/pkg/database"
)

// testDBCmd represents the test-db command
var testDBCmd = &cobra.Command{
	Use:   "test-db",
	Short: "PostgreSQL 연결 테스트",
	Long: `데이터베이스 연결과 ecl 스키마 상태를 확인하고 풀 통계를 표시합니다.

Example:
  go run ./cmd/ecl test-db`,
	RunE: runTestDB,
}

func init() {
	rootCmd.AddCommand(testDBCmd)
}

func runTestDB(cmd *cobra.Command, args []string) error {
	fmt.Println("=== IFRS9 ECL Database Connection Test ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("❌ Failed to load config: %w", err)
	}
	fmt.Printf("✅ Config loaded (ENV: %s)\n", cfg.Env)
	fmt.Printf("   Database URL: %s\n\n", maskPassword(cfg.Database.URL))

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("❌ Failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := db.Health(ctx)
	if err != nil {
		return fmt.Errorf("❌ Health check failed: %w", err)
	}

	fmt.Println("✅ Health Check Results:")
	fmt.Printf("   Healthy: %v\n", h.Healthy)
	fmt.Printf("   Response Time: %v\n", h.ResponseTime)
	fmt.Printf("   ecl Tables: %d/%d\n\n", h.Tables, h.Expected)

	fmt.Println("📊 Connection Pool Statistics:")
	fmt.Printf("   Max Connections: %d\n", h.MaxConns)
	fmt.Printf("   Total Connections: %d\n", h.Total)
	fmt.Printf("   Idle Connections: %d\n", h.Idle)

	if !h.SchemaReady {
		fmt.Println("\n⚠️  Schema incomplete, run: ecl migrate")
		return nil
	}
	fmt.Println("\n✅ All tests passed!")
	return nil
}

// maskPassword hides the password part of a postgres URL
func maskPassword(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 {
		return url
	}
	creds := url[scheme+3 : at]
	colon := strings.Index(creds, ":")
	if colon < 0 {
		return url
	}
	return url[:scheme+3] + creds[:colon] + ":***" + url[at:]
}
