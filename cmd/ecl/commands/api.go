package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/ifrs9-ecl/internal/api"
	"github.com/wonny/ifrs9-ecl/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "운영 API 서버 시작",
	Long: `운영용 REST API 서버를 시작합니다.

Endpoints:
  GET  /health                    - Health check
  GET  /metrics                   - Prometheus metrics
  POST /api/process               - 파이프라인 실행 트리거
  GET  /api/process/{id}          - process 상태 조회
  POST /api/process/{id}/cancel   - 다음 stage 전 취소 요청
  GET  /api/logs                  - 최근 process_log

Example:
  go run ./cmd/ecl api
  go run ./cmd/ecl api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== IFRS9 ECL API Server ===")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// triggered runs outlive their request but stop before their next stage on shutdown
	base, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	process := handlers.NewProcessHandler(base, a.orchestrator(), a.log)

	routes := api.Routes{
		Process: process,
		Logs:    handlers.NewLogHandler(a.logs, a.log),
		Health:  a.db,
	}
	if a.metrics != nil {
		routes.Metrics = a.metrics.Handler()
	}

	server := api.New(":"+a.cfg.Port, api.NewRouter(routes, a.log), a.log)

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	if err := server.Run(ctx); err != nil {
		return err
	}

	stopRuns()
	process.Wait()

	a.log.Info("Server stopped")
	return nil
}
