package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/pkg/config"
)

// ApplicationName tags engine sessions in pg_stat_activity
const ApplicationName = "ifrs9-ecl"

const connectTimeout = 5 * time.Second

// DB wraps the pgxpool.Pool shared by every stage repository
// ⭐ SSOT: DB 연결은 이 패키지에서만 생성
type DB struct {
	Pool *pgxpool.Pool
}

// New opens the pool and verifies it with a ping.
// Sessions resolve unqualified names against the ecl schema first.
// ⭐ SSOT: 유일하게 pgxpool.NewWithConfig()를 호출하는 함수
func New(cfg *config.Config) (*DB, error) {
	poolConfig, err := poolConfig(cfg.Database)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pc.MaxConns = int32(cfg.MaxConns)
	pc.MinConns = int32(cfg.MinConns)
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime

	params := pc.ConnConfig.RuntimeParams
	params["application_name"] = ApplicationName
	params["search_path"] = "ecl,public"
	if cfg.LockTimeout > 0 {
		params["lock_timeout"] = strconv.FormatInt(cfg.LockTimeout.Milliseconds(), 10)
	}
	return pc, nil
}

// Close closes the pool; safe to call twice
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health is the state reported by test-db and /health
type Health struct {
	Healthy      bool          `json:"healthy"`
	SchemaReady  bool          `json:"schema_ready"`
	Tables       int           `json:"tables"`
	Expected     int           `json:"expected_tables"`
	ResponseTime time.Duration `json:"response_time"`
	Acquired     int32         `json:"acquired_conns"`
	Idle         int32         `json:"idle_conns"`
	Total        int32         `json:"total_conns"`
	MaxConns     int32         `json:"max_conns"`
	Error        string        `json:"error,omitempty"`
}

// Health pings the pool and counts the ecl tables against the DDL.
// A reachable database with a missing table is healthy but not SchemaReady.
func (db *DB) Health(ctx context.Context) (*Health, error) {
	h := &Health{Expected: ExpectedTables()}

	start := time.Now()
	if err := db.Pool.Ping(ctx); err != nil {
		h.Error = err.Error()
		return h, err
	}
	h.ResponseTime = time.Since(start)

	if err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = 'ecl' AND table_type = 'BASE TABLE'
	`).Scan(&h.Tables); err != nil {
		h.Error = err.Error()
		return h, fmt.Errorf("count ecl tables: %w", err)
	}
	h.SchemaReady = h.Tables >= h.Expected

	st := db.Pool.Stat()
	h.Acquired, h.Idle, h.Total, h.MaxConns = st.AcquiredConns(), st.IdleConns(), st.TotalConns(), st.MaxConns()

	h.Healthy = true
	return h, nil
}
