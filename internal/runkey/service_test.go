package runkey

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/pkg/config"
	"github.com/wonny/ifrs9-ecl/pkg/database"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

type stubIssuer struct {
	next, current int64
}

func (s *stubIssuer) Next(context.Context) (int64, error)    { s.next++; return s.next, nil }
func (s *stubIssuer) Current(context.Context) (int64, error) { return s.current, nil }

func TestResolve(t *testing.T) {
	ctx := context.Background()
	explicit := int64(42)

	issuer := &stubIssuer{next: 10, current: 7}

	key, err := Resolve(ctx, issuer, contracts.RunContext{RunKey: &explicit})
	require.NoError(t, err)
	assert.Equal(t, int64(42), key)

	key, err = Resolve(ctx, issuer, contracts.RunContext{FreshRunKey: true})
	require.NoError(t, err)
	assert.Equal(t, int64(11), key)

	key, err = Resolve(ctx, issuer, contracts.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), key)
}

func TestService_NextRetriesContention(t *testing.T) {
	svc := NewService(nil, batch.Options{Retries: 3, RetryDelay: time.Millisecond}, logger.Nop())

	calls := 0
	svc.increment = func(context.Context) (int64, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("increment: %w", &pgconn.PgError{Code: "40001"})
		}
		return 5, nil
	}

	key, err := svc.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), key)
	assert.Equal(t, 3, calls)
}

func TestService_NextGivesUpOnPersistentContention(t *testing.T) {
	svc := NewService(nil, batch.Options{Retries: 2, RetryDelay: time.Millisecond}, logger.Nop())

	calls := 0
	svc.increment = func(context.Context) (int64, error) {
		calls++
		return 0, &pgconn.PgError{Code: "40001"}
	}

	_, err := svc.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrRunKeyUnavailable)
	assert.True(t, batch.IsRetryable(err))
	assert.Equal(t, 2, calls)
}

func TestService_ConcurrentNextIsUnique(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping database test")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	db, err := database.New(cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	svc := NewService(db.Pool, batch.DefaultOptions(), logger.Nop())

	var (
		mu   sync.Mutex
		keys = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := svc.Next(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			assert.False(t, keys[key], "duplicate run key %d", key)
			keys[key] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, keys, 8)

	current, err := svc.Current(ctx)
	require.NoError(t, err)
	for key := range keys {
		assert.LessOrEqual(t, key, current)
	}
}
