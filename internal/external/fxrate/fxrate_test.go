package fxrate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/pkg/httputil"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

var rateDate = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	hc := httputil.New(httputil.Options{Timeout: 5 * time.Second, RatePerSecond: 100}, logger.Nop())
	return NewClient(hc, srv.URL+"/", "secret", logger.Nop())
}

func TestClient_Fetch(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convert", r.URL.Path)
		assert.Equal(t, "EUR", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-06-30", r.URL.Query().Get("date"))
		assert.Equal(t, "secret", r.URL.Query().Get("access_key"))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "info": map[string]any{"rate": 1.0712}, "result": 1.0712})
	})

	rate, err := c.Fetch(context.Background(), "EUR", "USD", rateDate)
	require.NoError(t, err)
	assert.Equal(t, 1.0712, rate)
}

func TestClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"api error", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": map[string]any{"code": 101, "info": "invalid key"}})
		}},
		{"zero rate", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		}},
		{"bad status", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newClient(t, tt.handler).Fetch(context.Background(), "EUR", "USD", rateDate)
			assert.Error(t, err)
		})
	}
}

type memoryStore struct {
	rates map[string]float64
	saved int
}

func (m *memoryStore) StoredRate(_ context.Context, from, to string, _ time.Time) (float64, bool, error) {
	r, ok := m.rates[from+to]
	return r, ok, nil
}

func (m *memoryStore) SaveRate(_ context.Context, from, to string, _ time.Time, rate float64) error {
	m.rates[from+to] = rate
	m.saved++
	return nil
}

type memoryCache map[string]float64

func (c memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	v, ok := c[key]
	if ok {
		*(dest.(*float64)) = v
	}
	return ok, nil
}

func (c memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c[key] = value.(float64)
	return nil
}

type countingFetcher struct {
	rate  float64
	err   error
	calls int
}

func (f *countingFetcher) Fetch(context.Context, string, string, time.Time) (float64, error) {
	f.calls++
	return f.rate, f.err
}

func source(fx string) eclconfig.Source {
	cfg := eclconfig.Defaults()
	cfg.Currency.FXSource = fx
	return eclconfig.Static{Config: cfg}
}

func TestProvider_SameCurrency(t *testing.T) {
	p := NewProvider(&memoryStore{}, nil, nil, source(eclconfig.FXSourceManual), 0, logger.Nop())
	rate, err := p.Rate(context.Background(), "usd", "USD", rateDate)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}

func TestProvider_TableThenCache(t *testing.T) {
	store := &memoryStore{rates: map[string]float64{"EURUSD": 1.1}}
	cache := memoryCache{}
	p := NewProvider(store, cache, nil, source(eclconfig.FXSourceManual), time.Hour, logger.Nop())

	rate, err := p.Rate(context.Background(), "EUR", "USD", rateDate)
	require.NoError(t, err)
	assert.Equal(t, 1.1, rate)
	assert.Equal(t, 1.1, cache["fx:EUR:USD:2024-06-30"])

	store.rates["EURUSD"] = 9
	rate, err = p.Rate(context.Background(), "EUR", "USD", rateDate)
	require.NoError(t, err)
	assert.Equal(t, 1.1, rate)
}

func TestProvider_ManualSourceMissing(t *testing.T) {
	live := &countingFetcher{rate: 2}
	p := NewProvider(&memoryStore{rates: map[string]float64{}}, nil, live, source(eclconfig.FXSourceManual), 0, logger.Nop())

	_, err := p.Rate(context.Background(), "JPY", "USD", rateDate)
	assert.ErrorIs(t, err, contracts.ErrReferenceMissing)
	assert.Zero(t, live.calls)
}

func TestProvider_APISourceFetchesAndStores(t *testing.T) {
	store := &memoryStore{rates: map[string]float64{}}
	live := &countingFetcher{rate: 0.0064}
	p := NewProvider(store, memoryCache{}, live, source(eclconfig.FXSourceAPI), 0, logger.Nop())

	rate, err := p.Rate(context.Background(), "JPY", "USD", rateDate)
	require.NoError(t, err)
	assert.Equal(t, 0.0064, rate)
	assert.Equal(t, 1, store.saved)

	_, err = p.Rate(context.Background(), "JPY", "USD", rateDate)
	require.NoError(t, err)
	assert.Equal(t, 1, live.calls)

	failing := NewProvider(&memoryStore{rates: map[string]float64{}}, nil, &countingFetcher{err: errors.New("down")},
		source(eclconfig.FXSourceAPI), 0, logger.Nop())
	_, err = failing.Rate(context.Background(), "GBP", "USD", rateDate)
	assert.ErrorIs(t, err, contracts.ErrReferenceMissing)
}
