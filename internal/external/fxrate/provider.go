package fxrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
	"github.com/wonny/ifrs9-ecl/pkg/redis"
)

// Store is the cached rate table
type Store interface {
	StoredRate(ctx context.Context, from, to string, date time.Time) (float64, bool, error)
	SaveRate(ctx context.Context, from, to string, date time.Time, rate float64) error
}

var _ Store = (*Repository)(nil)

// Cache is the optional shared cache in front of the table
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

var _ Cache = (*redis.Cache)(nil)

// Fetcher is the live source
type Fetcher interface {
	Fetch(ctx context.Context, from, to string, date time.Time) (float64, error)
}

var _ Fetcher = (*Client)(nil)

// Provider resolves rates: cache → table → live fetch (API source only)
// ⭐ SSOT: contracts.CurrencyRates 구현
type Provider struct {
	store  Store
	cache  Cache
	live   Fetcher
	config eclconfig.Source
	ttl    time.Duration
	logger *logger.Logger
}

// NewProvider creates a new Provider. cache and live may be nil.
func NewProvider(store Store, cache Cache, live Fetcher, config eclconfig.Source, ttl time.Duration, log *logger.Logger) *Provider {
	if ttl <= 0 {
		ttl = redis.TTLDaily
	}
	return &Provider{
		store:  store,
		cache:  cache,
		live:   live,
		config: config,
		ttl:    ttl,
		logger: log.WithField("module", "fxrate"),
	}
}

var _ contracts.CurrencyRates = (*Provider)(nil)

// Rate returns the from→to rate on date
func (p *Provider) Rate(ctx context.Context, from, to string, date time.Time) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return 1, nil
	}

	key := redis.FXRateKey(from, to, contracts.DateKey(date))
	if p.cache != nil {
		var cached float64
		found, err := p.cache.Get(ctx, key, &cached)
		if err != nil {
			p.logger.WithError(err).Warn("fx cache read failed")
		}
		if found {
			return cached, nil
		}
	}

	rate, ok, err := p.store.StoredRate(ctx, from, to, date)
	if err != nil {
		return 0, err
	}
	if !ok {
		rate, err = p.fetch(ctx, from, to, date)
		if err != nil {
			return 0, err
		}
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, rate, p.ttl); err != nil {
			p.logger.WithError(err).Warn("fx cache write failed")
		}
	}
	return rate, nil
}

func (p *Provider) fetch(ctx context.Context, from, to string, date time.Time) (float64, error) {
	cfg, err := p.config.Load(ctx)
	if err != nil {
		return 0, err
	}
	if cfg.Currency.FXSource != eclconfig.FXSourceAPI || p.live == nil {
		return 0, fmt.Errorf("%w: no stored rate %s/%s on %s (source %s)",
			contracts.ErrReferenceMissing, from, to, contracts.DateKey(date), cfg.Currency.FXSource)
	}

	rate, err := p.live.Fetch(ctx, from, to, date)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", contracts.ErrReferenceMissing, err)
	}
	if err := p.store.SaveRate(ctx, from, to, date, rate); err != nil {
		p.logger.WithError(err).Warn("fetched rate not stored")
	}
	return rate, nil
}
