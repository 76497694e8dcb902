package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache is a read-through cache for authoritative unit prices. Keys are
// "<kind>:<id>". Lookups that miss or fail fall back to the store.
type PriceCache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, key string, price decimal.Decimal, ttl time.Duration) error
}

type NoopPriceCache struct{}

func (NoopPriceCache) Get(_ context.Context, _ string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopPriceCache) Set(_ context.Context, _ string, _ decimal.Decimal, _ time.Duration) error {
	return nil
}
