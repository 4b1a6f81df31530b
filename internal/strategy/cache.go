package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mt5-trade-bot-go/internal/terminal"
)

// MarketDataCache holds the most recent bar fetch for a single strategy
// runtime. The owning runtime is the only caller, so no locking happens here.
// Refreshes are bounded to one terminal call per expiry window no matter how
// often data is requested.
type MarketDataCache struct {
	expiry time.Duration
	now    func() time.Time

	key       string
	rates     []terminal.Rate
	lastFetch time.Time
	haveData  bool
}

// NewMarketDataCache creates a cache with the given expiry window.
func NewMarketDataCache(expiry time.Duration) *MarketDataCache {
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &MarketDataCache{
		expiry: expiry,
		now:    time.Now,
	}
}

// Rates returns bars for the request, hitting the terminal at most once per
// expiry window. While a refresh fails the previous snapshot keeps serving.
// A changed symbol, timeframe or count invalidates the snapshot immediately.
func (c *MarketDataCache) Rates(ctx context.Context, client terminal.Client, symbol string, timeframe terminal.Timeframe, count int) ([]terminal.Rate, error) {
	key := fmt.Sprintf("%s/%s/%d", symbol, timeframe, count)
	if key != c.key {
		c.key = key
		c.rates = nil
		c.haveData = false
		c.lastFetch = time.Time{}
	}

	now := c.now()
	if c.lastFetch.IsZero() || now.Sub(c.lastFetch) >= c.expiry {
		c.lastFetch = now
		rates, err := client.CopyRatesFromPos(ctx, symbol, timeframe, 0, count)
		if err == nil {
			c.rates = rates
			c.haveData = true
		} else if !c.haveData {
			return nil, fmt.Errorf("market data unavailable for %s: %w", symbol, err)
		}
	}

	if !c.haveData {
		// A fetch already failed this window; the next one is due when the
		// window rolls over.
		return nil, errors.New("market data not yet available")
	}
	return c.rates, nil
}
