package strategy

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/terminal"
)

// arbitrageDecision watches a currency triplet for cross-rate dislocation.
// With symbols ordered base/quote/cross (EURUSD, USDJPY, EURJPY) the product
// of the first two legs implies a fair price for the third; when the quoted
// cross drifts beyond the min_deviation parameter, the rich or cheap legs get
// signaled.
func arbitrageDecision() DecideFunc {
	return func(ctx context.Context, env *Env) ([]Intent, error) {
		cfg := env.Config
		if len(cfg.Symbols) != 3 {
			return nil, fmt.Errorf("arbitrage needs exactly 3 symbols, got %d", len(cfg.Symbols))
		}

		ticks := make([]*terminal.Tick, len(cfg.Symbols))
		for i, symbol := range cfg.Symbols {
			tick, err := env.Terminal.SymbolTick(ctx, symbol)
			if err != nil {
				return nil, fmt.Errorf("tick %s: %w", symbol, err)
			}
			ticks[i] = tick
		}

		base := mid(ticks[0])
		quote := mid(ticks[1])
		cross := mid(ticks[2])
		if base <= 0 || quote <= 0 || cross <= 0 {
			return nil, fmt.Errorf("non-positive quote in triplet %v", cfg.Symbols)
		}

		implied := base * quote
		deviation := (cross - implied) / implied
		threshold := cfg.Param("min_deviation", 0.0005)

		env.Logger.Debug("Cross rate evaluated",
			zap.Float64("implied", implied),
			zap.Float64("quoted", cross),
			zap.Float64("deviation", deviation),
		)

		if math.Abs(deviation) < threshold {
			return nil, nil
		}

		crossSymbol := cfg.Symbols[2]
		if deviation > 0 {
			// The quoted cross is rich: sell it, buy the base leg.
			return []Intent{
				{
					Symbol: crossSymbol,
					Side:   SideSell,
					Price:  ticks[2].Bid,
					Reason: fmt.Sprintf("cross %.5f rich vs implied %.5f", cross, implied),
				},
				{
					Symbol: cfg.Symbols[0],
					Side:   SideBuy,
					Price:  ticks[0].Ask,
					Reason: "arbitrage hedge leg",
				},
			}, nil
		}
		return []Intent{
			{
				Symbol: crossSymbol,
				Side:   SideBuy,
				Price:  ticks[2].Ask,
				Reason: fmt.Sprintf("cross %.5f cheap vs implied %.5f", cross, implied),
			},
			{
				Symbol: cfg.Symbols[0],
				Side:   SideSell,
				Price:  ticks[0].Bid,
				Reason: "arbitrage hedge leg",
			},
		}, nil
	}
}

// mid is the quote midpoint.
func mid(t *terminal.Tick) float64 {
	return (t.Bid + t.Ask) / 2
}
