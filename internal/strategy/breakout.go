package strategy

import (
	"context"
	"fmt"

	"mt5-trade-bot-go/internal/terminal"
)

// breakoutDecision signals when the live quote escapes the range of the
// previous completed bar. The reference range refreshes through the cache,
// so even at a 5s pace only one rate fetch goes out per cache window. Each
// reference bar is signaled at most once; the closure remembers which bar
// already fired.
func breakoutDecision() DecideFunc {
	var signaledBar int64

	return func(ctx context.Context, env *Env) ([]Intent, error) {
		cfg := env.Config
		symbol := cfg.Symbols[0]
		timeframe := cfg.Timeframe
		if timeframe == "" {
			timeframe = terminal.TimeframeH1
		}

		tick, err := env.Terminal.SymbolTick(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("tick %s: %w", symbol, err)
		}

		rates, err := env.Cache.Rates(ctx, env.Terminal, symbol, timeframe, 2)
		if err != nil {
			return nil, err
		}
		if len(rates) < 2 {
			return nil, fmt.Errorf("not enough bars for %s: got %d", symbol, len(rates))
		}

		// Bars are chronological; the one before last is the latest
		// completed bar.
		prev := rates[len(rates)-2]
		if prev.Time == signaledBar {
			return nil, nil
		}

		if tick.Ask > prev.High {
			signaledBar = prev.Time
			return []Intent{{
				Symbol: symbol,
				Side:   SideBuy,
				Price:  tick.Ask,
				Reason: fmt.Sprintf("ask %.5f above previous %s high %.5f", tick.Ask, timeframe, prev.High),
			}}, nil
		}
		if tick.Bid < prev.Low {
			signaledBar = prev.Time
			return []Intent{{
				Symbol: symbol,
				Side:   SideSell,
				Price:  tick.Bid,
				Reason: fmt.Sprintf("bid %.5f below previous %s low %.5f", tick.Bid, timeframe, prev.Low),
			}}, nil
		}
		return nil, nil
	}
}
