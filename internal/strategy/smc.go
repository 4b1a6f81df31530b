package strategy

import (
	"context"
	"fmt"

	"mt5-trade-bot-go/internal/terminal"
)

// smcDecision reads market structure over the lookback window and signals
// when price breaks the most recent swing point: a close above the last swing
// high is treated as a bullish structure shift, a close below the last swing
// low as bearish. Bars come through the runtime's cache, so repeated
// evaluations inside one cache window cost no terminal calls.
func smcDecision() DecideFunc {
	return func(ctx context.Context, env *Env) ([]Intent, error) {
		cfg := env.Config
		symbol := cfg.Symbols[0]
		timeframe := cfg.Timeframe
		if timeframe == "" {
			timeframe = terminal.TimeframeM15
		}
		lookback := cfg.LookbackBars
		if lookback <= 0 {
			lookback = 100
		}

		rates, err := env.Cache.Rates(ctx, env.Terminal, symbol, timeframe, lookback)
		if err != nil {
			return nil, err
		}
		if len(rates) < 4 {
			return nil, fmt.Errorf("not enough bars for %s: got %d", symbol, len(rates))
		}

		// The final bar is still forming; its close is the live price. The
		// completed bars before it carry the structure.
		last := rates[len(rates)-1]
		structure := rates[:len(rates)-1]
		swingHigh, swingLow := swingPoints(structure)

		if swingHigh > 0 && last.Close > swingHigh {
			return []Intent{{
				Symbol: symbol,
				Side:   SideBuy,
				Price:  last.Close,
				Reason: fmt.Sprintf("close %.5f broke swing high %.5f", last.Close, swingHigh),
			}}, nil
		}
		if swingLow > 0 && last.Close < swingLow {
			return []Intent{{
				Symbol: symbol,
				Side:   SideSell,
				Price:  last.Close,
				Reason: fmt.Sprintf("close %.5f broke swing low %.5f", last.Close, swingLow),
			}}, nil
		}
		return nil, nil
	}
}

// swingPoints finds the most recent swing high and swing low in a
// chronological bar window. A swing point is a bar whose extreme stands
// beyond both of its neighbors.
func swingPoints(rates []terminal.Rate) (high, low float64) {
	for i := len(rates) - 2; i >= 1; i-- {
		r := rates[i]
		if high == 0 && r.High > rates[i-1].High && r.High > rates[i+1].High {
			high = r.High
		}
		if low == 0 && r.Low < rates[i-1].Low && r.Low < rates[i+1].Low {
			low = r.Low
		}
		if high != 0 && low != 0 {
			break
		}
	}
	return high, low
}
