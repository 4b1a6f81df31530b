package terminal

import (
	"context"
	"fmt"
)

// Timeframe identifies a chart period understood by the terminal bridge.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

var timeframes = map[Timeframe]struct{}{
	TimeframeM1:  {},
	TimeframeM5:  {},
	TimeframeM15: {},
	TimeframeM30: {},
	TimeframeH1:  {},
	TimeframeH4:  {},
	TimeframeD1:  {},
}

// Valid reports whether the timeframe is one the bridge accepts.
func (t Timeframe) Valid() bool {
	_, ok := timeframes[t]
	return ok
}

// ParseTimeframe converts a string such as "M15" into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	t := Timeframe(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return t, nil
}

// Tick is the latest quote for a symbol.
type Tick struct {
	Time int64   `json:"time"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}

// Rate is a single OHLC bar. Time is the bar open time in unix seconds.
type Rate struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tick_volume"`
}

// AccountInfo is the state of the trading account.
type AccountInfo struct {
	Login      int64   `json:"login"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	MarginFree float64 `json:"margin_free"`
	Currency   string  `json:"currency"`
}

// Client defines the operations the rest of the application needs from the
// MT5 terminal bridge. Initialize, Login and Shutdown manage the terminal
// session; the remaining calls read market and account data.
// CopyRatesFromPos counts bars back from position start, where position 0 is
// the current still-forming bar, and returns them oldest first.
type Client interface {
	Initialize(ctx context.Context) error
	Login(ctx context.Context, account int64, password, server string) error
	Shutdown(ctx context.Context) error
	AccountInfo(ctx context.Context) (*AccountInfo, error)
	SymbolTick(ctx context.Context, symbol string) (*Tick, error)
	CopyRatesFromPos(ctx context.Context, symbol string, timeframe Timeframe, start, count int) ([]Rate, error)
}
