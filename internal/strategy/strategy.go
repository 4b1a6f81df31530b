package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/terminal"
)

// Kind identifies one of the built-in strategy families. The set is closed:
// configs naming anything else are rejected up front instead of falling back
// to a default behavior.
type Kind string

const (
	KindArbitrage Kind = "arbitrage"
	KindSMC       Kind = "smc"
	KindBreakout  Kind = "breakout"
)

// ErrUnknownKind is returned when a config names a strategy family that does
// not exist.
var ErrUnknownKind = errors.New("unknown strategy kind")

// Kinds lists every known strategy family.
func Kinds() []Kind {
	return []Kind{KindArbitrage, KindSMC, KindBreakout}
}

// Valid reports whether k names a known strategy family.
func (k Kind) Valid() bool {
	switch k {
	case KindArbitrage, KindSMC, KindBreakout:
		return true
	}
	return false
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Intent is a trade signal produced by decision logic. Intents are logged
// and counted; nothing in this program executes them.
type Intent struct {
	Symbol string
	Side   string
	Price  float64
	Reason string
}

// Config is the runtime configuration of one strategy instance. The runtime
// re-reads it every iteration, so updates apply from the next cycle without a
// restart.
type Config struct {
	ID            string
	Kind          Kind
	Symbols       []string
	Timeframe     terminal.Timeframe
	Cooldown      time.Duration
	CheckInterval time.Duration
	LookbackBars  int
	Params        map[string]float64
}

// Pace is the minimum spacing between decision invocations: the cooldown
// when set, otherwise the fixed check interval.
func (c Config) Pace() time.Duration {
	if c.Cooldown > 0 {
		return c.Cooldown
	}
	return c.CheckInterval
}

// Param returns a named tuning parameter, or def when unset.
func (c Config) Param(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

// Clone returns a deep copy, so holders of a snapshot never observe later
// mutations.
func (c Config) Clone() Config {
	out := c
	out.Symbols = append([]string(nil), c.Symbols...)
	if c.Params != nil {
		out.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Validate checks that the config describes a startable strategy.
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.New("strategy id is empty")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("strategy %s has no symbols", c.ID)
	}
	if c.Kind == KindArbitrage && len(c.Symbols) != 3 {
		return fmt.Errorf("strategy %s: arbitrage needs a symbol triplet, got %d symbols", c.ID, len(c.Symbols))
	}
	if c.Timeframe != "" && !c.Timeframe.Valid() {
		return fmt.Errorf("strategy %s: unknown timeframe %q", c.ID, c.Timeframe)
	}
	return nil
}

// DefaultConfig returns the stock configuration for a strategy family.
func DefaultConfig(kind Kind) (Config, error) {
	switch kind {
	case KindArbitrage:
		return Config{
			ID:       string(kind),
			Kind:     kind,
			Symbols:  []string{"EURUSD", "USDJPY", "EURJPY"},
			Cooldown: 10 * time.Second,
			Params:   map[string]float64{"min_deviation": 0.0005},
		}, nil
	case KindSMC:
		return Config{
			ID:            string(kind),
			Kind:          kind,
			Symbols:       []string{"EURUSD"},
			Timeframe:     terminal.TimeframeM15,
			LookbackBars:  100,
			CheckInterval: time.Minute,
		}, nil
	case KindBreakout:
		return Config{
			ID:            string(kind),
			Kind:          kind,
			Symbols:       []string{"EURUSD"},
			Timeframe:     terminal.TimeframeH1,
			CheckInterval: 5 * time.Second,
		}, nil
	}
	return Config{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Env is what a decision function gets to work with for one evaluation.
type Env struct {
	Config   Config
	Terminal terminal.Client
	Cache    *MarketDataCache
	Logger   *zap.Logger
}

// DecideFunc evaluates market conditions once and returns the trade intents
// the strategy would act on. Returned errors and panics are contained by the
// runtime loop.
type DecideFunc func(ctx context.Context, env *Env) ([]Intent, error)

// DecisionFor returns a fresh decision function for the kind. Every call
// produces an independent instance; kinds that carry state between cycles
// keep it inside the returned closure.
func DecisionFor(kind Kind) (DecideFunc, error) {
	switch kind {
	case KindArbitrage:
		return arbitrageDecision(), nil
	case KindSMC:
		return smcDecision(), nil
	case KindBreakout:
		return breakoutDecision(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}
