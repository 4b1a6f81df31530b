package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mt5-trade-bot-go/internal/terminal"
)

func TestKindValid(t *testing.T) {
	testCases := []struct {
		kind  Kind
		valid bool
	}{
		{KindArbitrage, true},
		{KindSMC, true},
		{KindBreakout, true},
		{Kind("martingale"), false},
		{Kind(""), false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.kind.Valid())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Run("Arbitrage", func(t *testing.T) {
		cfg, err := DefaultConfig(KindArbitrage)
		assert.NoError(t, err)
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, []string{"EURUSD", "USDJPY", "EURJPY"}, cfg.Symbols)
		assert.Equal(t, 10*time.Second, cfg.Cooldown)
	})

	t.Run("SMC", func(t *testing.T) {
		cfg, err := DefaultConfig(KindSMC)
		assert.NoError(t, err)
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, terminal.TimeframeM15, cfg.Timeframe)
		assert.Equal(t, 100, cfg.LookbackBars)
		assert.Equal(t, time.Minute, cfg.CheckInterval)
	})

	t.Run("Breakout", func(t *testing.T) {
		cfg, err := DefaultConfig(KindBreakout)
		assert.NoError(t, err)
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, terminal.TimeframeH1, cfg.Timeframe)
		assert.Equal(t, 5*time.Second, cfg.CheckInterval)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := DefaultConfig(Kind("grid"))
		assert.ErrorIs(t, err, ErrUnknownKind)
	})
}

func TestDecisionForClosedSet(t *testing.T) {
	for _, kind := range Kinds() {
		decide, err := DecisionFor(kind)
		assert.NoError(t, err)
		assert.NotNil(t, decide)
	}

	_, err := DecisionFor(Kind("scalper"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestConfigPace(t *testing.T) {
	testCases := []struct {
		name     string
		cooldown time.Duration
		interval time.Duration
		expected time.Duration
	}{
		{"CooldownWins", 10 * time.Second, time.Minute, 10 * time.Second},
		{"IntervalFallback", 0, time.Minute, time.Minute},
		{"Unpaced", 0, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Config{Cooldown: tc.cooldown, CheckInterval: tc.interval}
			assert.Equal(t, tc.expected, c.Pace())
		})
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"Valid", Config{ID: "smc", Kind: KindSMC, Symbols: []string{"EURUSD"}, Timeframe: terminal.TimeframeM15}, false},
		{"EmptyID", Config{Kind: KindSMC, Symbols: []string{"EURUSD"}}, true},
		{"NoSymbols", Config{ID: "smc", Kind: KindSMC}, true},
		{"BadKind", Config{ID: "x", Kind: "grid", Symbols: []string{"EURUSD"}}, true},
		{"ArbitrageTripletRequired", Config{ID: "arb", Kind: KindArbitrage, Symbols: []string{"EURUSD"}}, true},
		{"BadTimeframe", Config{ID: "smc", Kind: KindSMC, Symbols: []string{"EURUSD"}, Timeframe: "M7"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigCloneIsIndependent(t *testing.T) {
	orig := Config{
		ID:      "arb",
		Kind:    KindArbitrage,
		Symbols: []string{"EURUSD", "USDJPY", "EURJPY"},
		Params:  map[string]float64{"min_deviation": 0.0005},
	}

	clone := orig.Clone()
	clone.Symbols[0] = "GBPUSD"
	clone.Params["min_deviation"] = 9

	assert.Equal(t, "EURUSD", orig.Symbols[0])
	assert.Equal(t, 0.0005, orig.Params["min_deviation"])
}

func TestConfigParam(t *testing.T) {
	c := Config{Params: map[string]float64{"min_deviation": 0.001}}
	assert.Equal(t, 0.001, c.Param("min_deviation", 0.0005))
	assert.Equal(t, 0.0005, c.Param("missing", 0.0005))

	var empty Config
	assert.Equal(t, 1.0, empty.Param("anything", 1.0))
}
