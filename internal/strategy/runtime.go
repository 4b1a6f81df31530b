package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/health"
	"mt5-trade-bot-go/internal/terminal"
)

// State is the lifecycle of a strategy runtime.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// HealthGate is the slice of the health gate a runtime consults before every
// decision.
type HealthGate interface {
	Check(ctx context.Context) (bool, health.Reason)
}

const (
	defaultQuantum     = 100 * time.Millisecond
	defaultBackoff     = 5 * time.Second
	defaultCacheExpiry = 30 * time.Second
)

// Runtime drives one strategy in a single goroutine: cooldown check, health
// gate, then the kind's decision function, over and over until stopped.
// Faults inside an iteration never kill the loop; only Stop or the parent
// context ends it.
type Runtime struct {
	logger   *zap.Logger
	terminal terminal.Client
	gate     HealthGate
	decide   DecideFunc
	cache    *MarketDataCache

	cfgMu sync.RWMutex
	cfg   Config

	state atomic.Int32

	lastMu        sync.Mutex
	lastExecution time.Time
	executions    int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	quantum time.Duration // cooldown poll spacing
	backoff time.Duration // pause after faults and health refusals
	now     func() time.Time
}

// NewRuntime builds a runtime for cfg. The decision function comes from the
// kind dispatch and the market data cache belongs to this runtime alone.
func NewRuntime(cfg Config, term terminal.Client, gate HealthGate, logger *zap.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	decide, err := DecisionFor(cfg.Kind)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		logger: logger.Named("strategy").With(
			zap.String("strategy", cfg.ID),
			zap.String("kind", string(cfg.Kind)),
		),
		terminal: term,
		gate:     gate,
		decide:   decide,
		cache:    NewMarketDataCache(defaultCacheExpiry),
		cfg:      cfg.Clone(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		quantum:  defaultQuantum,
		backoff:  defaultBackoff,
		now:      time.Now,
	}, nil
}

// Start launches the loop goroutine. A runtime runs at most once; restarting
// a strategy means building a new runtime.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("strategy %s is not idle", r.ID())
	}
	r.logger.Info("Strategy started")
	go r.run(ctx)
	return nil
}

// Stop asks the loop to exit and returns without waiting. Callers that need
// the loop gone synchronously wait on Done afterwards.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(r.stop)
		r.logger.Info("Strategy stop requested")
	})
}

// Done is closed once the loop goroutine has fully exited.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// ID returns the strategy identifier. It never changes after construction.
func (r *Runtime) ID() string {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg.ID
}

// Kind returns the strategy family. It never changes after construction.
func (r *Runtime) Kind() Kind {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg.Kind
}

// Config returns a copy of the current configuration.
func (r *Runtime) Config() Config {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg.Clone()
}

// LastExecution is when decision logic last completed successfully.
func (r *Runtime) LastExecution() time.Time {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	return r.lastExecution
}

// Executions counts completed decision cycles.
func (r *Runtime) Executions() int64 {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	return r.executions
}

func (r *Runtime) markExecuted(at time.Time) {
	r.lastMu.Lock()
	r.lastExecution = at
	r.executions++
	r.lastMu.Unlock()
}

// Patch is a partial configuration update. Nil fields keep their current
// values; Params entries are merged key-wise. ID and Kind are not patchable.
type Patch struct {
	Symbols       []string
	Timeframe     *terminal.Timeframe
	Cooldown      *time.Duration
	CheckInterval *time.Duration
	LookbackBars  *int
	Params        map[string]float64
}

// ApplyPatch merges the patch into the live config and returns the result.
// The merged config must still validate, otherwise nothing changes. The loop
// picks new values up at its next iteration.
func (r *Runtime) ApplyPatch(p Patch) (Config, error) {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()

	merged := r.cfg.Clone()
	if p.Symbols != nil {
		merged.Symbols = append([]string(nil), p.Symbols...)
	}
	if p.Timeframe != nil {
		merged.Timeframe = *p.Timeframe
	}
	if p.Cooldown != nil {
		merged.Cooldown = *p.Cooldown
	}
	if p.CheckInterval != nil {
		merged.CheckInterval = *p.CheckInterval
	}
	if len(p.Params) > 0 {
		if merged.Params == nil {
			merged.Params = make(map[string]float64, len(p.Params))
		}
		for k, v := range p.Params {
			merged.Params[k] = v
		}
	}
	if p.LookbackBars != nil {
		merged.LookbackBars = *p.LookbackBars
	}

	if err := merged.Validate(); err != nil {
		return Config{}, err
	}
	r.cfg = merged
	r.logger.Info("Strategy config updated")
	return merged.Clone(), nil
}

func (r *Runtime) run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		r.state.Store(int32(StateIdle))
		r.logger.Info("Strategy stopped")
	}()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		r.iterate(ctx)
	}
}

// iterate runs one pass of the strategy loop. Every fault is contained here
// so the loop outlives any misbehaving decision logic.
func (r *Runtime) iterate(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Decision cycle panicked",
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			r.pause(ctx, r.backoff)
		}
	}()

	cfg := r.Config()

	// Cooldown first: while inside it, nothing else runs, not even the
	// health gate.
	if pace := cfg.Pace(); pace > 0 {
		if r.now().Sub(r.LastExecution()) < pace {
			r.pause(ctx, r.quantum)
			return
		}
	}

	if ok, reason := r.gate.Check(ctx); !ok {
		r.logger.Debug("Execution gated", zap.String("reason", string(reason)))
		r.pause(ctx, r.backoff)
		return
	}

	env := &Env{
		Config:   cfg,
		Terminal: r.terminal,
		Cache:    r.cache,
		Logger:   r.logger,
	}
	intents, err := r.decide(ctx, env)
	if err != nil {
		r.logger.Error("Decision cycle failed", zap.Error(err))
		r.pause(ctx, r.backoff)
		return
	}

	for _, intent := range intents {
		r.logger.Info("Trade intent",
			zap.String("symbol", intent.Symbol),
			zap.String("side", intent.Side),
			zap.Float64("price", intent.Price),
			zap.String("reason", intent.Reason),
		)
	}
	r.markExecuted(r.now())
}

// pause sleeps up to d, waking early when the runtime is stopped or the
// parent context ends.
func (r *Runtime) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.stop:
	case <-ctx.Done():
	}
}
