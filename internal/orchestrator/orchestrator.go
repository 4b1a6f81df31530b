package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/database"
	"mt5-trade-bot-go/internal/strategy"
	"mt5-trade-bot-go/internal/terminal"
)

// ErrUnknownStrategy is returned for operations on ids that name neither a
// live runtime nor a stored config nor a built-in strategy family.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Status is one strategy's snapshot for the control surfaces.
type Status struct {
	ID            string
	Kind          strategy.Kind
	State         strategy.State
	LastExecution time.Time
	Executions    int64
}

// Orchestrator owns every strategy runtime in the process. Each runtime
// runs its own loop; the orchestrator only launches, patches, and stops
// them, so one strategy's failure never reaches another.
type Orchestrator struct {
	logger        *zap.Logger
	runtimeLogger *zap.Logger
	terminal      terminal.Client
	gate          strategy.HealthGate
	store         *database.Store

	mu       sync.RWMutex
	runtimes map[string]*strategy.Runtime
}

// NewOrchestrator wires the shared terminal client, health gate, and config
// store into an orchestrator with an empty registry.
func NewOrchestrator(term terminal.Client, gate strategy.HealthGate, store *database.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		logger:        logger.Named("orchestrator"),
		runtimeLogger: logger,
		terminal:      term,
		gate:          gate,
		store:         store,
		runtimes:      make(map[string]*strategy.Runtime),
	}
}

// Start launches a runtime for cfg and persists it as enabled. Starting an
// id whose runtime is already running is a no-op.
func (o *Orchestrator) Start(ctx context.Context, cfg strategy.Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rt, ok := o.runtimes[cfg.ID]; ok && rt.State() == strategy.StateRunning {
		o.logger.Debug("Strategy already running", zap.String("strategy", cfg.ID))
		return nil
	}

	rt, err := strategy.NewRuntime(cfg, o.terminal, o.gate, o.runtimeLogger)
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}
	o.runtimes[cfg.ID] = rt

	if err := o.store.Save(cfg, true); err != nil {
		o.logger.Error("Failed to persist strategy config",
			zap.String("strategy", cfg.ID), zap.Error(err))
	}
	o.logger.Info("Strategy launched",
		zap.String("strategy", cfg.ID),
		zap.String("kind", string(cfg.Kind)))
	return nil
}

// StartID starts the strategy with the given id, preferring its stored
// config and falling back to the family defaults when the id names a
// built-in strategy kind.
func (o *Orchestrator) StartID(ctx context.Context, id string) error {
	cfg, found, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if !found {
		kind := strategy.Kind(id)
		if !kind.Valid() {
			return fmt.Errorf("%w: '%s'", ErrUnknownStrategy, id)
		}
		if cfg, err = strategy.DefaultConfig(kind); err != nil {
			return err
		}
	}
	return o.Start(ctx, cfg)
}

// Stop flips the runtime into its stopping state, forgets it, and persists
// the strategy as disabled. It does not wait for the loop to drain.
func (o *Orchestrator) Stop(id string) error {
	o.mu.Lock()
	rt, ok := o.runtimes[id]
	if ok {
		delete(o.runtimes, id)
	}
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: '%s'", ErrUnknownStrategy, id)
	}
	rt.Stop()

	if err := o.store.SetEnabled(id, false); err != nil {
		o.logger.Error("Failed to persist strategy state",
			zap.String("strategy", id), zap.Error(err))
	}
	o.logger.Info("Strategy stopping", zap.String("strategy", id))
	return nil
}

// UpdateConfig merges the patch into a running strategy's config. The loop
// picks the merged config up on its next iteration without restarting, and
// the result is persisted.
func (o *Orchestrator) UpdateConfig(id string, patch strategy.Patch) (strategy.Config, error) {
	o.mu.RLock()
	rt, ok := o.runtimes[id]
	o.mu.RUnlock()

	if !ok {
		return strategy.Config{}, fmt.Errorf("%w: '%s'", ErrUnknownStrategy, id)
	}

	merged, err := rt.ApplyPatch(patch)
	if err != nil {
		return strategy.Config{}, err
	}

	if err := o.store.Save(merged, true); err != nil {
		o.logger.Error("Failed to persist strategy config",
			zap.String("strategy", id), zap.Error(err))
	}
	o.logger.Info("Strategy config updated", zap.String("strategy", id))
	return merged, nil
}

// Config returns the live config of a registered strategy.
func (o *Orchestrator) Config(id string) (strategy.Config, error) {
	o.mu.RLock()
	rt, ok := o.runtimes[id]
	o.mu.RUnlock()

	if !ok {
		return strategy.Config{}, fmt.Errorf("%w: '%s'", ErrUnknownStrategy, id)
	}
	return rt.Config(), nil
}

// Running reports whether id has a live runtime.
func (o *Orchestrator) Running(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	rt, ok := o.runtimes[id]
	return ok && rt.State() == strategy.StateRunning
}

// Statuses reports every registered strategy, sorted by id.
func (o *Orchestrator) Statuses() []Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	statuses := make([]Status, 0, len(o.runtimes))
	for _, rt := range o.runtimes {
		statuses = append(statuses, Status{
			ID:            rt.ID(),
			Kind:          rt.Kind(),
			State:         rt.State(),
			LastExecution: rt.LastExecution(),
			Executions:    rt.Executions(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Restore launches every strategy the store marks enabled. Failures are
// logged per strategy so one bad config cannot block the rest.
func (o *Orchestrator) Restore(ctx context.Context) error {
	stored, err := o.store.Load()
	if err != nil {
		return err
	}

	for _, s := range stored {
		if !s.Enabled {
			continue
		}
		if err := o.Start(ctx, s.Config); err != nil {
			o.logger.Error("Failed to restore strategy",
				zap.String("strategy", s.Config.ID), zap.Error(err))
		}
	}
	return nil
}

// StopAll stops every runtime and waits for their loops to drain, bounded
// by ctx. Autostart flags are left untouched so enabled strategies come
// back on the next boot.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.Lock()
	rts := make([]*strategy.Runtime, 0, len(o.runtimes))
	for id, rt := range o.runtimes {
		rts = append(rts, rt)
		delete(o.runtimes, id)
	}
	o.mu.Unlock()

	for _, rt := range rts {
		rt.Stop()
	}
	for _, rt := range rts {
		select {
		case <-rt.Done():
		case <-ctx.Done():
			o.logger.Warn("Timed out waiting for strategy to stop",
				zap.String("strategy", rt.ID()))
		}
	}
}
