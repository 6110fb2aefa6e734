// Package automation governs how much the agent may do without a human.
//
// The Controller holds the automation level (manual, semi-auto, full-auto)
// and the per-action bounds, decides whether a proposed action is allowed at
// all, and whether it may be auto-approved or must wait for a human. It also
// carries the emergency stop switch that freezes the whole pipeline.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// Level is the automation level.
type Level string

const (
	LevelManual   Level = "manual"
	LevelSemiAuto Level = "semi-auto"
	LevelFullAuto Level = "full-auto"
)

// ValidLevel reports whether l is a known automation level.
func ValidLevel(l Level) bool {
	switch l {
	case LevelManual, LevelSemiAuto, LevelFullAuto:
		return true
	}
	return false
}

// Config bounds what the agent may do on its own.
type Config struct {
	Level                Level    `json:"level"`
	MaxAmountPerAction   float64  `json:"maxAmountPerAction"`
	RequireApprovalAbove float64  `json:"requireApprovalAbove"`
	AllowedActions       []string `json:"allowedActions"`
	EnabledChains        []int64  `json:"enabledChains"`
}

// DefaultConfig returns the config applied on startup: manual, nothing
// auto-approved.
func DefaultConfig() Config {
	return Config{
		Level:                LevelManual,
		MaxAmountPerAction:   1000,
		RequireApprovalAbove: 500,
		AllowedActions:       []string{"bridge", "rebalance", "yield"},
		EnabledChains:        []int64{1, 10, 137, 42161, 43114, 8453},
	}
}

// Action is the subset of a proposed action the controller inspects.
type Action struct {
	Type    string  `json:"type"`
	Amount  float64 `json:"amount"`
	ChainID int64   `json:"chainId"`
}

// Metrics tracks the agent's execution history.
type Metrics struct {
	TotalActions      int        `json:"totalActions"`
	SuccessfulActions int        `json:"successfulActions"`
	FailedActions     int        `json:"failedActions"`
	TotalValue        float64    `json:"totalValue"`
	AvgExecutionTime  float64    `json:"avgExecutionTimeSeconds"` // seconds
	LastActionTime    *time.Time `json:"lastActionTime,omitempty"`
}

// EmergencyState is the stop switch's current position.
type EmergencyState struct {
	Stopped     bool       `json:"stopped"`
	Reason      string     `json:"reason"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	TriggeredBy string     `json:"triggeredBy,omitempty"` // "user" or "system"
}

// StateObserver is notified synchronously on every emergency state change.
// Observers must tolerate being called from any pipeline stage.
type StateObserver func(EmergencyState)

// Controller holds automation config, execution metrics, and the emergency
// stop switch.
type Controller struct {
	mu         sync.RWMutex
	config     Config
	metrics    Metrics
	emergency  EmergencyState
	observers  map[int]StateObserver
	observerID int
	store      StateStore
	now        func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithConfig overrides the startup config.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.config = cfg }
}

// WithStore persists config, metrics, and the stop switch through store.
// Call LoadState after construction to restore the previous state.
func WithStore(store StateStore) Option {
	return func(c *Controller) { c.store = store }
}

// NewController creates a controller with the default manual config.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		config:    DefaultConfig(),
		observers: make(map[int]StateObserver),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadState restores persisted config, metrics, and emergency state from the
// configured store. Missing records keep the in-memory defaults; a corrupt
// record is an error.
func (c *Controller) LoadState(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var cfg Config
	if ok, err := c.loadInto(ctx, stateKeyConfig, &cfg); err != nil {
		return err
	} else if ok {
		if !ValidLevel(cfg.Level) {
			return fmt.Errorf("automation: persisted config has invalid level %q", cfg.Level)
		}
		c.config = cfg
	}

	var m Metrics
	if ok, err := c.loadInto(ctx, stateKeyMetrics, &m); err != nil {
		return err
	} else if ok {
		c.metrics = m
	}

	var es EmergencyState
	if ok, err := c.loadInto(ctx, stateKeyEmergency, &es); err != nil {
		return err
	} else if ok {
		c.emergency = es
		if es.Stopped {
			metrics.EmergencyStopped.Set(1)
			logging.L(ctx).Warn("restored engaged emergency stop", slog.String("reason", es.Reason))
		}
	}
	return nil
}

func (c *Controller) loadInto(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.store.Load(ctx, key)
	if errors.Is(err, ErrStateNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("automation: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// persist writes one state record. Persistence failures are logged and never
// fail the mutation that triggered them.
func (c *Controller) persist(ctx context.Context, key string, v any) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logging.L(ctx).Warn("automation state not marshaled", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := c.store.Save(ctx, key, data); err != nil {
		logging.L(ctx).Warn("automation state not persisted", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// GetConfig returns a copy of the current config.
func (c *Controller) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneConfig(c.config)
}

// ConfigUpdate is a partial config update. Nil fields keep existing values.
type ConfigUpdate struct {
	Level                *Level   `json:"level,omitempty"`
	MaxAmountPerAction   *float64 `json:"maxAmountPerAction,omitempty"`
	RequireApprovalAbove *float64 `json:"requireApprovalAbove,omitempty"`
	AllowedActions       []string `json:"allowedActions,omitempty"`
	EnabledChains        []int64  `json:"enabledChains,omitempty"`
}

// SetConfig applies a partial config update. Changing the level through here
// does not rewrite the approval threshold; use SetLevel for that.
func (c *Controller) SetConfig(ctx context.Context, upd ConfigUpdate) (Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := cloneConfig(c.config)
	if upd.Level != nil {
		if !ValidLevel(*upd.Level) {
			return Config{}, fmt.Errorf("automation: invalid level %q", *upd.Level)
		}
		next.Level = *upd.Level
	}
	if upd.MaxAmountPerAction != nil {
		if *upd.MaxAmountPerAction < 0 {
			return Config{}, fmt.Errorf("automation: maxAmountPerAction must be non-negative")
		}
		next.MaxAmountPerAction = *upd.MaxAmountPerAction
	}
	if upd.RequireApprovalAbove != nil {
		if *upd.RequireApprovalAbove < 0 {
			return Config{}, fmt.Errorf("automation: requireApprovalAbove must be non-negative")
		}
		next.RequireApprovalAbove = *upd.RequireApprovalAbove
	}
	if upd.AllowedActions != nil {
		next.AllowedActions = upd.AllowedActions
	}
	if upd.EnabledChains != nil {
		next.EnabledChains = upd.EnabledChains
	}

	c.config = next
	c.persist(ctx, stateKeyConfig, next)
	logging.L(ctx).Info("automation config updated", slog.String("level", string(next.Level)))
	return cloneConfig(next), nil
}

// SetLevel switches the automation level and applies its approval-threshold
// default: manual approves nothing, semi-auto approves below 500, full-auto
// approves up to the per-action ceiling.
func (c *Controller) SetLevel(ctx context.Context, level Level) (Config, error) {
	if !ValidLevel(level) {
		return Config{}, fmt.Errorf("automation: invalid level %q", level)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.config.Level = level
	switch level {
	case LevelManual:
		c.config.RequireApprovalAbove = 0
	case LevelSemiAuto:
		c.config.RequireApprovalAbove = 500
	case LevelFullAuto:
		c.config.RequireApprovalAbove = c.config.MaxAmountPerAction
	}

	c.persist(ctx, stateKeyConfig, c.config)
	logging.L(ctx).Info("automation level changed",
		slog.String("level", string(level)),
		slog.Float64("require_approval_above", c.config.RequireApprovalAbove))
	return cloneConfig(c.config), nil
}

// ShouldAutoApprove reports whether the action may proceed without a human.
// Manual never approves, full-auto always does, semi-auto compares the amount
// against the approval threshold.
func (c *Controller) ShouldAutoApprove(action Action) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.config.Level {
	case LevelManual:
		return false
	case LevelFullAuto:
		return true
	default:
		return action.Amount < c.config.RequireApprovalAbove
	}
}

// IsActionAllowed reports whether the action passes the type, chain, and
// amount bounds. Unknown types and disabled chains are rejected.
func (c *Controller) IsActionAllowed(action Action) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if action.Type == "" || !containsStr(c.config.AllowedActions, action.Type) {
		return false
	}
	if action.ChainID > 0 && !containsInt(c.config.EnabledChains, action.ChainID) {
		return false
	}
	if action.Amount > c.config.MaxAmountPerAction {
		return false
	}
	return true
}

// RecordAction folds one execution into the running metrics.
func (c *Controller) RecordAction(action Action, success bool, execution time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalActions++
	if success {
		c.metrics.SuccessfulActions++
		c.metrics.TotalValue += action.Amount
	} else {
		c.metrics.FailedActions++
	}

	secs := execution.Seconds()
	n := float64(c.metrics.TotalActions)
	c.metrics.AvgExecutionTime = (c.metrics.AvgExecutionTime*(n-1) + secs) / n

	now := c.now().UTC()
	c.metrics.LastActionTime = &now
	c.persist(context.Background(), stateKeyMetrics, c.metrics)
}

// GetMetrics returns a copy of the execution metrics.
func (c *Controller) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

// ResetMetrics zeroes the execution metrics.
func (c *Controller) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = Metrics{}
	c.persist(context.Background(), stateKeyMetrics, c.metrics)
}

// EmergencyStop freezes the pipeline. Idempotent; a second stop overwrites
// the reason.
func (c *Controller) EmergencyStop(ctx context.Context, reason, triggeredBy string) {
	if reason == "" {
		reason = "Emergency stop triggered"
	}
	reason = validation.SanitizeReason(reason)
	if triggeredBy != "system" {
		triggeredBy = "user"
	}

	now := c.now().UTC()
	state := EmergencyState{
		Stopped:     true,
		Reason:      reason,
		Timestamp:   &now,
		TriggeredBy: triggeredBy,
	}

	c.mu.Lock()
	c.emergency = state
	c.persist(ctx, stateKeyEmergency, state)
	observers := c.snapshotObservers()
	c.mu.Unlock()

	metrics.EmergencyStopped.Set(1)
	logging.L(ctx).Error("emergency stop",
		slog.String("reason", reason),
		slog.String("triggered_by", triggeredBy))
	notify(ctx, observers, state)
}

// Resume clears the emergency stop. No-op when not stopped.
func (c *Controller) Resume(ctx context.Context) {
	c.mu.Lock()
	if !c.emergency.Stopped {
		c.mu.Unlock()
		return
	}
	c.emergency = EmergencyState{}
	state := c.emergency
	c.persist(ctx, stateKeyEmergency, state)
	observers := c.snapshotObservers()
	c.mu.Unlock()

	metrics.EmergencyStopped.Set(0)
	logging.L(ctx).Info("operations resumed")
	notify(ctx, observers, state)
}

// IsStopped reports whether the emergency stop is engaged.
func (c *Controller) IsStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.emergency.Stopped
}

// EmergencyStateNow returns a copy of the stop switch state.
func (c *Controller) EmergencyStateNow() EmergencyState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.emergency
}

// CheckAndStop engages the stop when condition holds and the switch is not
// already thrown. Used by pipeline stages to trip on anomalies.
func (c *Controller) CheckAndStop(ctx context.Context, condition bool, reason string) {
	if !condition {
		return
	}
	c.mu.RLock()
	stopped := c.emergency.Stopped
	c.mu.RUnlock()
	if !stopped {
		c.EmergencyStop(ctx, reason, "system")
	}
}

// OnStateChange registers an observer called synchronously on every
// emergency state change. The returned func unregisters it.
func (c *Controller) OnStateChange(fn StateObserver) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observerID++
	id := c.observerID
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// snapshotObservers copies the observer set; callers hold c.mu.
func (c *Controller) snapshotObservers() []StateObserver {
	out := make([]StateObserver, 0, len(c.observers))
	for _, fn := range c.observers {
		out = append(out, fn)
	}
	return out
}

// notify invokes observers synchronously, recovering panics so one bad
// observer cannot take down a pipeline stage.
func notify(ctx context.Context, observers []StateObserver, state EmergencyState) {
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.L(ctx).Error("emergency observer panicked", slog.Any("panic", r))
				}
			}()
			fn(state)
		}()
	}
}

func cloneConfig(cfg Config) Config {
	cfg.AllowedActions = append([]string(nil), cfg.AllowedActions...)
	cfg.EnabledChains = append([]int64(nil), cfg.EnabledChains...)
	return cfg
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int64, n int64) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
