// Package agent runs the action pipeline on a schedule.
//
// One runner drives one identity/address pair. Runs are strictly
// sequential: a tick is skipped rather than overlapped when the previous
// run is still in flight.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/automation"
	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/pipeline"
	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

var (
	ErrAlreadyRunning = errors.New("agent: already running")
	ErrNotRunning     = errors.New("agent: not running")
)

// DefaultAnalysisInterval between scheduled pipeline runs.
const DefaultAnalysisInterval = 5 * time.Minute

// historyLimit bounds the in-memory run history.
const historyLimit = 100

// Config tells the runner who to act as and how often.
type Config struct {
	Identity         string        `json:"identity"`
	Address          string        `json:"address"`
	AnalysisInterval time.Duration `json:"analysisInterval"`
}

func (c Config) validate() error {
	if !validation.IsValidIdentity(c.Identity) {
		return fmt.Errorf("agent: invalid identity key")
	}
	if !validation.IsValidAddress(c.Address) {
		return fmt.Errorf("agent: invalid address")
	}
	return nil
}

// RunRecord is one completed pipeline run.
type RunRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Outcome   string           `json:"outcome"`
	Success   bool             `json:"success"`
	Action    string           `json:"action,omitempty"`
	Error     string           `json:"error,omitempty"`
	Scheduled bool             `json:"scheduled"`
	Result    *pipeline.Result `json:"result,omitempty"`
}

// Status is a snapshot of the runner.
type Status struct {
	Active          bool                      `json:"active"`
	Identity        string                    `json:"identity,omitempty"`
	Address         string                    `json:"address,omitempty"`
	IntervalSeconds int64                     `json:"intervalSeconds,omitempty"`
	LastRun         *time.Time                `json:"lastRun,omitempty"`
	TotalRuns       int                       `json:"totalRuns"`
	SuccessRate     float64                   `json:"successRate"`
	Outcomes        map[string]int            `json:"outcomes"`
	Automation      automation.Config         `json:"automation"`
	Emergency       automation.EmergencyState `json:"emergency"`
}

// RunObserver is notified after every completed run.
type RunObserver func(RunRecord)

// Runner schedules pipeline runs for a single identity.
type Runner struct {
	pipe       *pipeline.Pipeline
	controller *automation.Controller
	now        func() time.Time

	mu         sync.Mutex
	active     bool
	config     Config
	history    []RunRecord
	lastRun    *time.Time
	total      int
	success    int
	outcomes   map[string]int
	observers  map[int]RunObserver
	observerID int
	stop       chan struct{}
	done       chan struct{}
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(pipe *pipeline.Pipeline, controller *automation.Controller, opts ...Option) *Runner {
	r := &Runner{
		pipe:       pipe,
		controller: controller,
		now:        time.Now,
		outcomes:   make(map[string]int),
		observers:  make(map[int]RunObserver),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins scheduled runs. The context bounds the whole run loop.
func (r *Runner) Start(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = DefaultAnalysisInterval
	}

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.active = true
	r.config = cfg
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	logging.L(ctx).Info("agent started",
		"identity", cfg.Identity, "address", cfg.Address, "interval", cfg.AnalysisInterval)
	go r.runLoop(ctx, cfg, stop, done)
	return nil
}

// Stop halts scheduled runs and waits for the loop to exit.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.active = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done
	logging.L(ctx).Info("agent stopped")
	return nil
}

func (r *Runner) runLoop(ctx context.Context, cfg Config, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.AnalysisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.active = false
			r.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			r.runOnce(ctx, cfg, true)
		}
	}
}

// Analyze triggers one pipeline run immediately using the active config,
// or the provided identity/address when the runner is idle.
func (r *Runner) Analyze(ctx context.Context, identity, address string) (*pipeline.Result, error) {
	r.mu.Lock()
	cfg := r.config
	active := r.active
	r.mu.Unlock()

	if !active {
		cfg = Config{Identity: identity, Address: address}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}
	return r.runOnce(ctx, cfg, false), nil
}

func (r *Runner) runOnce(ctx context.Context, cfg Config, scheduled bool) *pipeline.Result {
	result, err := r.pipe.Run(ctx, cfg.Identity, cfg.Address)
	if err != nil {
		result = &pipeline.Result{
			Success: false,
			Outcome: pipeline.OutcomeFailed,
			Error:   validation.SanitizeReason(err.Error()),
		}
	}

	record := RunRecord{
		Timestamp: r.now(),
		Outcome:   result.Outcome,
		Success:   result.Success,
		Error:     result.Error,
		Scheduled: scheduled,
		Result:    result,
	}
	if result.Decision != nil {
		record.Action = string(result.Decision.Action)
	}

	r.mu.Lock()
	r.history = append([]RunRecord{record}, r.history...)
	if len(r.history) > historyLimit {
		r.history = r.history[:historyLimit]
	}
	ts := record.Timestamp
	r.lastRun = &ts
	r.total++
	if result.Success {
		r.success++
	}
	r.outcomes[result.Outcome]++
	observers := make([]RunObserver, 0, len(r.observers))
	for _, obs := range r.observers {
		observers = append(observers, obs)
	}
	r.mu.Unlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logging.L(ctx).Error("run observer panicked", "panic", p)
				}
			}()
			obs(record)
		}()
	}

	if scheduled && !result.Success {
		logging.L(ctx).Warn("scheduled run unsuccessful", "outcome", result.Outcome, "error", result.Error)
	}
	return result
}

// Status reports the runner and controller state in one snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcomes := make(map[string]int, len(r.outcomes))
	for k, v := range r.outcomes {
		outcomes[k] = v
	}
	rate := 0.0
	if r.total > 0 {
		rate = float64(r.success) / float64(r.total)
	}
	st := Status{
		Active:      r.active,
		TotalRuns:   r.total,
		SuccessRate: rate,
		Outcomes:    outcomes,
		LastRun:     r.lastRun,
		Automation:  r.controller.GetConfig(),
		Emergency:   r.controller.EmergencyStateNow(),
	}
	if r.active {
		st.Identity = r.config.Identity
		st.Address = r.config.Address
		st.IntervalSeconds = int64(r.config.AnalysisInterval / time.Second)
	}
	return st
}

// OnRun registers an observer notified after every run. The returned func
// unregisters it.
func (r *Runner) OnRun(obs RunObserver) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observerID++
	id := r.observerID
	r.observers[id] = obs
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// History returns recent runs, newest first.
func (r *Runner) History(limit int) []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]RunRecord, limit)
	copy(out, r.history[:limit])
	return out
}
