package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/idgen"
	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
)

// RotationReason explains why a credential was rotated.
type RotationReason string

const (
	ReasonScheduled RotationReason = "scheduled"
	ReasonManual    RotationReason = "manual"
	ReasonSecurity  RotationReason = "security"
)

// ValidReason reports whether r is a known rotation reason.
func ValidReason(r RotationReason) bool {
	switch r {
	case ReasonScheduled, ReasonManual, ReasonSecurity:
		return true
	}
	return false
}

// RotationConfig controls auto-rotation for one identity.
type RotationConfig struct {
	RotationInterval time.Duration `json:"rotationInterval"`
	MaxSessionAge    time.Duration `json:"maxSessionAge"`
	AutoRotate       bool          `json:"autoRotate"`
}

// DefaultRotationConfig rotates daily with a one hour session age ceiling,
// auto-rotation off.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		RotationInterval: 24 * time.Hour,
		MaxSessionAge:    time.Hour,
		AutoRotate:       false,
	}
}

// RotationEvent records one completed rotation.
type RotationEvent struct {
	ID           string         `json:"id"`
	Identity     string         `json:"identity"`
	OldSessionID string         `json:"oldSessionId"`
	NewSessionID string         `json:"newSessionId"`
	Reason       RotationReason `json:"reason"`
	Timestamp    time.Time      `json:"timestamp"`
}

// SessionAge reports a credential's age relative to the rotation config.
type SessionAge struct {
	IsExpired    bool          `json:"isExpired"`
	Age          time.Duration `json:"age"`
	ShouldRotate bool          `json:"shouldRotate"`
}

// Rotator refreshes credentials on demand and on self-rescheduling timers.
type Rotator struct {
	mu       sync.Mutex
	sessions *Manager
	grants   *Grants
	events   EventStore
	configs  map[string]RotationConfig
	timers   map[string]*time.Timer
	now      func() time.Time
	closed   bool
}

// RotatorOption configures a Rotator.
type RotatorOption func(*Rotator)

// WithRotatorClock overrides the time source.
func WithRotatorClock(now func() time.Time) RotatorOption {
	return func(r *Rotator) { r.now = now }
}

// NewRotator creates a rotation manager over the given credential manager,
// grant registry, and event store.
func NewRotator(sessions *Manager, grants *Grants, events EventStore, opts ...RotatorOption) *Rotator {
	r := &Rotator{
		sessions: sessions,
		grants:   grants,
		events:   events,
		configs:  make(map[string]RotationConfig),
		timers:   make(map[string]*time.Timer),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetConfig stores the identity's rotation config and starts the timer when
// auto-rotation is on.
func (r *Rotator) SetConfig(identity string, cfg RotationConfig) error {
	if cfg.RotationInterval <= 0 {
		return fmt.Errorf("session: rotation interval must be positive")
	}
	if cfg.MaxSessionAge <= 0 {
		return fmt.Errorf("session: max session age must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[identity] = cfg
	if cfg.AutoRotate {
		r.scheduleLocked(identity)
	} else {
		r.cancelTimerLocked(identity)
	}
	return nil
}

// GetConfig returns the identity's rotation config, or false if none is set.
func (r *Rotator) GetConfig(identity string) (RotationConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[identity]
	return cfg, ok
}

// Rotate refreshes the identity's active credential. Returns false without
// error when the identity holds no active session; rotation is then a no-op.
// A security rotation also revokes grants older than the max session age.
func (r *Rotator) Rotate(ctx context.Context, identity string, reason RotationReason) (bool, error) {
	if !ValidReason(reason) {
		return false, fmt.Errorf("session: invalid rotation reason %q", reason)
	}

	current, err := r.sessions.ActiveFor(identity)
	if err != nil {
		logging.L(ctx).Warn("no active session to rotate")
		metrics.RotationsTotal.WithLabelValues(string(reason), "skipped").Inc()
		return false, nil
	}

	oldSessionID := current.ID
	fresh, err := r.sessions.Refresh(ctx, identity, current.Chain)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(string(reason), "failed").Inc()
		return false, fmt.Errorf("refresh session: %w", err)
	}

	event := &RotationEvent{
		ID:           idgen.WithPrefix("rot_"),
		Identity:     identity,
		OldSessionID: oldSessionID,
		NewSessionID: fresh.ID,
		Reason:       reason,
		Timestamp:    r.now().UTC(),
	}
	if err := r.events.Append(ctx, event); err != nil {
		logging.L(ctx).Error("rotation event not recorded", slog.String("error", err.Error()))
	}

	if reason == ReasonSecurity {
		r.mu.Lock()
		cfg, ok := r.configs[identity]
		r.mu.Unlock()
		if ok {
			cutoff := r.now().Add(-cfg.MaxSessionAge)
			revoked := r.grants.RevokeOlderThan(identity, cutoff)
			logging.L(ctx).Info("stale grants revoked", slog.Int("count", revoked))
		}
	}

	metrics.RotationsTotal.WithLabelValues(string(reason), "rotated").Inc()
	logging.L(ctx).Info("session rotated",
		slog.String("reason", string(reason)),
		slog.String("old_session", oldSessionID),
		slog.String("new_session", fresh.ID))
	return true, nil
}

// StartAutoRotation flips auto-rotation on for an identity with a config.
func (r *Rotator) StartAutoRotation(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[identity]
	if !ok {
		return
	}
	cfg.AutoRotate = true
	r.configs[identity] = cfg
	r.scheduleLocked(identity)
}

// StopAutoRotation cancels the identity's outstanding timer and flips the
// flag. The timer is cleared, not just ignored.
func (r *Rotator) StopAutoRotation(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelTimerLocked(identity)
	if cfg, ok := r.configs[identity]; ok {
		cfg.AutoRotate = false
		r.configs[identity] = cfg
	}
}

// CheckSessionAge reports the credential's age for the pair. A missing
// credential reads as expired and due for rotation.
func (r *Rotator) CheckSessionAge(identity, chain string) SessionAge {
	cred, err := r.sessions.Get(identity, chain)
	if err != nil {
		return SessionAge{IsExpired: true, ShouldRotate: true}
	}

	age := r.now().Sub(cred.CreatedAt)
	r.mu.Lock()
	cfg, ok := r.configs[identity]
	r.mu.Unlock()

	return SessionAge{
		IsExpired:    false,
		Age:          age,
		ShouldRotate: ok && age > cfg.MaxSessionAge,
	}
}

// History returns recorded rotation events, all identities when identity is
// empty.
func (r *Rotator) History(ctx context.Context, identity string) ([]*RotationEvent, error) {
	return r.events.List(ctx, identity)
}

// Close cancels all timers. The rotator must not be reused afterwards.
func (r *Rotator) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for identity, t := range r.timers {
		t.Stop()
		delete(r.timers, identity)
	}
}

// scheduleLocked arms the identity's rotation timer; callers hold r.mu.
// The fired timer rotates and re-arms itself until stopped.
func (r *Rotator) scheduleLocked(identity string) {
	if r.closed {
		return
	}
	r.cancelTimerLocked(identity)

	cfg, ok := r.configs[identity]
	if !ok || !cfg.AutoRotate {
		return
	}

	r.timers[identity] = time.AfterFunc(cfg.RotationInterval, func() {
		ctx := logging.WithIdentity(context.Background(), identity)
		if _, err := r.Rotate(ctx, identity, ReasonScheduled); err != nil {
			logging.L(ctx).Error("scheduled rotation failed", slog.String("error", err.Error()))
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if cfg, ok := r.configs[identity]; ok && cfg.AutoRotate {
			r.scheduleLocked(identity)
		}
	})
}

// cancelTimerLocked stops and removes the identity's timer; callers hold r.mu.
func (r *Rotator) cancelTimerLocked(identity string) {
	if t, ok := r.timers[identity]; ok {
		t.Stop()
		delete(r.timers, identity)
	}
}
