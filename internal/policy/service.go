package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
)

// Service manages signing policies and validates transactions against them.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, used by cooldown tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a policy service backed by the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPolicy stores a policy for an identity, rejecting malformed input.
func (s *Service) SetPolicy(ctx context.Context, identity string, p SigningPolicy) (*SigningPolicy, error) {
	if !ValidIdentity(identity) {
		return nil, ErrInvalidIdentity
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.Identity = identity
	p.UpdatedAt = now
	if existing, err := s.store.Get(ctx, identity); err == nil {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}

	if err := s.store.Put(ctx, &p); err != nil {
		return nil, fmt.Errorf("store policy: %w", err)
	}

	logging.L(ctx).Info("policy set",
		slog.Float64("max_amount", p.MaxAmount),
		slog.Int("allowed_chains", len(p.AllowedChains)),
		slog.Int64("cooldown_seconds", p.CooldownSeconds))
	return &p, nil
}

// GetPolicy returns the stored policy for an identity.
func (s *Service) GetPolicy(ctx context.Context, identity string) (*SigningPolicy, error) {
	if !ValidIdentity(identity) {
		return nil, ErrInvalidIdentity
	}
	return s.store.Get(ctx, identity)
}

// GetOrCreate returns the stored policy, creating the default one on first use.
func (s *Service) GetOrCreate(ctx context.Context, identity string) (*SigningPolicy, error) {
	if !ValidIdentity(identity) {
		return nil, ErrInvalidIdentity
	}
	p, err := s.store.Get(ctx, identity)
	if err == nil {
		return p, nil
	}
	if err != ErrPolicyNotFound {
		return nil, err
	}

	def := DefaultPolicy()
	def.Identity = identity
	now := s.now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := s.store.Put(ctx, &def); err != nil {
		return nil, fmt.Errorf("create default policy: %w", err)
	}
	logging.L(ctx).Info("default policy created")
	return &def, nil
}

// UpdatePolicy applies a partial update to an existing policy. The identity
// must already have a policy on file.
func (s *Service) UpdatePolicy(ctx context.Context, identity string, upd PolicyUpdate) (*SigningPolicy, error) {
	if !ValidIdentity(identity) {
		return nil, ErrInvalidIdentity
	}
	p, err := s.store.Get(ctx, identity)
	if err != nil {
		return nil, err
	}

	if upd.MaxAmount != nil {
		p.MaxAmount = *upd.MaxAmount
	}
	if upd.AllowedChains != nil {
		p.AllowedChains = upd.AllowedChains
	}
	if upd.RequireGasBelowGwei != nil {
		p.RequireGasBelowGwei = *upd.RequireGasBelowGwei
	}
	if upd.AllowedTokens != nil {
		p.AllowedTokens = upd.AllowedTokens
	}
	if upd.CooldownSeconds != nil {
		p.CooldownSeconds = *upd.CooldownSeconds
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	p.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}
	logging.L(ctx).Info("policy updated")
	return p, nil
}

// ValidateTransaction checks txData against the identity's stored policy.
// Every check runs; failures accumulate rather than short-circuit. A missing
// policy fails closed.
func (s *Service) ValidateTransaction(ctx context.Context, identity string, tx TransactionData) (*ValidationResult, error) {
	result := &ValidationResult{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
	}

	if !ValidIdentity(identity) {
		result.IsValid = false
		result.Errors = append(result.Errors, "Invalid identity format")
		return result, nil
	}

	p, err := s.store.Get(ctx, identity)
	if err == ErrPolicyNotFound {
		result.IsValid = false
		result.Errors = append(result.Errors, "No policy found for identity")
		metrics.PolicyDenialsTotal.WithLabelValues("no_policy").Inc()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	if tx.Amount < 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "Invalid amount value")
	} else if tx.Amount > p.MaxAmount {
		result.IsValid = false
		result.Errors = append(result.Errors, "Amount exceeds policy limit")
		metrics.PolicyDenialsTotal.WithLabelValues("amount").Inc()
	}

	if tx.ChainID <= 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "Invalid chain ID")
	} else if !p.AllowsChain(tx.ChainID) {
		result.IsValid = false
		result.Errors = append(result.Errors, "Chain not allowed by policy")
		metrics.PolicyDenialsTotal.WithLabelValues("chain").Inc()
	}

	if tx.GasPriceWei < 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "Invalid gas price value")
	} else {
		gasGwei := tx.GasPriceWei / 1e9
		if gasGwei > p.RequireGasBelowGwei {
			result.IsValid = false
			result.Errors = append(result.Errors, "Gas price exceeds policy limit")
			metrics.PolicyDenialsTotal.WithLabelValues("gas").Inc()
		}
	}

	if tx.Token != "" && !p.AllowsToken(tx.Token) {
		result.IsValid = false
		result.Errors = append(result.Errors, "Token not allowed by policy")
		metrics.PolicyDenialsTotal.WithLabelValues("token").Inc()
	}

	if tx.LastSigningTime > 0 {
		elapsed := s.now().Unix() - tx.LastSigningTime
		if elapsed < p.CooldownSeconds {
			remaining := p.CooldownSeconds - elapsed
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Cooldown period active. Wait %d seconds", remaining))
			metrics.PolicyDenialsTotal.WithLabelValues("cooldown").Inc()
		}
	}

	// Borderline warnings, emitted above 80% of a limit without blocking.
	if tx.Amount > p.MaxAmount*0.8 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Amount %.2f is close to limit of %.2f", tx.Amount, p.MaxAmount))
	}
	if gasGwei := tx.GasPriceWei / 1e9; gasGwei > p.RequireGasBelowGwei*0.8 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Gas price %.2f Gwei is close to limit of %.2f Gwei", gasGwei, p.RequireGasBelowGwei))
	}

	return result, nil
}
