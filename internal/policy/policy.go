// Package policy implements per-identity signing policies for the autonomous agent.
//
// A SigningPolicy bounds what the agent's delegated signing key may authorize:
// spend ceiling, chain and token allowlists, a gas-price ceiling, and a
// cooldown between signings. Policies are owned by exactly one identity (the
// delegated public key they govern), created with defaults on first use, and
// mutated only through explicit updates.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// Errors
var (
	ErrPolicyNotFound  = errors.New("policy: not found")
	ErrInvalidIdentity = errors.New("policy: invalid identity format")
)

// InvalidPolicyError reports a malformed policy rejected before storage.
type InvalidPolicyError struct {
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return "policy: invalid policy: " + e.Reason
}

// ValidIdentity reports whether s is a well-formed signing identity
// (an uncompressed public key, 0x followed by 130 hex characters).
func ValidIdentity(s string) bool {
	return validation.IsValidIdentity(s)
}

// SigningPolicy bounds what a delegated signing key may authorize.
type SigningPolicy struct {
	Identity            string    `json:"identity"`
	MaxAmount           float64   `json:"maxAmount"`           // USD ceiling per action
	AllowedChains       []int64   `json:"allowedChains"`       // chain IDs the key may act on
	RequireGasBelowGwei float64   `json:"requireGasBelowGwei"` // gas ceiling in gwei
	AllowedTokens       []string  `json:"allowedTokens"`       // token symbols
	CooldownSeconds     int64     `json:"cooldownSeconds"`     // minimum gap between signings
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// PolicyUpdate is a partial update to a stored policy. Nil fields keep the
// existing value.
type PolicyUpdate struct {
	MaxAmount           *float64  `json:"maxAmount,omitempty"`
	AllowedChains       []int64   `json:"allowedChains,omitempty"`
	RequireGasBelowGwei *float64  `json:"requireGasBelowGwei,omitempty"`
	AllowedTokens       []string  `json:"allowedTokens,omitempty"`
	CooldownSeconds     *int64    `json:"cooldownSeconds,omitempty"`
}

// TransactionData holds the proposed action's parameters, constructed per
// signing attempt.
type TransactionData struct {
	Amount          float64 `json:"amount"`          // USD value
	ChainID         int64   `json:"chainId"`
	GasPriceWei     float64 `json:"gasPrice"`        // wei
	Token           string  `json:"token"`
	Recipient       string  `json:"to,omitempty"`
	LastSigningTime int64   `json:"lastSigningTime,omitempty"` // unix seconds, 0 = never signed
}

// ValidationResult accumulates the outcome of every policy check. All checks
// run; errors do not short-circuit.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// DefaultPolicy returns the policy applied to an identity on first use.
func DefaultPolicy() SigningPolicy {
	return SigningPolicy{
		MaxAmount:           100,
		AllowedChains:       []int64{1, 10, 137, 42161, 43114, 8453},
		RequireGasBelowGwei: 200,
		AllowedTokens:       []string{"USDC", "USDT", "ETH"},
		CooldownSeconds:     300,
	}
}

// Validate checks policy invariants: numeric fields non-negative, gas ceiling
// positive, allowlists non-empty.
func (p *SigningPolicy) Validate() error {
	if p.MaxAmount < 0 {
		return &InvalidPolicyError{Reason: "maxAmount must be non-negative"}
	}
	if len(p.AllowedChains) == 0 {
		return &InvalidPolicyError{Reason: "allowedChains must be non-empty"}
	}
	for _, c := range p.AllowedChains {
		if c <= 0 {
			return &InvalidPolicyError{Reason: fmt.Sprintf("invalid chain ID %d", c)}
		}
	}
	if len(p.AllowedTokens) == 0 {
		return &InvalidPolicyError{Reason: "allowedTokens must be non-empty"}
	}
	for _, t := range p.AllowedTokens {
		if t == "" {
			return &InvalidPolicyError{Reason: "empty token symbol"}
		}
	}
	if p.RequireGasBelowGwei <= 0 {
		return &InvalidPolicyError{Reason: "requireGasBelowGwei must be positive"}
	}
	if p.CooldownSeconds < 0 {
		return &InvalidPolicyError{Reason: "cooldownSeconds must be non-negative"}
	}
	return nil
}

// AllowsChain reports whether chainID is in the allowlist.
func (p *SigningPolicy) AllowsChain(chainID int64) bool {
	for _, c := range p.AllowedChains {
		if c == chainID {
			return true
		}
	}
	return false
}

// AllowsToken reports whether token is in the allowlist.
func (p *SigningPolicy) AllowsToken(token string) bool {
	for _, t := range p.AllowedTokens {
		if t == token {
			return true
		}
	}
	return false
}
