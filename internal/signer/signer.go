// Package signer is the policy gate in front of the signing service.
//
// Every delegated signature passes through SignWithPolicy: the transaction is
// validated against the identity's policy, the session credential is checked,
// the cooldown slot is consumed, and only then is the cryptographic operation
// delegated. A per-identity lock serializes the validate-sign-stamp sequence
// so concurrent calls cannot both read a stale last-signing time.
package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
	"github.com/jayasurya0007/prism-wallet/internal/policy"
	"github.com/jayasurya0007/prism-wallet/internal/session"
	"github.com/jayasurya0007/prism-wallet/internal/signing"
	"github.com/jayasurya0007/prism-wallet/internal/syncutil"
	"github.com/jayasurya0007/prism-wallet/internal/traces"
)

// ErrNoValidSession is returned when the identity holds no live credential
// for the requested chain.
var ErrNoValidSession = session.ErrNoValidSession

// PolicyViolationError carries every accumulated policy failure.
type PolicyViolationError struct {
	Errors []string
}

func (e *PolicyViolationError) Error() string {
	return "signer: policy validation failed: " + strings.Join(e.Errors, ", ")
}

// Signer enforces policy at the point of signing.
type Signer struct {
	policies  *policy.Service
	sessions  *session.Manager
	client    signing.Client
	locks     *syncutil.ContextShardedMutex
	scriptCID string

	// consumeCooldownOnFailure stamps the signing time before delegating,
	// so a failed attempt still burns the cooldown slot. This blocks rapid
	// retry storms at the cost of one wasted window per failure.
	consumeCooldownOnFailure bool

	mu          sync.Mutex
	lastSigning map[string]int64 // identity -> unix seconds
	now         func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithConsumeCooldownOnFailure controls whether a failed delegation still
// consumes the cooldown slot. Default true.
func WithConsumeCooldownOnFailure(consume bool) Option {
	return func(s *Signer) { s.consumeCooldownOnFailure = consume }
}

// New creates a signer. scriptCID is the content address of the pre-approved
// signing script; it is validated on every call, never overridable per
// request.
func New(policies *policy.Service, sessions *session.Manager, client signing.Client, scriptCID string, opts ...Option) (*Signer, error) {
	if !signing.ValidScriptCID(scriptCID) {
		return nil, signing.ErrInvalidScriptRef
	}

	s := &Signer{
		policies:                 policies,
		sessions:                 sessions,
		client:                   client,
		locks:                    syncutil.NewContextShardedMutex(),
		scriptCID:                scriptCID,
		consumeCooldownOnFailure: true,
		lastSigning:              make(map[string]int64),
		now:                      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignWithPolicy validates txData against the identity's policy and delegates
// the signature. chain selects the session credential; sigName labels the
// signature in the response.
func (s *Signer) SignWithPolicy(ctx context.Context, identity, chain string, toSign string, txData policy.TransactionData, sigName string) (*signing.Response, error) {
	if !policy.ValidIdentity(identity) {
		return nil, policy.ErrInvalidIdentity
	}
	if toSign == "" {
		return nil, fmt.Errorf("signer: empty payload")
	}
	if chain == "" {
		chain = "ethereum"
	}
	if sigName == "" {
		sigName = "agentSignature"
	}

	ctx, span := traces.StartSpan(ctx, "signer.SignWithPolicy",
		traces.Identity(identity), traces.Chain(txData.ChainID))
	defer span.End()

	// The whole validate-sign-stamp sequence holds the identity lock.
	unlock, err := s.locks.LockContext(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("signer: acquire lock: %w", err)
	}
	defer unlock()

	// Stamp the prior signing time so the policy cooldown check sees it.
	s.mu.Lock()
	txData.LastSigningTime = s.lastSigning[identity]
	s.mu.Unlock()

	result, err := s.policies.ValidateTransaction(ctx, identity, txData)
	if err != nil {
		return nil, fmt.Errorf("signer: validate: %w", err)
	}
	if !result.IsValid {
		metrics.SigningsTotal.WithLabelValues("policy_violation").Inc()
		return nil, &PolicyViolationError{Errors: result.Errors}
	}
	for _, w := range result.Warnings {
		logging.L(ctx).Warn("policy warning", slog.String("warning", w))
	}

	if _, err := s.sessions.Get(identity, chain); err != nil {
		metrics.SigningsTotal.WithLabelValues("no_session").Inc()
		return nil, ErrNoValidSession
	}

	// Consume the cooldown slot before delegating.
	if s.consumeCooldownOnFailure {
		s.stamp(identity)
	}

	pol, err := s.policies.GetOrCreate(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("signer: load policy: %w", err)
	}

	req, err := s.buildRequest(identity, toSign, sigName, txData, pol)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Sign(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, signing.ErrInvalidResponse):
			metrics.SigningsTotal.WithLabelValues("invalid_response").Inc()
		default:
			metrics.SigningsTotal.WithLabelValues("service_error").Inc()
		}
		return nil, err
	}

	if err := signing.VerifyResponse(resp, toSign); err != nil {
		metrics.SigningsTotal.WithLabelValues("invalid_response").Inc()
		return nil, err
	}

	if !s.consumeCooldownOnFailure {
		s.stamp(identity)
	}

	metrics.SigningsTotal.WithLabelValues("signed").Inc()
	logging.L(ctx).Info("transaction signed",
		slog.String("chain", chain),
		slog.Float64("amount", txData.Amount))
	return resp, nil
}

// LastSigningTime returns the identity's recorded signing time, 0 when it
// has never signed.
func (s *Signer) LastSigningTime(identity string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSigning[identity]
}

func (s *Signer) stamp(identity string) {
	s.mu.Lock()
	s.lastSigning[identity] = s.now().Unix()
	s.mu.Unlock()
}

func (s *Signer) buildRequest(identity, toSign, sigName string, txData policy.TransactionData, pol *policy.SigningPolicy) (signing.Request, error) {
	txJSON, err := json.Marshal(txData)
	if err != nil {
		return signing.Request{}, fmt.Errorf("signer: serialize transaction: %w", err)
	}
	polJSON, err := json.Marshal(pol)
	if err != nil {
		return signing.Request{}, fmt.Errorf("signer: serialize policy: %w", err)
	}
	if len(txJSON) > signing.MaxSerializedSize || len(polJSON) > signing.MaxSerializedSize {
		return signing.Request{}, signing.ErrPayloadTooLarge
	}

	return signing.Request{
		Identity:        identity,
		ToSign:          toSign,
		SigName:         sigName,
		TransactionData: string(txJSON),
		Policy:          string(polJSON),
		ScriptCID:       s.scriptCID,
	}, nil
}
