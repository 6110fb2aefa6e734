// Package settlement models one cross-chain operation from simulation
// through confirmation.
//
// Flow:
//  1. Simulate → fee, route and time estimate for the transfer
//  2. CreateIntent → pending record, held for approval (or auto-approved)
//  3. ExecuteBridge → executing, transaction submitted to the network
//  4. Confirmation polling → completed once enough confirmations arrive
//
// Intents are retained after they reach a terminal state so operators can
// audit what the agent did.
package settlement

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrIntentNotFound    = errors.New("settlement: intent not found")
	ErrIntentNotApproved = errors.New("settlement: intent not approved")
	ErrIntentDenied      = errors.New("settlement: intent denied")
	ErrIntentTerminal    = errors.New("settlement: intent already resolved")
	ErrUnsupportedChain  = errors.New("settlement: unsupported chain")
	ErrNoPendingIntent   = errors.New("settlement: no pending approval for intent")
)

// TransitionError reports a rejected state change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("settlement: invalid transition %s -> %s", e.From, e.To)
}

// Status is the lifecycle state of an intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// allowedTransitions encodes the intent state machine. Any non-terminal
// state may additionally move to failed.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusDenied},
	StatusApproved:  {StatusExecuting},
	StatusExecuting: {StatusCompleted},
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDenied, StatusFailed:
		return true
	}
	return false
}

// canTransition reports whether from -> to is a legal state change.
func canTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProgressStatus tracks where an in-flight execution is.
type ProgressStatus string

const (
	ProgressSimulating ProgressStatus = "simulating"
	ProgressApproving  ProgressStatus = "approving"
	ProgressExecuting  ProgressStatus = "executing"
	ProgressConfirming ProgressStatus = "confirming"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

// Simulation is a fee, route and time estimate for a cross-chain transfer.
// Amounts are decimal strings as the settlement network reports them.
type Simulation struct {
	ID            string   `json:"id"`
	FromChain     int64    `json:"fromChain"`
	ToChain       int64    `json:"toChain"`
	Token         string   `json:"token"`
	Amount        string   `json:"amount"`
	EstimatedFees string   `json:"estimatedFees"`
	EstimatedTime int64    `json:"estimatedTime"` // seconds
	Route         []string `json:"route"`
}

// Intent is one settlement operation. It is created pending, mutated only
// by the owning pipeline run, and kept after completion for audit.
type Intent struct {
	ID          string     `json:"id"`
	Identity    string     `json:"identity"`
	Simulation  Simulation `json:"simulation"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	TxHash      string     `json:"txHash,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Progress is the step-by-step view of an executing intent, 1:1 with the
// intent while it is in flight.
type Progress struct {
	IntentID              string         `json:"intentId"`
	Status                ProgressStatus `json:"status"`
	CurrentStep           int            `json:"currentStep"`
	TotalSteps            int            `json:"totalSteps"`
	Confirmations         int            `json:"confirmations"`
	RequiredConfirmations int            `json:"requiredConfirmations"`
	TxHash                string         `json:"txHash,omitempty"`
	BlockNumber           int64          `json:"blockNumber,omitempty"`
}
