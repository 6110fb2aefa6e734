// Package pipeline chains decision, risk, policy, approval, signing and
// settlement into one agent run. Every stage is a hard gate: a failure or
// denial stops the run and is reported as a structured result, never as a
// panic or a bare error escaping to the caller.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jayasurya0007/prism-wallet/internal/automation"
	"github.com/jayasurya0007/prism-wallet/internal/decision"
	"github.com/jayasurya0007/prism-wallet/internal/indexer"
	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
	"github.com/jayasurya0007/prism-wallet/internal/policy"
	"github.com/jayasurya0007/prism-wallet/internal/risk"
	"github.com/jayasurya0007/prism-wallet/internal/settlement"
	"github.com/jayasurya0007/prism-wallet/internal/signer"
	"github.com/jayasurya0007/prism-wallet/internal/syncutil"
	"github.com/jayasurya0007/prism-wallet/internal/traces"
	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// Run outcomes.
const (
	OutcomeCompleted       = "completed"
	OutcomeHold            = "hold"
	OutcomePendingApproval = "pending_approval"
	OutcomeAborted         = "aborted"
	OutcomeFailed          = "failed"
)

// Stage names used in wrapped errors and metrics.
const (
	stageDecision   = "decision"
	stageRisk       = "risk"
	stagePolicy     = "policy"
	stageApproval   = "approval"
	stageSigning    = "signing"
	stageSettlement = "settlement"
)

// fallbackGasGwei substitutes for a missing mainnet gas quote.
const fallbackGasGwei = 50

// plannedActionShare caps a derived action at a fraction of portfolio value.
const plannedActionShare = 0.10

// Result is the structured outcome of one pipeline run.
type Result struct {
	Success  bool               `json:"success"`
	Outcome  string             `json:"outcome"`
	Decision *decision.Decision `json:"decision,omitempty"`
	Risk     *risk.Assessment   `json:"risk,omitempty"`
	IntentID string             `json:"intentId,omitempty"`
	TxHash   string             `json:"txHash,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// plannedAction is the concrete transfer derived from a decision.
type plannedAction struct {
	Type      string
	Amount    float64
	FromChain int64
	ToChain   int64
	Token     string
}

// crossChain reports whether settlement is needed to realize the action.
func (a plannedAction) crossChain() bool {
	return a.ToChain > 0 && a.FromChain > 0 && a.ToChain != a.FromChain
}

// Pipeline orchestrates one agent run end to end.
type Pipeline struct {
	engine     *decision.Engine
	assessor   *risk.Assessor
	policies   *policy.Service
	controller *automation.Controller
	signer     *signer.Signer
	settlement *settlement.Service
	idx        indexer.Client
	locks      *syncutil.ContextShardedMutex
	now        func() time.Time
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(
	engine *decision.Engine,
	assessor *risk.Assessor,
	policies *policy.Service,
	controller *automation.Controller,
	sgn *signer.Signer,
	stl *settlement.Service,
	idx indexer.Client,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		engine:     engine,
		assessor:   assessor,
		policies:   policies,
		controller: controller,
		signer:     sgn,
		settlement: stl,
		idx:        idx,
		locks:      syncutil.NewContextShardedMutex(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one full pipeline pass for an identity acting as address.
// The returned result is always non-nil; an error is returned only for
// context cancellation while waiting on the per-identity lock.
func (p *Pipeline) Run(ctx context.Context, identity, address string) (*Result, error) {
	if !validation.IsValidAddress(address) {
		return &Result{Success: false, Outcome: OutcomeFailed, Error: "Invalid Ethereum address format"}, nil
	}
	if !validation.IsValidIdentity(identity) {
		return &Result{Success: false, Outcome: OutcomeFailed, Error: "invalid identity key"}, nil
	}

	unlock, err := p.locks.LockContext(ctx, identity)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = logging.WithIdentity(ctx, identity)
	ctx, span := traces.StartSpan(ctx, "pipeline.Run", traces.Identity(identity))
	defer span.End()

	start := p.now()
	result := p.run(ctx, identity, address)
	metrics.PipelineDuration.Observe(p.now().Sub(start).Seconds())
	metrics.PipelineRunsTotal.WithLabelValues(result.Outcome).Inc()
	logging.L(ctx).Info("pipeline run finished",
		"outcome", result.Outcome, "success", result.Success, "error", result.Error)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, identity, address string) *Result {
	if state := p.controller.EmergencyStateNow(); state.Stopped {
		return p.abort(stageApproval, nil, nil, "Emergency stop active: "+state.Reason)
	}

	pc := p.gatherContext(ctx, address)

	dec, err := p.engine.AnalyzePortfolio(ctx, address, pc)
	if err != nil {
		return p.fail(stageDecision, nil, nil, err)
	}
	if dec.Action == decision.ActionHold {
		return &Result{Success: true, Outcome: OutcomeHold, Decision: dec}
	}

	action := p.deriveAction(dec, pc)

	assessment, err := p.assessor.AssessAction(ctx, risk.Action{
		Type:    action.Type,
		Amount:  action.Amount,
		ChainID: action.FromChain,
		ToChain: action.ToChain,
		Token:   action.Token,
	}, risk.Context{Address: address, PortfolioValue: pc.PortfolioValue})
	if err != nil {
		return p.fail(stageRisk, dec, nil, err)
	}
	if assessment.Level == risk.LevelCritical {
		return p.abort(stageRisk, dec, assessment, "Action blocked: Critical risk level")
	}

	if !p.controller.IsActionAllowed(automation.Action{
		Type:    action.Type,
		Amount:  action.Amount,
		ChainID: action.targetChain(),
	}) {
		return p.abort(stageApproval, dec, assessment, "Action not allowed")
	}

	// Policy is enforced again inside the signer; checking here keeps
	// violations from consuming an approval round-trip.
	check, err := p.policies.ValidateTransaction(ctx, identity, policy.TransactionData{
		Amount:          action.Amount,
		ChainID:         action.targetChain(),
		GasPriceWei:     pc.GasPriceGwei * 1e9,
		Token:           action.Token,
		LastSigningTime: p.signer.LastSigningTime(identity),
	})
	if err != nil {
		return p.fail(stagePolicy, dec, assessment, err)
	}
	if !check.IsValid {
		return p.abort(stagePolicy, dec, assessment, "Policy violation: "+strings.Join(check.Errors, ", "))
	}

	if !p.controller.ShouldAutoApprove(automation.Action{
		Type:    action.Type,
		Amount:  action.Amount,
		ChainID: action.targetChain(),
	}) {
		return &Result{Success: true, Outcome: OutcomePendingApproval, Decision: dec, Risk: assessment}
	}

	// Re-check right before signing: a stop raised mid-run must still
	// keep the signer from being reached.
	if state := p.controller.EmergencyStateNow(); state.Stopped {
		return p.abort(stageSigning, dec, assessment, "Emergency stop active: "+state.Reason)
	}

	execStart := p.now()
	payload, err := signingPayload(action, p.now().Unix())
	if err != nil {
		return p.fail(stageSigning, dec, assessment, err)
	}
	if _, err := p.signer.SignWithPolicy(ctx, identity, "ethereum", payload, policy.TransactionData{
		Amount:      action.Amount,
		ChainID:     action.targetChain(),
		GasPriceWei: pc.GasPriceGwei * 1e9,
		Token:       action.Token,
	}, ""); err != nil {
		p.record(action, false, execStart)
		return p.fail(stageSigning, dec, assessment, err)
	}

	if !action.crossChain() {
		p.record(action, true, execStart)
		return &Result{Success: true, Outcome: OutcomeCompleted, Decision: dec, Risk: assessment}
	}

	intentID, txHash, err := p.settle(ctx, identity, action)
	if err != nil {
		p.record(action, false, execStart)
		result := p.fail(stageSettlement, dec, assessment, err)
		result.IntentID = intentID
		return result
	}
	p.record(action, true, execStart)
	return &Result{
		Success:  true,
		Outcome:  OutcomeCompleted,
		Decision: dec,
		Risk:     assessment,
		IntentID: intentID,
		TxHash:   txHash,
	}
}

// gatherContext collects best-effort observation inputs. A fetch failure
// leaves zero values so the decision engine degrades to holding instead of
// the run failing on transient indexer trouble.
func (p *Pipeline) gatherContext(ctx context.Context, address string) decision.PortfolioContext {
	var pc decision.PortfolioContext

	if analytics, err := p.idx.GetAnalytics(ctx, address); err == nil {
		pc.PortfolioValue = analytics.TotalValue
	} else {
		logging.L(ctx).Warn("portfolio analytics unavailable", "error", err)
	}

	if prices, err := p.idx.GetGasPrices(ctx); err == nil {
		if gwei, ok := prices[1]; ok {
			pc.GasPriceGwei = gwei
		} else {
			pc.GasPriceGwei = fallbackGasGwei
		}
	} else {
		logging.L(ctx).Warn("gas prices unavailable", "error", err)
	}

	if yields, err := p.idx.GetYieldOpportunities(ctx, nil); err == nil {
		pc.YieldOpportunities = indexer.FilterYield(yields)
	} else {
		logging.L(ctx).Warn("yield listings unavailable", "error", err)
	}
	return pc
}

// deriveAction turns a decision into a concrete bounded transfer.
func (p *Pipeline) deriveAction(dec *decision.Decision, pc decision.PortfolioContext) plannedAction {
	bound := pc.PortfolioValue * plannedActionShare
	if ceiling := p.controller.GetConfig().MaxAmountPerAction; bound > ceiling {
		bound = ceiling
	}

	switch dec.Action {
	case decision.ActionRebalance:
		return rebalanceTransfer(dec.Rebalance)
	case decision.ActionYield:
		opp := dec.Yield.Opportunity
		return plannedAction{
			Type:    string(decision.ActionYield),
			Amount:  bound,
			ToChain: opp.ChainID,
			Token:   opp.Token,
		}
	default:
		return plannedAction{
			Type:      string(decision.ActionBridge),
			Amount:    bound,
			FromChain: 1,
			Token:     "USDC",
		}
	}
}

// rebalanceTransfer picks the single largest move in the plan: from the
// chain with the biggest surplus to the one with the biggest deficit.
func rebalanceTransfer(params *decision.RebalanceParams) plannedAction {
	action := plannedAction{Type: string(decision.ActionRebalance), Token: "USDC"}
	if params == nil {
		return action
	}
	var surplus, deficit float64
	for _, target := range params.TargetDistribution {
		diff := target.Current - target.Target
		if diff > surplus {
			surplus = diff
			action.FromChain = target.Chain
		}
		if -diff > deficit {
			deficit = -diff
			action.ToChain = target.Chain
		}
	}
	action.Amount = surplus
	if deficit < surplus {
		action.Amount = deficit
	}
	return action
}

func (a plannedAction) targetChain() int64 {
	if a.ToChain > 0 {
		return a.ToChain
	}
	return a.FromChain
}

// settle runs the cross-chain leg: simulate, intent approval, execution.
func (p *Pipeline) settle(ctx context.Context, identity string, action plannedAction) (string, string, error) {
	sim, err := p.settlement.Simulate(ctx, settlement.SimulationRequest{
		FromChain: action.FromChain,
		ToChain:   action.ToChain,
		Token:     action.Token,
		Amount:    strconv.FormatFloat(action.Amount, 'f', -1, 64),
	})
	if err != nil {
		return "", "", fmt.Errorf("simulate: %w", err)
	}
	intent, err := p.settlement.CreateIntent(ctx, identity, *sim)
	if err != nil {
		if intent != nil {
			return intent.ID, "", err
		}
		return "", "", err
	}
	txHash, err := p.settlement.ExecuteBridge(ctx, intent.ID)
	if err != nil {
		return intent.ID, "", err
	}
	return intent.ID, txHash, nil
}

func (p *Pipeline) record(action plannedAction, success bool, start time.Time) {
	p.controller.RecordAction(automation.Action{
		Type:    action.Type,
		Amount:  action.Amount,
		ChainID: action.targetChain(),
	}, success, p.now().Sub(start))
}

func (p *Pipeline) abort(stage string, dec *decision.Decision, assessment *risk.Assessment, msg string) *Result {
	metrics.PipelineStageFailuresTotal.WithLabelValues(stage).Inc()
	return &Result{Success: false, Outcome: OutcomeAborted, Decision: dec, Risk: assessment, Error: msg}
}

func (p *Pipeline) fail(stage string, dec *decision.Decision, assessment *risk.Assessment, err error) *Result {
	metrics.PipelineStageFailuresTotal.WithLabelValues(stage).Inc()
	return &Result{
		Success:  false,
		Outcome:  OutcomeFailed,
		Decision: dec,
		Risk:     assessment,
		Error:    fmt.Sprintf("%s: %s", stage, validation.SanitizeReason(err.Error())),
	}
}

// signingPayload serializes the action and returns the keccak digest the
// signing service signs over.
func signingPayload(action plannedAction, ts int64) (string, error) {
	raw, err := json.Marshal(struct {
		Type      string  `json:"type"`
		Amount    float64 `json:"amount"`
		FromChain int64   `json:"fromChain,omitempty"`
		ToChain   int64   `json:"toChain,omitempty"`
		Token     string  `json:"token"`
		Timestamp int64   `json:"timestamp"`
	}{action.Type, action.Amount, action.FromChain, action.ToChain, action.Token, ts})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return crypto.Keccak256Hash(raw).Hex(), nil
}

