// Package risk scores proposed agent actions before they reach the signer.
//
// Each assessment computes independent risk factors from indexed chain data.
// A factor whose inputs cannot be fetched is dropped rather than failing the
// assessment; the score degrades gracefully. A critical level is an
// unconditional abort signal for the pipeline.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jayasurya0007/prism-wallet/internal/indexer"
	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
)

// Level is the categorical risk rating derived from the score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Factor severities and thresholds.
const (
	highGasGwei         = 100.0
	gasSeverity         = 0.7
	largeAmountPct      = 50.0
	largeAmountSeverity = 0.9
	bigAmountPct        = 25.0
	bigAmountSeverity   = 0.6
	chainSeverity       = 0.5
	concentrationPct    = 70.0
	concentrationSev    = 0.8
)

// experimentalChains are newer or testnet chains that carry extra risk.
var experimentalChains = map[int64]bool{
	534351: true, // Scroll Sepolia
	50104:  true, // Sophon
	1014:   true, // Monad testnet
}

// Action is the proposed operation under assessment.
type Action struct {
	Type    string  `json:"type"`
	Amount  float64 `json:"amount"`  // USD
	ChainID int64   `json:"chainId"` // source chain
	ToChain int64   `json:"toChain,omitempty"`
	Token   string  `json:"token,omitempty"`
}

// targetChain is the chain whose balance the action increases.
func (a Action) targetChain() int64 {
	if a.ToChain > 0 {
		return a.ToChain
	}
	return a.ChainID
}

// Context carries the portfolio state the assessment runs against.
type Context struct {
	Address        string  `json:"address"`
	PortfolioValue float64 `json:"portfolioValue"`
}

// Factor is one independent risk signal.
type Factor struct {
	Type        string  `json:"type"`
	Severity    float64 `json:"severity"`
	Description string  `json:"description"`
}

// Assessment is the scored result.
type Assessment struct {
	Level          Level    `json:"level"`
	Score          float64  `json:"score"`
	Factors        []Factor `json:"factors"`
	Recommendation string   `json:"recommendation"`
}

// Assessor computes risk assessments from indexed chain data.
type Assessor struct {
	idx indexer.Client
}

// NewAssessor creates an assessor reading from the given indexer client.
func NewAssessor(idx indexer.Client) *Assessor {
	return &Assessor{idx: idx}
}

// AssessAction scores an action. Factor computations that fail are logged and
// omitted; the call itself only errors on invalid input.
func (a *Assessor) AssessAction(ctx context.Context, action Action, rc Context) (*Assessment, error) {
	if action.Type == "" {
		return nil, fmt.Errorf("risk: action type required")
	}

	factors := make([]Factor, 0, 4)

	if action.ChainID > 0 {
		if f := a.assessGas(ctx, action.ChainID); f != nil {
			factors = append(factors, *f)
		}
	}
	if action.Amount > 0 && rc.PortfolioValue > 0 {
		if f := assessAmount(action.Amount, rc.PortfolioValue); f != nil {
			factors = append(factors, *f)
		}
	}
	if action.ChainID > 0 {
		if f := assessChain(action.ChainID); f != nil {
			factors = append(factors, *f)
		}
	}
	if rc.Address != "" {
		if f := a.assessConcentration(ctx, action, rc.Address); f != nil {
			factors = append(factors, *f)
		}
	}

	score := scoreFactors(factors)
	level := levelFor(score)
	metrics.RiskAssessmentsTotal.WithLabelValues(string(level)).Inc()

	return &Assessment{
		Level:          level,
		Score:          score,
		Factors:        factors,
		Recommendation: recommendation(level),
	}, nil
}

func (a *Assessor) assessGas(ctx context.Context, chainID int64) *Factor {
	prices, err := a.idx.GetGasPrices(ctx)
	if err != nil {
		logging.L(ctx).Warn("gas risk check skipped", slog.String("error", err.Error()))
		return nil
	}
	gwei, ok := prices[chainID]
	if !ok {
		return nil
	}
	if gwei > highGasGwei {
		return &Factor{
			Type:        "gas",
			Severity:    gasSeverity,
			Description: fmt.Sprintf("High gas price: %.0f gwei", gwei),
		}
	}
	return nil
}

func assessAmount(amount, portfolioValue float64) *Factor {
	pct := amount / portfolioValue * 100
	if pct > largeAmountPct {
		return &Factor{
			Type:        "amount",
			Severity:    largeAmountSeverity,
			Description: fmt.Sprintf("Large transaction: %.1f%% of portfolio", pct),
		}
	}
	if pct > bigAmountPct {
		return &Factor{
			Type:        "amount",
			Severity:    bigAmountSeverity,
			Description: fmt.Sprintf("Significant transaction: %.1f%% of portfolio", pct),
		}
	}
	return nil
}

func assessChain(chainID int64) *Factor {
	if experimentalChains[chainID] {
		return &Factor{
			Type:        "chain",
			Severity:    chainSeverity,
			Description: "Operating on newer/testnet chain",
		}
	}
	return nil
}

func (a *Assessor) assessConcentration(ctx context.Context, action Action, address string) *Factor {
	analytics, err := a.idx.GetAnalytics(ctx, address)
	if err != nil {
		logging.L(ctx).Warn("concentration risk check skipped", slog.String("error", err.Error()))
		return nil
	}
	if analytics.TotalValue <= 0 {
		return nil
	}
	target := action.targetChain()
	if target <= 0 {
		return nil
	}

	newValue := analytics.BalancesByChain[target].USDValue + action.Amount
	pct := newValue / analytics.TotalValue * 100
	if pct > concentrationPct {
		return &Factor{
			Type:        "concentration",
			Severity:    concentrationSev,
			Description: fmt.Sprintf("High concentration on chain %d: %.1f%%", target, pct),
		}
	}
	return nil
}

// scoreFactors returns the mean severity, 0 when no factors are present.
func scoreFactors(factors []Factor) float64 {
	if len(factors) == 0 {
		return 0
	}
	var total float64
	for _, f := range factors {
		total += f.Severity
	}
	return math.Min(total/float64(len(factors)), 1)
}

func levelFor(score float64) Level {
	switch {
	case score >= 0.8:
		return LevelCritical
	case score >= 0.6:
		return LevelHigh
	case score >= 0.3:
		return LevelMedium
	default:
		return LevelLow
	}
}

func recommendation(level Level) string {
	switch level {
	case LevelCritical:
		return "Action not recommended. Multiple high-risk factors detected."
	case LevelHigh:
		return "Proceed with caution. Consider reducing amount or waiting for better conditions."
	case LevelMedium:
		return "Acceptable risk level. Monitor execution closely."
	default:
		return "Low risk. Safe to proceed."
	}
}
