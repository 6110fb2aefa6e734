// Package decision turns a portfolio observation into a proposed action.
//
// The engine evaluates a fixed ladder of policies, first match wins:
// cross-chain rebalance, yield capture, cheap-gas bridge, hold. It never
// propagates upstream data failures; a failed fetch degrades to a hold with
// reduced confidence so the caller keeps its cadence.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jayasurya0007/prism-wallet/internal/indexer"
	"github.com/jayasurya0007/prism-wallet/internal/logging"
)

// Action names a decision outcome.
type Action string

const (
	ActionBridge    Action = "bridge"
	ActionYield     Action = "yield"
	ActionRebalance Action = "rebalance"
	ActionHold      Action = "hold"
)

// Ladder thresholds.
const (
	imbalanceThreshold  = 0.5  // (max-min)/max across chain balances
	rebalanceConfidence = 0.85
	yieldAPYFloor       = 5.0
	yieldConfidence     = 0.75
	lowGasGwei          = 20.0
	bridgeConfidence    = 0.65
	holdConfidence      = 0.9
	degradedConfidence  = 0.5
)

// ChainTarget is one leg of a rebalance distribution.
type ChainTarget struct {
	Chain   int64   `json:"chain"`
	Target  float64 `json:"target"`  // USD value the chain should hold
	Current float64 `json:"current"` // USD value it holds now
}

// RebalanceParams equal-splits total value across active chains.
type RebalanceParams struct {
	TargetDistribution []ChainTarget `json:"targetDistribution"`
}

// YieldParams carries the chosen opportunity.
type YieldParams struct {
	Opportunity indexer.YieldOpportunity `json:"opportunity"`
}

// BridgeParams records the gas price that triggered the bridge.
type BridgeParams struct {
	GasPriceGwei float64 `json:"gasPrice"`
}

// Decision is the engine's proposed action.
type Decision struct {
	Action     Action           `json:"action"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
	Rebalance  *RebalanceParams `json:"rebalanceParams,omitempty"`
	Yield      *YieldParams     `json:"yieldParams,omitempty"`
	Bridge     *BridgeParams    `json:"bridgeParams,omitempty"`
}

// PortfolioContext carries the observation inputs the engine evaluates.
type PortfolioContext struct {
	PortfolioValue     float64                    `json:"portfolioValue"`
	GasPriceGwei       float64                    `json:"gasPrice"`
	YieldOpportunities []indexer.YieldOpportunity `json:"yieldOpportunities"`
}

// Engine evaluates the decision ladder.
type Engine struct {
	idx indexer.Client
}

// NewEngine creates an engine reading analytics from the given indexer.
func NewEngine(idx indexer.Client) *Engine {
	return &Engine{idx: idx}
}

// AnalyzePortfolio evaluates the ladder for an address. Upstream fetch
// failures return a hold decision, not an error.
func (e *Engine) AnalyzePortfolio(ctx context.Context, address string, pc PortfolioContext) (*Decision, error) {
	if address == "" {
		return nil, fmt.Errorf("decision: address required")
	}

	analytics, err := e.idx.GetAnalytics(ctx, address)
	if err != nil {
		logging.L(ctx).Warn("analytics fetch failed, holding", slog.String("error", err.Error()))
		return &Decision{
			Action:     ActionHold,
			Confidence: degradedConfidence,
			Reasoning:  "Analysis failed - holding position",
		}, nil
	}

	if params, ok := rebalanceNeeded(analytics); ok {
		return &Decision{
			Action:     ActionRebalance,
			Confidence: rebalanceConfidence,
			Reasoning:  "Portfolio imbalance detected across chains",
			Rebalance:  params,
		}, nil
	}

	if best, ok := indexer.BestYield(pc.YieldOpportunities); ok && best.APY > yieldAPYFloor {
		return &Decision{
			Action:     ActionYield,
			Confidence: yieldConfidence,
			Reasoning:  fmt.Sprintf("High yield opportunity: %.1f%% APY", best.APY),
			Yield:      &YieldParams{Opportunity: best},
		}, nil
	}

	if pc.GasPriceGwei > 0 && pc.GasPriceGwei < lowGasGwei {
		return &Decision{
			Action:     ActionBridge,
			Confidence: bridgeConfidence,
			Reasoning:  "Low gas prices - optimal for cross-chain operations",
			Bridge:     &BridgeParams{GasPriceGwei: pc.GasPriceGwei},
		}, nil
	}

	return &Decision{
		Action:     ActionHold,
		Confidence: holdConfidence,
		Reasoning:  "No optimization opportunities detected",
	}, nil
}

// rebalanceNeeded reports whether the balance spread across chains exceeds the
// imbalance threshold, and returns the equal-split target distribution.
func rebalanceNeeded(analytics *indexer.Analytics) (*RebalanceParams, bool) {
	if len(analytics.BalancesByChain) < 2 || analytics.TotalValue <= 0 {
		return nil, false
	}

	var max, min float64
	first := true
	for _, b := range analytics.BalancesByChain {
		if first {
			max, min = b.USDValue, b.USDValue
			first = false
			continue
		}
		if b.USDValue > max {
			max = b.USDValue
		}
		if b.USDValue < min {
			min = b.USDValue
		}
	}
	if max == 0 || (max-min)/max <= imbalanceThreshold {
		return nil, false
	}

	target := analytics.TotalValue / float64(len(analytics.BalancesByChain))
	dist := make([]ChainTarget, 0, len(analytics.BalancesByChain))
	for chain, b := range analytics.BalancesByChain {
		dist = append(dist, ChainTarget{Chain: chain, Target: target, Current: b.USDValue})
	}
	sort.Slice(dist, func(i, j int) bool { return dist[i].Chain < dist[j].Chain })
	return &RebalanceParams{TargetDistribution: dist}, true
}
