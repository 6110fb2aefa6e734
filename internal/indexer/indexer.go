// Package indexer reads portfolio analytics, yield opportunities, and gas
// prices from the chain indexer. It is the agent's only window onto on-chain
// state; every decision and risk assessment starts from data fetched here.
package indexer

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the indexer cannot be reached. Callers are
// expected to degrade (hold, skip a risk factor) rather than propagate it.
var ErrUnavailable = errors.New("indexer: unavailable")

// ChainBalance is the indexed balance on a single chain.
type ChainBalance struct {
	USDValue float64 `json:"usdValue"`
}

// Analytics is the portfolio snapshot for an address.
type Analytics struct {
	TotalValue        float64                 `json:"totalValue"`
	BalancesByChain   map[int64]ChainBalance  `json:"balancesByChain"`
	TotalTransactions int                     `json:"totalTransactions"`
}

// Transfer is a single indexed token transfer touching an address.
type Transfer struct {
	ID          string    `json:"id"`
	ChainID     int64     `json:"chainId"`
	Token       string    `json:"token"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	USDValue    float64   `json:"usdValue"`
	BlockNumber int64     `json:"blockNumber"`
	TxHash      string    `json:"transactionHash"`
	Timestamp   time.Time `json:"timestamp"`
}

// YieldOpportunity is an indexed protocol yield position.
type YieldOpportunity struct {
	ID       string  `json:"id"`
	Protocol string  `json:"protocol"`
	ChainID  int64   `json:"chainId"`
	Token    string  `json:"token"`
	APY      float64 `json:"apy"`
	TVL      float64 `json:"tvl,string"`
	Active   bool    `json:"active"`
}

// Client reads indexed chain data.
type Client interface {
	// GetAnalytics returns the portfolio snapshot for an address.
	GetAnalytics(ctx context.Context, address string) (*Analytics, error)
	// GetYieldOpportunities returns active opportunities on the given chains,
	// filtered to the minimum APY and TVL floors.
	GetYieldOpportunities(ctx context.Context, chainIDs []int64) ([]YieldOpportunity, error)
	// GetGasPrices returns current gas price in gwei per chain.
	GetGasPrices(ctx context.Context) (map[int64]float64, error)
	// GetTransferHistory returns recent transfers sent or received by the
	// address, newest first. A non-positive or out-of-range limit falls back
	// to DefaultTransferLimit.
	GetTransferHistory(ctx context.Context, address string, limit int) ([]Transfer, error)
}

// Transfer history limits.
const (
	DefaultTransferLimit = 100
	MaxTransferLimit     = 1000
)

// Opportunity filters applied client-side regardless of what the indexer
// returns.
const (
	MinYieldAPY = 5.0
	MinYieldTVL = 1_000_000.0
)

// FilterYield drops malformed or below-floor opportunities.
func FilterYield(opps []YieldOpportunity) []YieldOpportunity {
	out := make([]YieldOpportunity, 0, len(opps))
	for _, o := range opps {
		if !o.Active {
			continue
		}
		if o.APY <= MinYieldAPY || o.TVL <= MinYieldTVL {
			continue
		}
		out = append(out, o)
	}
	return out
}

// BestYield returns the highest-APY opportunity, or false if none.
func BestYield(opps []YieldOpportunity) (YieldOpportunity, bool) {
	var best YieldOpportunity
	found := false
	for _, o := range opps {
		if !found || o.APY > best.APY {
			best = o
			found = true
		}
	}
	return best, found
}
