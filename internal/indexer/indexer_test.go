package indexer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFilterYield(t *testing.T) {
	opps := []YieldOpportunity{
		{ID: "a", APY: 8, TVL: 2_000_000, Active: true},
		{ID: "b", APY: 4, TVL: 2_000_000, Active: true},   // APY below floor
		{ID: "c", APY: 12, TVL: 500_000, Active: true},    // TVL below floor
		{ID: "d", APY: 9, TVL: 5_000_000, Active: false},  // inactive
		{ID: "e", APY: 6.5, TVL: 1_500_000, Active: true},
	}
	got := FilterYield(opps)
	if len(got) != 2 {
		t.Fatalf("got %d opportunities, want 2: %+v", len(got), got)
	}
	if got[0].ID != "a" || got[1].ID != "e" {
		t.Errorf("unexpected survivors: %+v", got)
	}
}

func TestBestYield(t *testing.T) {
	if _, ok := BestYield(nil); ok {
		t.Error("expected no best yield for empty input")
	}
	best, ok := BestYield([]YieldOpportunity{
		{ID: "a", APY: 6},
		{ID: "b", APY: 11},
		{ID: "c", APY: 9},
	})
	if !ok || best.ID != "b" {
		t.Errorf("best = %+v ok = %v, want b", best, ok)
	}
}

func TestHTTPClient_GetAnalytics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analytics/0xabc" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalValue": 1000, "balancesByChain": {"1": {"usdValue": 700}, "137": {"usdValue": 300}}, "totalTransactions": 42}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	a, err := c.GetAnalytics(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetAnalytics: %v", err)
	}
	if a.TotalValue != 1000 {
		t.Errorf("totalValue = %v", a.TotalValue)
	}
	if a.BalancesByChain[1].USDValue != 700 {
		t.Errorf("chain 1 balance = %v", a.BalancesByChain[1].USDValue)
	}
}

func TestHTTPClient_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prices": {"1": 25.5, "137": 80}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	c.baseDelay = 0

	prices, err := c.GetGasPrices(context.Background())
	if err != nil {
		t.Fatalf("GetGasPrices: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if prices[1] != 25.5 || prices[137] != 80 {
		t.Errorf("prices = %v", prices)
	}
}

func TestHTTPClient_NoRetryOn404(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	c.baseDelay = 0

	if _, err := c.GetGasPrices(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestHTTPClient_GetTransferHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfers/0xabc" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("limit = %q, want 2", r.URL.Query().Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transfers": [
			{"id": "t2", "chainId": 137, "token": "USDC", "from": "0xabc", "to": "0xdef", "usdValue": 50, "blockNumber": 200, "transactionHash": "0xbb", "timestamp": "2026-08-30T12:00:00Z"},
			{"id": "t1", "chainId": 1, "token": "USDC", "from": "0xdef", "to": "0xabc", "usdValue": 10, "blockNumber": 100, "transactionHash": "0xaa", "timestamp": "2026-08-29T12:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	transfers, err := c.GetTransferHistory(context.Background(), "0xabc", 2)
	if err != nil {
		t.Fatalf("GetTransferHistory: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("got %d transfers, want 2", len(transfers))
	}
	if transfers[0].ID != "t2" || transfers[0].ChainID != 137 || transfers[0].USDValue != 50 {
		t.Errorf("first transfer = %+v", transfers[0])
	}
	if !transfers[0].Timestamp.After(transfers[1].Timestamp) {
		t.Error("expected transfers newest first")
	}
}

func TestHTTPClient_GetTransferHistory_ClampsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %q, want default 100", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transfers": []}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.GetTransferHistory(context.Background(), "0xabc", -5); err != nil {
		t.Fatalf("GetTransferHistory: %v", err)
	}
	if _, err := c.GetTransferHistory(context.Background(), "0xabc", 5000); err != nil {
		t.Fatalf("GetTransferHistory: %v", err)
	}
}
