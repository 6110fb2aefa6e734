package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/retry"
)

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient talks to the indexer's REST API.
type HTTPClient struct {
	baseURL     string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

// NewHTTPClient creates an indexer client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
	}
}

func (c *HTTPClient) GetAnalytics(ctx context.Context, address string) (*Analytics, error) {
	var out Analytics
	path := "/v1/analytics/" + url.PathEscape(address)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	if out.BalancesByChain == nil {
		out.BalancesByChain = map[int64]ChainBalance{}
	}
	return &out, nil
}

func (c *HTTPClient) GetYieldOpportunities(ctx context.Context, chainIDs []int64) ([]YieldOpportunity, error) {
	ids := make([]string, 0, len(chainIDs))
	for _, id := range chainIDs {
		if id <= 0 {
			continue
		}
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var out struct {
		Opportunities []YieldOpportunity `json:"opportunities"`
	}
	path := "/v1/yield?chains=" + strings.Join(ids, ",")
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return FilterYield(out.Opportunities), nil
}

func (c *HTTPClient) GetGasPrices(ctx context.Context) (map[int64]float64, error) {
	var out struct {
		Prices map[string]float64 `json:"prices"` // chain ID -> gwei
	}
	if err := c.getJSON(ctx, "/v1/gas", &out); err != nil {
		return nil, err
	}

	prices := make(map[int64]float64, len(out.Prices))
	for k, v := range out.Prices {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id <= 0 || v < 0 {
			continue
		}
		prices[id] = v
	}
	return prices, nil
}

func (c *HTTPClient) GetTransferHistory(ctx context.Context, address string, limit int) ([]Transfer, error) {
	if limit <= 0 || limit > MaxTransferLimit {
		limit = DefaultTransferLimit
	}

	var out struct {
		Transfers []Transfer `json:"transfers"`
	}
	path := "/v1/transfers/" + url.PathEscape(address) + "?limit=" + strconv.Itoa(limit)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Transfers, nil
}

// getJSON fetches path with retries on transport errors and 5xx responses.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, c.maxAttempts, c.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		default:
			return retry.Permanent(fmt.Errorf("indexer: status %d for %s", resp.StatusCode, path))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("indexer: decode %s: %w", path, err))
		}
		return nil
	})
}
