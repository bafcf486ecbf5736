// Package polymarket provides clients for the Polymarket Gamma and Data
// HTTP APIs.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dmelnik/polysync/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, used here for
// market metadata: resolving a user-supplied market reference to a
// conditionId and looking up the market start date that seeds the sync
// cursor.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetMarket returns a single market by its numeric Gamma id.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(id))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}

	return apiMarket.ToDomainMarket(), nil
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}

	return apiMarkets[0].ToDomainMarket(), nil
}

// GetMarketByConditionID returns the market carrying the given conditionId.
func (g *GammaClient) GetMarketByConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by condition %s: %w", conditionID, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: condition=%s", domain.ErrNotFound, conditionID)
	}

	return apiMarkets[0].ToDomainMarket(), nil
}

// ResolveConditionID turns a user-supplied market reference into a
// conditionId. A "0x"-prefixed reference is already one; a numeric reference
// is resolved through the market endpoint; anything else is treated as a
// slug. When resolution fails the reference is returned as-is so a sync can
// still be attempted against it.
func (g *GammaClient) ResolveConditionID(ctx context.Context, ref string) (string, error) {
	if len(ref) > 2 && ref[:2] == "0x" {
		return ref, nil
	}

	if _, err := strconv.ParseInt(ref, 10, 64); err == nil {
		market, err := g.GetMarket(ctx, ref)
		if err != nil {
			return ref, fmt.Errorf("polymarket/gamma: resolve condition id for %s: %w", ref, err)
		}
		return market.ConditionID, nil
	}

	market, err := g.GetMarketBySlug(ctx, ref)
	if err != nil {
		return ref, fmt.Errorf("polymarket/gamma: resolve condition id for %s: %w", ref, err)
	}
	return market.ConditionID, nil
}

// StartTimestamp implements domain.MarketStartResolver by looking up the
// market's reported start date. It returns domain.ErrNotFound (wrapped) when
// the API knows no start date for the market.
func (g *GammaClient) StartTimestamp(ctx context.Context, conditionID string) (int64, error) {
	market, err := g.GetMarketByConditionID(ctx, conditionID)
	if err != nil {
		return 0, err
	}
	if market.StartDate == 0 {
		return 0, fmt.Errorf("polymarket/gamma: %w: no start date for %s", domain.ErrNotFound, conditionID)
	}
	return market.StartDate, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.MarketStartResolver = (*GammaClient)(nil)
