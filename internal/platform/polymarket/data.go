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
	"github.com/dmelnik/polysync/internal/transport"
)

// DataClient fetches trades from the Polymarket Data API
// ("https://data-api.polymarket.com"), the REST upstream of the sync
// engine. Its offset pagination is known to go stale a few thousand records
// deep, so callers page it through the date-range paginator rather than
// trusting offsets directly.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	policy     transport.Policy
}

// NewDataClient creates a Data API client whose calls run under the given
// retry policy.
func NewDataClient(baseURL string, policy transport.Policy) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: policy,
	}
}

// FetchPage returns one offset page of raw trades for the market, newest
// first. Exhausted transient failures degrade to an empty page per the
// retry policy.
func (c *DataClient) FetchPage(ctx context.Context, conditionID string, limit, offset int) ([]domain.RawTrade, error) {
	params := url.Values{}
	params.Set("market", conditionID)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	op := fmt.Sprintf("data-api trades offset=%d", offset)
	return transport.Do(ctx, c.policy, op, func(ctx context.Context) ([]domain.RawTrade, error) {
		body, err := c.doGet(ctx, "/trades?"+params.Encode())
		if err != nil {
			return nil, err
		}

		var apiTrades []APITrade
		if err := json.Unmarshal(body, &apiTrades); err != nil {
			return nil, fmt.Errorf("polymarket/data: decode trades: %w", err)
		}

		trades := make([]domain.RawTrade, 0, len(apiTrades))
		for i := range apiTrades {
			trades = append(trades, apiTrades[i].ToRawTrade(conditionID))
		}
		return trades, nil
	})
}

func (c *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
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
