// Package subgraph is a GraphQL client for The Graph orderbook subgraph,
// the indexer upstream of the sync engine.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmelnik/polysync/internal/domain"
	"github.com/dmelnik/polysync/internal/transport"
)

// tradesQuery pages a market's trades newest-first with skip/first
// pagination.
const tradesQuery = `
	query GetTrades($marketId: String!, $first: Int!, $skip: Int!) {
		trades(
			first: $first
			skip: $skip
			where: { market: $marketId }
			orderBy: timestamp
			orderDirection: desc
		) {
			id
			market { id }
			outcomeIndex
			price
			amount
			timestamp
			user { id }
			side
		}
	}
`

// Client queries the subgraph gateway.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
	policy     transport.Policy
}

// NewClient creates a subgraph client whose queries run under the given
// retry policy.
//
// graphqlURL is the gateway endpoint, e.g.
// "https://gateway.thegraph.com/api/<key>/subgraphs/id/<subgraph>".
func NewClient(graphqlURL, apiKey string, policy transport.Policy) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: policy,
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// apiTrade mirrors one element of the subgraph trades response. Numeric
// fields arrive as strings.
type apiTrade struct {
	ID     string `json:"id"`
	Market struct {
		ID string `json:"id"`
	} `json:"market"`
	OutcomeIndex string `json:"outcomeIndex"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	Timestamp    string `json:"timestamp"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
	Side string `json:"side"`
}

// FetchPage returns one skip-offset page of raw trades for the market,
// newest first. An unavailable indexer or a permanently missing schema
// degrades to an empty page after the retry budget, per the policy.
func (c *Client) FetchPage(ctx context.Context, conditionID string, limit, offset int) ([]domain.RawTrade, error) {
	variables := map[string]any{
		"marketId": conditionID,
		"first":    limit,
		"skip":     offset,
	}

	op := fmt.Sprintf("subgraph trades skip=%d", offset)
	return transport.Do(ctx, c.policy, op, func(ctx context.Context) ([]domain.RawTrade, error) {
		respData, err := c.doQuery(ctx, tradesQuery, variables)
		if err != nil {
			return nil, fmt.Errorf("subgraph: fetch trades: %w", err)
		}

		var result struct {
			Trades []apiTrade `json:"trades"`
		}
		if err := json.Unmarshal(respData, &result); err != nil {
			return nil, fmt.Errorf("subgraph: decode trades: %w", err)
		}

		trades := make([]domain.RawTrade, 0, len(result.Trades))
		for i := range result.Trades {
			trades = append(trades, result.Trades[i].toRawTrade(conditionID))
		}
		return trades, nil
	})
}

func (t *apiTrade) toRawTrade(conditionID string) domain.RawTrade {
	ts, _ := strconv.ParseInt(t.Timestamp, 10, 64)
	price, _ := strconv.ParseFloat(t.Price, 64)
	amount, _ := strconv.ParseFloat(t.Amount, 64)

	market := t.Market.ID
	if market == "" {
		market = conditionID
	}

	return domain.RawTrade{
		Timestamp:     ts,
		Price:         price,
		Size:          amount,
		TraderAddress: t.User.ID,
		MarketID:      market,
		Side:          t.Side,
	}
}

// doQuery executes a GraphQL query and returns the raw "data" field.
// GraphQL-level errors are mapped to the sentinel errors the retry policy
// classifies on.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, classifyGraphQLError(gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}

// classifyGraphQLError wraps a GraphQL error message in the sentinel that
// matches its failure mode. The message strings come from observed gateway
// behavior: indexer health complaints are transient, missing fields mean
// the schema no longer matches the query.
func classifyGraphQLError(message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "bad indexers"),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "too far behind"):
		return fmt.Errorf("%w: %s", domain.ErrIndexerUnavailable, message)
	case strings.Contains(lower, "no field"),
		strings.Contains(lower, "unknown field"):
		return fmt.Errorf("%w: %s", domain.ErrSchemaMismatch, message)
	default:
		return fmt.Errorf("graphql error: %s", message)
	}
}
