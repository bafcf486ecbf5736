// Package polygon provides a failover JSON-RPC client for reading CLOB
// trade logs from the Polygon chain. A single client instance is shared by
// all scanner workers; the endpoint rotation state and the rate limiter are
// each guarded by one lock.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dmelnik/polysync/internal/domain"
	"github.com/dmelnik/polysync/internal/ratelimit"
	"github.com/dmelnik/polysync/internal/transport"
)

// ClientConfig holds connection parameters for the chain client.
type ClientConfig struct {
	Endpoints   []string
	RateLimit   float64 // requests per second across all workers
	MaxRetries  int
	RetryDelay  time.Duration
	DialTimeout time.Duration
}

// Client is a Polygon RPC client that rotates through its configured
// endpoint list on connection-class errors. Rotation is transparent to
// callers; exhausting the retry budget surfaces the last error.
type Client struct {
	endpoints  []string
	maxRetries int
	retryDelay time.Duration
	dialTO     time.Duration
	limiter    *ratelimit.Limiter
	logger     *slog.Logger

	mu  sync.Mutex
	idx int
	eth *ethclient.Client
}

// NewClient creates a chain client. It does not dial; the first call
// establishes the connection, so a fully unreachable endpoint list surfaces
// as domain.ErrNoEndpoints from that call.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("polygon: %w: no endpoints configured", domain.ErrNoEndpoints)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	dialTO := cfg.DialTimeout
	if dialTO <= 0 {
		dialTO = 15 * time.Second
	}

	return &Client{
		endpoints:  cfg.Endpoints,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		dialTO:     dialTO,
		limiter:    ratelimit.New(cfg.RateLimit),
		logger:     logger.With(slog.String("component", "polygon")),
	}, nil
}

// BlockNumber returns the current chain head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.do(ctx, "block number", func(ctx context.Context, eth *ethclient.Client) error {
		n, err := eth.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	return head, err
}

// BlockTimestamp returns the unix timestamp of the given block.
func (c *Client) BlockTimestamp(ctx context.Context, block uint64) (int64, error) {
	var ts int64
	op := fmt.Sprintf("header %d", block)
	err := c.do(ctx, op, func(ctx context.Context, eth *ethclient.Client) error {
		header, err := eth.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		ts = int64(header.Time)
		return nil
	})
	return ts, err
}

// FetchLogs returns the raw logs emitted by the contract for the given
// event signature in [from, to], both inclusive.
func (c *Client) FetchLogs(ctx context.Context, contract, eventSignature string, from, to uint64) ([]domain.RawLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{common.HexToAddress(contract)},
		Topics:    [][]common.Hash{{EventTopic(eventSignature)}},
	}

	var raw []domain.RawLog
	op := fmt.Sprintf("logs %d-%d", from, to)
	err := c.do(ctx, op, func(ctx context.Context, eth *ethclient.Client) error {
		logs, err := eth.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		raw = raw[:0]
		for i := range logs {
			topics := make([][]byte, 0, len(logs[i].Topics))
			for _, t := range logs[i].Topics {
				topics = append(topics, t.Bytes())
			}
			raw = append(raw, domain.RawLog{
				BlockNumber: logs[i].BlockNumber,
				TxHash:      logs[i].TxHash.Hex(),
				Index:       logs[i].Index,
				Topics:      topics,
				Data:        logs[i].Data,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Close releases the current connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

// do runs fn with retries. Connection-class errors rotate to the next
// endpoint and retry without backoff; other errors back off exponentially.
// Each attempt consumes one rate limiter grant.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context, *ethclient.Client) error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := range c.maxRetries {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		eth, err := c.client(ctx)
		if err != nil {
			return fmt.Errorf("polygon: %s: %w", op, err)
		}

		err = fn(ctx, eth)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if transport.DefaultClassify(err) == transport.ClassTransport {
			c.logger.Warn("rpc call failed, rotating endpoint",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			c.rotate()
			delay = c.retryDelay
			continue
		}

		if attempt < c.maxRetries-1 {
			c.logger.Warn("rpc call failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", delay),
				slog.String("error", err.Error()),
			)
			if err := transport.Sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}
	}

	return fmt.Errorf("polygon: %s after %d attempts: %w", op, c.maxRetries, lastErr)
}

// client returns the connected ethclient, dialing if needed.
func (c *Client) client(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		return c.eth, nil
	}
	return c.connectLocked(ctx)
}

// connectLocked tries every endpoint starting at the current rotation
// index, probing each with a head block request.
func (c *Client) connectLocked(ctx context.Context) (*ethclient.Client, error) {
	var lastErr error

	for range c.endpoints {
		endpoint := c.endpoints[c.idx]

		dialCtx, cancel := context.WithTimeout(ctx, c.dialTO)
		eth, err := ethclient.DialContext(dialCtx, endpoint)
		if err == nil {
			var head uint64
			head, err = eth.BlockNumber(dialCtx)
			if err == nil {
				cancel()
				c.logger.Info("connected to polygon rpc",
					slog.String("endpoint", endpoint),
					slog.Uint64("head", head),
				)
				c.eth = eth
				return eth, nil
			}
			eth.Close()
		}
		cancel()

		lastErr = err
		c.logger.Warn("failed to connect to polygon rpc",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		c.idx = (c.idx + 1) % len(c.endpoints)
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrNoEndpoints, lastErr)
}

// rotate drops the current connection and advances to the next endpoint.
// The next call re-dials.
func (c *Client) rotate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.idx = (c.idx + 1) % len(c.endpoints)
}
