package terminal

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mt5-trade-bot-go/internal/config"
)

// BridgeClient talks to the MT5 terminal through its local REST bridge.
// It implements the Client interface.
type BridgeClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure BridgeClient implements the interface
var _ Client = (*BridgeClient)(nil)

// NewBridgeClient creates a new client for the MT5 REST bridge.
func NewBridgeClient(cfg *config.Terminal, logger *zap.Logger) *BridgeClient {
	client := resty.New().
		SetBaseURL(cfg.BridgeURL).
		SetTimeout(cfg.Timeout)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	logger.Info("Using MT5 bridge", zap.String("url", cfg.BridgeURL))

	return &BridgeClient{
		client:  client,
		logger:  logger,
		limiter: limiter,
	}
}

// doOnce executes a request exactly once. Session lifecycle calls use it so
// that retry policy stays with the connection manager, which owns attempt
// pacing for the terminal session.
func (c *BridgeClient) doOnce(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
	resp, err := req.SetContext(ctx).Execute(method, url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
	}
	return resp, nil
}

// doRequest handles data request execution with rate limiting and retry logic.
func (c *BridgeClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Bridge or terminal errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// Initialize starts the terminal session on the bridge side.
func (c *BridgeClient) Initialize(ctx context.Context) error {
	req := c.client.R()

	if _, err := c.doOnce(ctx, "POST", "/initialize", req); err != nil {
		return fmt.Errorf("failed to initialize terminal: %w", err)
	}
	return nil
}

// Login authenticates the terminal session against the broker server.
func (c *BridgeClient) Login(ctx context.Context, account int64, password, server string) error {
	body := map[string]interface{}{
		"login":    account,
		"password": password,
		"server":   server,
	}
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	if _, err := c.doOnce(ctx, "POST", "/login", req); err != nil {
		return fmt.Errorf("failed to login to account %d: %w", account, err)
	}
	return nil
}

// Shutdown releases the terminal session. It is safe to call when no session
// is established.
func (c *BridgeClient) Shutdown(ctx context.Context) error {
	req := c.client.R()

	if _, err := c.doOnce(ctx, "POST", "/shutdown", req); err != nil {
		return fmt.Errorf("failed to shutdown terminal: %w", err)
	}
	return nil
}

// AccountInfo fetches the current account state.
func (c *BridgeClient) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	req := c.client.R().
		SetResult(&AccountInfo{})

	resp, err := c.doRequest(ctx, "GET", "/account_info", req)
	if err != nil {
		c.logger.Error("Failed to get account info", zap.Error(err))
		return nil, fmt.Errorf("failed to get account info: %w", err)
	}

	return resp.Result().(*AccountInfo), nil
}

// SymbolTick fetches the latest quote for a symbol.
func (c *BridgeClient) SymbolTick(ctx context.Context, symbol string) (*Tick, error) {
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&Tick{})

	resp, err := c.doRequest(ctx, "GET", "/symbol_info_tick", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get tick for %s: %w", symbol, err)
	}

	return resp.Result().(*Tick), nil
}

// CopyRatesFromPos fetches count bars for a symbol counting back from the
// given position, where position 0 is the current (still forming) bar. The
// bridge returns bars oldest first.
func (c *BridgeClient) CopyRatesFromPos(ctx context.Context, symbol string, timeframe Timeframe, start, count int) ([]Rate, error) {
	var rates []Rate

	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":    symbol,
			"timeframe": string(timeframe),
			"start_pos": strconv.Itoa(start),
			"count":     strconv.Itoa(count),
		}).
		SetResult(&rates)

	resp, err := c.doRequest(ctx, "GET", "/copy_rates_from_pos", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get rates for %s %s: %w", symbol, timeframe, err)
	}

	return *resp.Result().(*[]Rate), nil
}
