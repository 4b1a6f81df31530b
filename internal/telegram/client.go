package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mt5-trade-bot-go/internal/config"
)

// The Bot API allows roughly thirty messages per second across all chats.
const (
	sendRate  = 25
	sendBurst = 5
)

// apiResponse is the envelope every Bot API method answers with.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// Client is a minimal Telegram Bot API client covering the calls the
// control bot needs. It implements the API interface.
type Client struct {
	client      *resty.Client
	logger      *zap.Logger
	limiter     *rate.Limiter
	pollTimeout time.Duration
}

// ensure Client implements the interface
var _ API = (*Client)(nil)

// NewClient creates a Bot API client for the given token.
func NewClient(cfg *config.Telegram, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.APIURL + "/bot" + cfg.Token).
		// The HTTP timeout must outlast a full long poll cycle.
		SetTimeout(cfg.PollTimeout + 10*time.Second)

	return &Client{
		client:      client,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(sendRate), sendBurst),
		pollTimeout: cfg.PollTimeout,
	}
}

// call posts one Bot API method and decodes the result envelope into out.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetResult(&apiResponse{}).
		SetError(&apiResponse{})
	if params != nil {
		req.SetBody(params)
	}

	c.logger.Debug("Calling Telegram API", zap.String("api_method", method))
	resp, err := req.Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram call '%s' failed: %w", method, err)
	}

	env, ok := resp.Result().(*apiResponse)
	if resp.IsError() {
		env, ok = resp.Error().(*apiResponse)
	}
	if !ok || !env.OK {
		if ok && env.Description != "" {
			return fmt.Errorf("telegram call '%s' rejected: %s (code %d)", method, env.Description, env.ErrorCode)
		}
		return fmt.Errorf("telegram call '%s' failed with status %s", method, resp.Status())
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram call '%s' returned unreadable result: %w", method, err)
		}
	}
	return nil
}

// GetMe identifies the bot account behind the token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.call(ctx, "getMe", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUpdates long-polls for new messages starting at offset. The request
// blocks on the Telegram side for up to the configured poll timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := map[string]interface{}{
		"offset":          offset,
		"timeout":         int(c.pollTimeout / time.Second),
		"allowed_updates": []string{"message"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage delivers an HTML-formatted message, optionally swapping in a
// reply keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *ReplyKeyboardMarkup) error {
	params := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}
	return c.call(ctx, "sendMessage", params, nil)
}
