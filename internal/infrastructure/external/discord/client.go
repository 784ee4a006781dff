// Package discord implements a Discord REST API wrapper.
// The bot only needs a small slice of the API: posting channel messages
// with embeds for level-up announcements and fetching guild metadata.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/application/eventhandler"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
	"github.com/shiva-hub/shiva-voice-hub/pkg/circuitbreaker"
	"github.com/shiva-hub/shiva-voice-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Discord REST client.
type ClientConfig struct {
	// Token is the bot token (sent as "Bot <token>").
	Token string

	// BaseURL is the Discord API base URL (default: https://discord.com/api/v10).
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables debug logging of API calls.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:   token,
		BaseURL: "https://discord.com/api/v10",
		Timeout: 15 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DISCORD API TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Message represents a Discord channel message.
type Message struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord message embed.
type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
}

// Guild represents the subset of guild fields the bot reads.
type Guild struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	AFKChannelID    string `json:"afk_channel_id,omitempty"`
	SystemChannelID string `json:"system_channel_id,omitempty"`
}

// Channel represents a Discord channel.
type Channel struct {
	ID      string `json:"id"`
	Type    int    `json:"type"`
	GuildID string `json:"guild_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Channel types an announcement can be posted to.
const (
	channelTypeGuildText         = 0
	channelTypeGuildAnnouncement = 5
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Discord REST API client. All calls go through a retrier
// with exponential backoff and a circuit breaker so a degraded Discord
// API cannot pile up goroutines behind announcement sends.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a new Discord REST client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://discord.com/api/v10"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	logger := config.Logger

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retrier: retry.DiscordAPIRetrier(),
		breaker: circuitbreaker.DiscordAPIBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		}),
		logger: logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// API OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// CreateMessageParams contains parameters for posting a channel message.
type CreateMessageParams struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID string, params CreateMessageParams) (*Message, error) {
	var message Message
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := c.callAPI(ctx, http.MethodPost, path, params, &message); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &message, nil
}

// GetGuild fetches guild metadata, including the AFK channel.
func (c *Client) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	path := fmt.Sprintf("/guilds/%s", guildID)
	if err := c.callAPI(ctx, http.MethodGet, path, nil, &g); err != nil {
		return nil, fmt.Errorf("get guild: %w", err)
	}
	return &g, nil
}

// GetChannel fetches a single channel.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	path := fmt.Sprintf("/channels/%s", channelID)
	if err := c.callAPI(ctx, http.MethodGet, path, nil, &ch); err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

// ResolveSystemChannel implements the eventhandler.ChannelResolver port:
// it fetches the guild's system channel and verifies a message can actually
// be posted to it (text or announcement channel).
func (c *Client) ResolveSystemChannel(ctx context.Context, guildID shared.GuildID) (shared.ChannelID, error) {
	g, err := c.GetGuild(ctx, guildID.String())
	if err != nil {
		return "", err
	}
	if g.SystemChannelID == "" {
		return "", shared.ErrNoNotifyChannel
	}

	ch, err := c.GetChannel(ctx, g.SystemChannelID)
	if err != nil {
		return "", err
	}
	if ch.Type != channelTypeGuildText && ch.Type != channelTypeGuildAnnouncement {
		return "", fmt.Errorf("%w: system channel %s has type %d", shared.ErrNoNotifyChannel, ch.ID, ch.Type)
	}

	return shared.ChannelID(g.SystemChannelID), nil
}

// GetCurrentUser returns the bot's own user, useful as a health check.
func (c *Client) GetCurrentUser(ctx context.Context) (string, error) {
	var user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := c.callAPI(ctx, http.MethodGet, "/users/@me", nil, &user); err != nil {
		return "", fmt.Errorf("get current user: %w", err)
	}
	return user.ID, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ANNOUNCER IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SendLevelUpAnnouncement implements the eventhandler.Announcer port.
// The announcement is rendered as a single embed with the guild's
// configured color.
func (c *Client) SendLevelUpAnnouncement(ctx context.Context, channelID shared.ChannelID, a eventhandler.Announcement) error {
	embed := Embed{
		Description: a.Message,
		Color:       parseHexColor(a.EmbedColor),
	}

	_, err := c.CreateMessage(ctx, channelID.String(), CreateMessageParams{
		Embeds: []Embed{embed},
	})
	if err != nil {
		// A missing or forbidden channel is a resolution problem the
		// caller can react to, not a delivery failure.
		if IsPermissionDenied(err) || IsUnknownChannel(err) {
			return fmt.Errorf("%w: %w", shared.ErrNoNotifyChannel, err)
		}
		return fmt.Errorf("%w: %w", shared.ErrAnnouncementFailed, err)
	}

	if c.config.Debug {
		c.logger.Debug("level-up announcement sent",
			"channel_id", channelID.String(),
			"user_id", a.UserID.String(),
			"new_level", a.NewLevel,
		)
	}

	return nil
}

// parseHexColor converts "#rrggbb" to the integer form Discord embeds use.
// Unparseable input falls back to 0 (embed renders without a color strip).
func parseHexColor(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0
	}
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

// ══════════════════════════════════════════════════════════════════════════════
// API CALL HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// callAPI makes a call to the Discord API through the breaker and retrier.
// Failures come back wrapped in the shared.ErrDiscordAPI* sentinels so
// callers match on error class instead of transport details.
func (c *Client) callAPI(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	err := c.doResilient(ctx, method, path, body, result)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", shared.ErrDiscordAPITimeout, err)
	case isRateLimited(err):
		return fmt.Errorf("%w: %w", shared.ErrDiscordAPIRateLimited, err)
	default:
		return fmt.Errorf("%w: %w", shared.ErrDiscordAPIFailed, err)
	}
}

func isRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// doResilient runs one API call through the breaker and retrier.
func (c *Client) doResilient(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			err := c.doAPICall(ctx, method, path, body, result)
			if err == nil {
				return nil
			}

			var apiErr *APIError
			if errors.As(err, &apiErr) {
				// Rate limited: honor Retry-After before the next attempt.
				if apiErr.StatusCode == http.StatusTooManyRequests {
					if apiErr.RetryAfter > 0 {
						select {
						case <-ctx.Done():
							return retry.Permanent(ctx.Err())
						case <-time.After(apiErr.RetryAfter):
						}
					}
					return retry.Retryable(err)
				}
				if apiErr.StatusCode >= 500 {
					return retry.Retryable(err)
				}
				// Other 4xx are caller bugs or missing permissions.
				return retry.Permanent(err)
			}

			// Network-level failure.
			return retry.Retryable(err)
		})
	})
}

// doAPICall performs a single API call.
func (c *Client) doAPICall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bot "+c.config.Token)
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.config.Debug {
		c.logger.Debug("discord api call", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents a Discord API error response.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("discord api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// newAPIError builds an APIError from a non-2xx response.
func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	var payload struct {
		Code       int     `json:"code"`
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			apiErr.Message = payload.Message
		}
		apiErr.Code = payload.Code
		if payload.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(payload.RetryAfter * float64(time.Second))
		}
	}

	if apiErr.RetryAfter == 0 {
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.ParseFloat(header, 64); err == nil {
				apiErr.RetryAfter = time.Duration(seconds * float64(time.Second))
			}
		}
	}

	return apiErr
}

// IsPermissionDenied reports whether the error is a missing-permissions response.
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// IsUnknownChannel reports whether the error indicates the channel no longer exists.
func IsUnknownChannel(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	// 10003 is Discord's "Unknown Channel" error code.
	return apiErr.StatusCode == http.StatusNotFound && apiErr.Code == 10003
}
