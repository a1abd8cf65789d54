package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPO PUSH CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Expo accepts at most this many messages per request.
const expoChunkSize = 100

// ExpoConfig contains configuration for the Expo push client.
type ExpoConfig struct {
	// BaseURL is the Expo push API base URL (default: https://exp.host).
	BaseURL string

	// AccessToken authenticates against the push API. Optional.
	AccessToken string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultExpoConfig returns sensible defaults.
func DefaultExpoConfig() ExpoConfig {
	return ExpoConfig{
		BaseURL: "https://exp.host",
		Timeout: 30 * time.Second,
	}
}

// ExpoClient sends push notifications through the Expo push service.
type ExpoClient struct {
	config     ExpoConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExpoClient creates a new Expo push client.
func NewExpoClient(config ExpoConfig) *ExpoClient {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://exp.host"
	}

	return &ExpoClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger,
	}
}

// expoMessage is one message in the push API wire format.
type expoMessage struct {
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// expoResponse is the push API response envelope.
type expoResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// IsValidToken reports whether the token has the Expo push token shape.
// Devices that registered through other channels produce tokens the push
// service rejects wholesale, so they are filtered before sending.
func IsValidToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") && strings.HasSuffix(token, "]")
}

// Push implements Pusher. Invalid tokens are dropped, the rest is sent in
// chunks of at most 100 messages. A failed chunk is logged and does not
// abort the remaining chunks.
func (c *ExpoClient) Push(ctx context.Context, notifications []Notification) error {
	messages := make([]expoMessage, 0, len(notifications))
	for _, n := range notifications {
		if !IsValidToken(n.Token) {
			c.logger.Debug("dropping push with invalid token")
			continue
		}
		msg := expoMessage{
			To:    n.Token,
			Title: n.Title,
			Body:  n.Body,
			Sound: "default",
		}
		if n.ConversationID != "" {
			msg.Data = map[string]string{"conversation_id": n.ConversationID}
		}
		messages = append(messages, msg)
	}

	if len(messages) == 0 {
		return nil
	}

	var lastErr error
	for start := 0; start < len(messages); start += expoChunkSize {
		end := start + expoChunkSize
		if end > len(messages) {
			end = len(messages)
		}
		if err := c.sendChunk(ctx, messages[start:end]); err != nil {
			c.logger.Error("push chunk failed", "size", end-start, "error", err)
			lastErr = err
		}
	}

	return lastErr
}

// sendChunk sends one batch to the push API.
func (c *ExpoClient) sendChunk(ctx context.Context, chunk []expoMessage) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	url := c.config.BaseURL + "/--/api/v2/push/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push api status %d: %s", resp.StatusCode, string(body))
	}

	var decoded expoResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if len(decoded.Errors) > 0 {
		return fmt.Errorf("push api error %s: %s", decoded.Errors[0].Code, decoded.Errors[0].Message)
	}

	for _, ticket := range decoded.Data {
		if ticket.Status != "ok" {
			c.logger.Warn("push ticket rejected", "status", ticket.Status, "message", ticket.Message)
		}
	}

	return nil
}
