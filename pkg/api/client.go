// Package api is the client of the remote notes-bot service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"meetbot/pkg/fault"
	"meetbot/pkg/logger"
)

const maxResponseBytes = 1 << 20

var (
	// ErrUnauthorized marks a 401 response.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound marks a 404 response.
	ErrNotFound = errors.New("not found")
)

// HTTPError is a non-2xx response. Message is the server-provided text, if any.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// ServerMessage returns the message the server attached to a failed
// response, or "" when there is none.
func ServerMessage(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Message
	}
	return ""
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.Component(log, "api"),
	}
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login/", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup/", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Profile(ctx context.Context, token string) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/auth/getmydetails/", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BotStatusByURL(ctx context.Context, token, meetingURL string) (*BotStatus, error) {
	var out BotStatus
	if err := c.do(ctx, http.MethodPost, "/bots/status-by-url/", token, meetingRequest{MeetingURL: meetingURL}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartBot(ctx context.Context, token string, req StartBotRequest) (*StartBotResponse, error) {
	if req.ParticipantEmails == nil {
		req.ParticipantEmails = []string{}
	}

	var out StartBotResponse
	if err := c.do(ctx, http.MethodPost, "/bots/start/", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StopBot(ctx context.Context, token, meetingURL string) error {
	return c.do(ctx, http.MethodPost, "/bots/stop/", token, meetingRequest{MeetingURL: meetingURL}, nil)
}

// do performs one JSON round trip. Failures come back categorized:
// transport for network errors, auth for 401, domain for everything else.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("API request failed", "method", method, "path", path, "error", err)
		return fault.Wrap(fault.Transport, err, "request "+path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fault.Wrap(fault.Transport, err, "read "+path+" response")
	}

	c.log.Debug("API request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fault.Wrap(fault.Transport, err, "decode "+path+" response")
	}
	return nil
}

func responseError(status int, raw []byte) error {
	httpErr := &HTTPError{StatusCode: status, Message: extractMessage(raw)}

	switch status {
	case http.StatusUnauthorized:
		return fault.Wrap(fault.Auth, errors.Join(ErrUnauthorized, httpErr), httpErr.Message)
	case http.StatusNotFound:
		return fault.Wrap(fault.Domain, errors.Join(ErrNotFound, httpErr), httpErr.Message)
	default:
		return fault.Wrap(fault.Domain, httpErr, httpErr.Message)
	}
}

// extractMessage reads message, then error, then detail from a JSON body.
func extractMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}

	for _, key := range []string{"message", "error", "detail"} {
		if text, ok := body[key].(string); ok && strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}
