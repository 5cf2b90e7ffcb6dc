// Package llm talks to an OpenAI-compatible chat completion endpoint and
// keeps the conversation pipeline available across rate limits by rotating
// through an ordered list of API credentials.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultTemperature = 0.7
	maxErrorBodyBytes  = 2048
)

// ErrRateLimited marks a rate-limit-class upstream failure (HTTP 429). It is
// the only error class the invoker rotates credentials on.
var ErrRateLimited = errors.New("rate limited")

// UpstreamError is a non-rate-limit failure of the generation call: an
// unexpected HTTP status, a transport error, or a timeout. Status is zero
// for transport-level failures.
type UpstreamError struct {
	Status int
	Cause  error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream error (HTTP %d): %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("upstream error: %v", e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Client calls a single OpenAI-compatible /chat/completions endpoint. The
// credential is supplied per call so the invoker owns rotation.
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a Client for the given base URL and model. If timeout is
// zero or negative the default (60s) is used.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: timeout,
		// Per-request timeouts come from the context so extraction calls can
		// use a shorter deadline than reply generation.
		httpClient: &http.Client{},
	}
}

// Chat sends a chat completion request using the given credential and returns
// the assistant's reply text.
//
// Error classification: HTTP 429 wraps ErrRateLimited; any other non-2xx
// status or transport failure is an *UpstreamError. Request marshalling
// errors propagate untouched — they are caller bugs, not upstream failures.
func (c *Client) Chat(ctx context.Context, apiKey string, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &UpstreamError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", fmt.Errorf("chat completion: %w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", &UpstreamError{
			Status: resp.StatusCode,
			Cause:  fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &UpstreamError{Status: resp.StatusCode, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &UpstreamError{Status: resp.StatusCode, Cause: errors.New("response contains no choices")}
	}
	return parsed.Choices[0].Message.Content, nil
}
