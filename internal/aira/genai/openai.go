package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ai-code-co/aira/common/redact"
	"github.com/ai-code-co/aira/common/retry"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4.1-mini"
	defaultTimeout = 60 * time.Second
)

// Config configures the OpenAI-compatible generation client.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for local models or any
	// other compatible endpoint. Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model is the default model used when a Request carries none.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 60 s. A slow backend
	// can hold a session's turn for at most this long; other sessions are
	// unaffected because each turn runs on its own goroutine.
	Timeout time.Duration
}

// Client implements Generator against the OpenAI Responses API. It is
// constructed once from configuration and shared across all sessions;
// the zero-state *http.Client inside is safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient returns a Generator backed by the OpenAI (or compatible)
// Responses API.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal Responses API wire types ---

type responsesRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// transientError marks a failure worth one retry (network fault, HTTP 429,
// HTTP 5xx). Terminal API errors (bad request, auth) are not retried.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// retryPolicy bounds reply-path latency: a single retry with a short
// backoff, nothing more.
var retryPolicy = retry.Config{
	MaxAttempts:  2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	ShouldRetry: func(err error) bool {
		var te *transientError
		return errors.As(err, &te)
	},
}

// Generate sends the prompt to the backend and returns the extracted reply
// text. All failures are returned as *Error; malformed but delivered
// payloads are not failures — they flow through the extraction fallback
// chain instead.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	var body []byte
	err := retry.Do(ctx, retryPolicy, func() error {
		var attemptErr error
		body, attemptErr = c.do(ctx, responsesRequest{Model: model, Input: req.Input})
		return attemptErr
	})
	if err != nil {
		return nil, &Error{Cause: err}
	}

	return &Result{Text: ExtractText(body)}, nil
}

// do performs one HTTP round trip and returns the raw response body.
func (c *Client) do(ctx context.Context, wireReq responsesRequest) ([]byte, error) {
	data, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("genai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/responses",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("genai: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("genai: http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("genai: read response body: %w", err)}
	}

	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode)
		}
		// Upstream error text ends up in logs and client-visible error
		// frames; it must never echo the credential back.
		apiErr := fmt.Errorf("genai: API error (HTTP %d): %s", resp.StatusCode, redact.String(msg, c.cfg.APIKey))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &transientError{err: apiErr}
		}
		return nil, apiErr
	}

	return body, nil
}

// Compile-time interface satisfaction check.
var _ Generator = (*Client)(nil)
