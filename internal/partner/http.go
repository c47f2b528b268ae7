package partner

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultURL is the partner model endpoint used when none is configured.
const DefaultURL = "http://api.partner.com/model_api"

const maxResponseBytes = 1 << 20

// Client calls the partner model over HTTP.
type Client struct {
	url        string
	timeout    time.Duration
	policy     RetryPolicy
	httpClient *http.Client
	logger     log.Logger
	hooks      Hooks
}

var _ Classifier = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption { return func(cl *Client) { cl.httpClient = c } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) ClientOption { return func(cl *Client) { cl.logger = l } }

// WithHooks sets instrumentation callbacks.
func WithHooks(h Hooks) ClientOption { return func(cl *Client) { cl.hooks = h } }

// NewClient returns a Client posting to url with the given per-attempt
// timeout and retry policy.
func NewClient(url string, timeout time.Duration, policy RetryPolicy, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("partner url is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("partner timeout must be positive, got %s", timeout)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		url:     url,
		timeout: timeout,
		policy:  policy,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	return c, nil
}

type classifyRequest struct {
	Symptoms []string `json:"symptoms"`
}

type classifyResponse struct {
	Label      string   `json:"label"`
	Disease    string   `json:"disease"`
	Diagnosis  string   `json:"diagnosis"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error"`
}

// Classify validates symptoms and asks the partner for a label.
func (c *Client) Classify(ctx context.Context, symptoms []string) (*Label, error) {
	clean, err := ValidateSymptoms(symptoms)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(classifyRequest{Symptoms: clean})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	label, err := c.policy.Run(ctx, "http", c.logger, c.hooks, func(ctx context.Context) (*Label, error) {
		return c.attempt(ctx, body)
	})
	if err != nil {
		c.logger.Warn(ctx, "partner classify failed", "symptoms", len(clean), "error", err)
		return nil, err
	}
	c.logger.Info(ctx, "partner classified symptoms", "symptoms", len(clean), "label", label.Text)
	return label, nil
}

// statusError is a transient HTTP failure (5xx or 429).
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("partner returned status %d: %s", e.code, e.body)
}

func (c *Client) attempt(ctx context.Context, body []byte) (*Label, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		// a malformed URL fails identically on every attempt
		return nil, fmt.Errorf("%w: build request: %w", ErrInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &statusError{code: resp.StatusCode, body: truncate(string(raw), 256)}
	case resp.StatusCode >= 400:
		var payload classifyResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: truncate(msg, 256)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrBadResponse, resp.StatusCode)
	}

	return decodeLabel(raw)
}

func decodeLabel(raw []byte) (*Label, error) {
	var payload classifyResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	text := payload.Label
	if text == "" {
		text = payload.Disease
	}
	if text == "" {
		text = payload.Diagnosis
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: no label in payload", ErrBadResponse)
	}
	if pc := payload.Confidence; pc != nil && (*pc < 0 || *pc > 1) {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrBadResponse, *pc)
	}
	return &Label{Text: text, Confidence: payload.Confidence}, nil
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
