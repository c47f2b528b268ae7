// Package claude is a partner.Classifier backed by the Anthropic Messages
// API. It asks the model for a single standardized disease name.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sightline/internal/partner"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

const systemPrompt = `你是眼科分诊助手。根据患者描述的症状，给出最可能的一个标准化眼科疾病名称（中文）。
只输出疾病名称本身，不要解释，不要标点，不要列出多个候选。`

// Client implements partner.Classifier on the Anthropic SDK.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	policy    partner.RetryPolicy
	logger    log.Logger
	hooks     partner.Hooks
}

var _ partner.Classifier = (*Client)(nil)

type settings struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
	hooks      partner.Hooks
}

// Option configures a Client.
type Option func(*settings)

// WithBaseURL points the SDK at another endpoint.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(s *settings) { s.httpClient = c } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(s *settings) { s.logger = l } }

// WithHooks sets instrumentation callbacks.
func WithHooks(h partner.Hooks) Option { return func(s *settings) { s.hooks = h } }

// New creates a Claude-backed classifier. SDK-level retries are disabled;
// policy governs retries the same way it does for the HTTP backend.
func New(apiKey, model string, timeout time.Duration, policy partner.RetryPolicy, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("claude api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("claude timeout must be positive, got %s", timeout)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	s := settings{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(&s)
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(s.httpClient),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}

	return &Client{
		client:    anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: 64,
		timeout:   timeout,
		policy:    policy,
		logger:    s.logger,
		hooks:     s.hooks,
	}, nil
}

// Classify validates symptoms and asks the model for a disease name.
func (c *Client) Classify(ctx context.Context, symptoms []string) (*partner.Label, error) {
	clean, err := partner.ValidateSymptoms(symptoms)
	if err != nil {
		return nil, err
	}
	prompt := "症状：" + strings.Join(clean, "、")

	label, err := c.policy.Run(ctx, "claude", c.logger, c.hooks, func(ctx context.Context) (*partner.Label, error) {
		return c.attempt(ctx, prompt)
	})
	if err != nil {
		c.logger.Warn(ctx, "claude classify failed", "model", c.model, "error", err)
		return nil, err
	}
	c.logger.Info(ctx, "claude classified symptoms", "model", c.model, "symptoms", len(clean), "label", label.Text)
	return label, nil
}

func (c *Client) attempt(ctx context.Context, prompt string) (*partner.Label, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return labelFromMessage(msg)
}

// classifyError maps SDK failures onto the partner error taxonomy. 429 and
// 5xx stay transient; other API errors are rejections.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code == http.StatusTooManyRequests || code >= 500 {
			return fmt.Errorf("claude api status %d: %w", code, err)
		}
		return &partner.RejectedError{StatusCode: code, Message: apiErr.Error()}
	}
	return fmt.Errorf("claude request: %w", err)
}

// labelFromMessage takes the first non-empty line of the text reply.
func labelFromMessage(msg *anthropic.Message) (*partner.Label, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: empty message", partner.ErrBadResponse)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	for line := range strings.Lines(sb.String()) {
		text := strings.Trim(strings.TrimSpace(line), "\"'“”。.,，")
		if text != "" {
			return &partner.Label{Text: text}, nil
		}
	}
	return nil, fmt.Errorf("%w: no text in reply (stop_reason %s)", partner.ErrBadResponse, msg.StopReason)
}
