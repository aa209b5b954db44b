package llm

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/logging"
)

const defaultRetryDelay = 500 * time.Millisecond

// Client is a Service backed by one OpenAI-compatible provider (OpenAI, Ollama's /v1, vLLM, ...).
type Client struct {
	name       string
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryDelay sets the base backoff delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// NewClient creates a Client for provider p.
func NewClient(p config.ProviderConfig, maxRetries int, opts ...ClientOption) *Client {
	apiKey := p.APIKey
	if apiKey == "" {
		apiKey = "local"
	}
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = p.URL
	oc.HTTPClient = &http.Client{}

	c := &Client{
		name:       p.Name,
		client:     openai.NewClientWithConfig(oc),
		maxRetries: maxRetries,
		retryDelay: defaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Query implements Service. Transient failures are retried with backoff;
// deadline and client errors are not.
func (c *Client) Query(ctx context.Context, prompt, model string) (Response, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, Backoff(c.retryDelay, attempt)); err != nil {
				return Response{}, classify(ctx, errors.Wrapf(err, "%s: waiting to retry", c.name))
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				return Response{}, errors.Wrapf(ErrLLM, "%s: no choices returned", c.name)
			}
			served := resp.Model
			if served == "" {
				served = model
			}
			return Response{
				Answer:   resp.Choices[0].Message.Content,
				Model:    served,
				Provider: c.name,
				Latency:  time.Since(start),
			}, nil
		}

		lastErr = errors.Wrapf(err, "%s attempt %d", c.name, attempt+1)
		if !retryable(ctx, err) {
			break
		}
		c.logger.Warn("llm request failed, retrying",
			zap.String("provider", c.name),
			zap.String("model", model),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return Response{}, classify(ctx, lastErr)
}

// Models implements ModelLister, returning model ids sorted by name.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, classify(ctx, errors.Wrapf(err, "%s: list models", c.name))
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// retryable reports whether a failed call is worth repeating.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// transport errors
	return true
}
