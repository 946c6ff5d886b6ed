// Package inference is the vision inference client used by the analysis
// stages. It loads images, applies rate limiting and a circuit breaker,
// extracts the JSON answer and attributes token cost.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/cost"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/resilience"
	"github.com/vintagevision/vintagevision/pkg/anthropic"
)

// Request is one stage call.
type Request struct {
	Stage        model.Stage
	System       string
	Prompt       string
	ImageRefs    []string
	PriorContext json.RawMessage
	MaxTokens    int64
}

// Response is a stage answer. JSON holds the extracted object; Text the raw
// model output.
type Response struct {
	Text    string
	JSON    json.RawMessage
	Usage   model.TokenUsage
	Model   string
	CostUSD float64
}

// Client performs a single vision inference call. Implementations classify
// failures with apperr kinds so the retry policy can act on them.
type Client interface {
	Infer(ctx context.Context, req Request) (*Response, error)
}

// AnthropicClient implements Client over the Anthropic Messages API.
type AnthropicClient struct {
	api     anthropic.Client
	cfg     config.AnthropicConfig
	limiter *AdaptiveLimiter
	breaker *resilience.CircuitBreaker
	images  *ImageLoader
	costs   *cost.Calculator
}

// NewAnthropicClient wires an AnthropicClient. A nil limiter or breaker
// disables that protection.
func NewAnthropicClient(api anthropic.Client, cfg config.AnthropicConfig, limiter *AdaptiveLimiter, breaker *resilience.CircuitBreaker, costs *cost.Calculator) *AnthropicClient {
	return &AnthropicClient{
		api:     api,
		cfg:     cfg,
		limiter: limiter,
		breaker: breaker,
		images:  NewImageLoader(cfg.MaxImageBytes),
		costs:   costs,
	}
}

// Infer runs one stage call. The returned Response carries usage and cost
// even when the answer holds no JSON.
func (c *AnthropicClient) Infer(ctx context.Context, req Request) (*Response, error) {
	log := zap.L().With(zap.String("stage", string(req.Stage)))

	images := make([]anthropic.ImageSource, 0, len(req.ImageRefs))
	for _, ref := range req.ImageRefs {
		src, err := c.images.Load(ref)
		if err != nil {
			return nil, err
		}
		images = append(images, src)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classify(err, req.Stage)
		}
	}

	modelName := c.cfg.ModelFor(string(req.Stage))
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temp := c.cfg.Temperature

	msgReq := anthropic.MessageRequest{
		Model:       modelName,
		MaxTokens:   maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(req.System),
		Messages:    []anthropic.Message{anthropic.UserMessage(buildPrompt(req), images...)},
		Temperature: &temp,
	}

	resp, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		r, err := c.api.CreateMessage(ctx, msgReq)
		c.limiter.observe(err)
		if err != nil {
			return nil, classify(err, req.Stage)
		}
		return r, nil
	})
	if err != nil {
		log.Warn("inference: call failed", zap.Error(err))
		return nil, err
	}

	out := &Response{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		},
	}
	if out.Model == "" {
		out.Model = modelName
	}
	out.CostUSD = c.costs.Claude(out.Model, out.Usage)

	log.Debug("inference: cost attribution",
		zap.String("model", out.Model),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens),
		zap.Float64("estimated_cost_usd", out.CostUSD),
	)

	obj, err := ExtractJSON(out.Text)
	if err != nil {
		return out, apperr.Parse(err, "stage %s: no JSON object in response", req.Stage)
	}
	out.JSON = obj
	return out, nil
}

func buildPrompt(req Request) string {
	if len(req.PriorContext) == 0 {
		return req.Prompt
	}
	var b strings.Builder
	b.WriteString(req.Prompt)
	b.WriteString("\n\n<prior_context>\n")
	b.Write(req.PriorContext)
	b.WriteString("\n</prior_context>")
	return b.String()
}

// classify maps a transport or API error to an apperr kind. Retryable API
// statuses are marked transient.
func classify(err error, stage model.Stage) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(err, "stage %s: inference deadline", stage)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Cancelled(err, "stage %s: inference cancelled", stage)
	}
	if status := anthropic.StatusCode(err); status != 0 {
		if resilience.IsTransientHTTPStatus(status) {
			err = resilience.NewTransientError(err, status)
		}
		return apperr.ExternalService(err, "stage %s: inference status %d", stage, status)
	}
	if resilience.IsTransient(err) {
		return apperr.ExternalService(resilience.NewTransientError(err, 0), "stage %s: inference transport", stage)
	}
	return apperr.ExternalService(eris.Wrap(err, "inference"), "stage %s", stage)
}
