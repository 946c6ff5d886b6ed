// Package inferencetest provides a scripted inference.Client for tests.
package inferencetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/inference"
	"github.com/vintagevision/vintagevision/internal/model"
)

// CallCost is the cost reported for every scripted response.
const CallCost = 0.001

// Handler answers one stage call.
type Handler func(ctx context.Context, req inference.Request) (*inference.Response, error)

// Client answers stage calls from per-stage handlers and records every
// request it receives. It is safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	handlers map[model.Stage]Handler
	calls    []inference.Request
}

// New returns a Client with no handlers. Unscripted stages fail with an
// external service error.
func New() *Client {
	return &Client{handlers: make(map[model.Stage]Handler)}
}

// On sets the handler for stage.
func (c *Client) On(stage model.Stage, h Handler) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[stage] = h
	return c
}

// Infer implements inference.Client.
func (c *Client) Infer(ctx context.Context, req inference.Request) (*inference.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	h := c.handlers[req.Stage]
	c.mu.Unlock()

	if h == nil {
		return nil, apperr.ExternalService(eris.New("no scripted answer"), "stage %s", req.Stage)
	}
	return h(ctx, req)
}

// Calls returns the recorded requests for stage, or all requests when stage
// is empty.
func (c *Client) Calls(stage model.Stage) []inference.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []inference.Request
	for _, r := range c.calls {
		if stage == "" || r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

// JSON answers with v encoded as the stage payload.
func JSON(v any) Handler {
	return func(_ context.Context, req inference.Request) (*inference.Response, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrap(err, "inferencetest: marshal")
		}
		return &inference.Response{
			Text:    string(b),
			JSON:    b,
			Usage:   model.TokenUsage{InputTokens: 100, OutputTokens: 50},
			Model:   "scripted-" + string(req.Stage),
			CostUSD: CallCost,
		}, nil
	}
}

// Text answers with free text the way the real client does: when the text
// holds no JSON object the response comes back with a parse error.
func Text(s string) Handler {
	return func(_ context.Context, req inference.Request) (*inference.Response, error) {
		resp := &inference.Response{
			Text:    s,
			Usage:   model.TokenUsage{InputTokens: 100, OutputTokens: 50},
			Model:   "scripted-" + string(req.Stage),
			CostUSD: CallCost,
		}
		obj, err := inference.ExtractJSON(s)
		if err != nil {
			return resp, apperr.Parse(err, "stage %s: no JSON object in response", req.Stage)
		}
		resp.JSON = obj
		return resp, nil
	}
}

// Fail answers every call with err.
func Fail(err error) Handler {
	return func(context.Context, inference.Request) (*inference.Response, error) {
		return nil, err
	}
}

// Sequence answers successive calls with successive handlers, repeating the
// last one once the sequence is exhausted.
func Sequence(hs ...Handler) Handler {
	var (
		mu sync.Mutex
		n  int
	)
	return func(ctx context.Context, req inference.Request) (*inference.Response, error) {
		mu.Lock()
		i := min(n, len(hs)-1)
		n++
		mu.Unlock()
		return hs[i](ctx, req)
	}
}

// Identification is the answer a scripted pipeline converges on.
type Identification struct {
	Domain     string
	Category   string
	Name       string
	Maker      string
	Era        model.YearRange
	Value      model.ValueRange
	Risk       model.AuthenticityRisk
	Confidence float64
}

// Identify returns a Client whose four stages agree on id.
func Identify(id Identification) *Client {
	c := New()
	ScriptIdentification(c, id)
	return c
}

// ScriptIdentification installs handlers on c that converge on id.
func ScriptIdentification(c *Client, id Identification) {
	if id.Risk == "" {
		id.Risk = model.RiskLow
	}
	if id.Category == "" {
		id.Category = id.Domain
	}
	if id.Value.Currency == "" {
		id.Value.Currency = "USD"
	}
	c.On(model.StageTriage, JSON(map[string]any{
		"category":    id.Category,
		"domain":      id.Domain,
		"item_type":   id.Name,
		"description": "A " + id.Name + ".",
		"confidence":  0.9,
	}))
	c.On(model.StageEvidence, JSON(map[string]any{
		"markings":     []any{},
		"materials":    []string{"unknown"},
		"construction": []string{},
		"style":        []string{},
		"condition":    "good",
		"observations": []string{"photographed from the front"},
		"confidence":   0.6,
	}))
	c.On(model.StageIdentification, JSON(map[string]any{
		"candidates": []map[string]any{
			{"name": id.Name, "maker": id.Maker, "era": id.Era, "confidence": id.Confidence, "reasoning": "form and finish"},
			{"name": "Reproduction " + id.Name, "maker": "", "era": map[string]int{"start": 1980, "end": 2000}, "confidence": 0.2, "reasoning": "possible later copy"},
		},
		"supporting":    []string{"form matches"},
		"contradicting": []string{},
		"confidence":    id.Confidence,
	}))
	c.On(model.StageSynthesis, JSON(map[string]any{
		"name":               id.Name,
		"maker":              id.Maker,
		"maker_alternatives": []string{},
		"era":                id.Era,
		"value":              id.Value,
		"authenticity_risk":  string(id.Risk),
		"supporting":         []string{"form matches"},
		"contradicting":      []string{},
		"auth_checklist":     []string{"Check for maker's marks"},
		"confidence":         id.Confidence,
	}))
}
