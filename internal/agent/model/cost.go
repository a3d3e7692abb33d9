package model

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing holds USD pricing per 1M text tokens.
var defaultPricing = map[string]Pricing{
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
}

// ResolvePricing returns pricing for a model, zero when unknown.
func ResolvePricing(model string) Pricing {
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	return Pricing{}
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// CostTracker accumulates LLM spend for one turn. Grading may run in
// parallel, so it is safe for concurrent use.
type CostTracker struct {
	mu     sync.Mutex
	total  float64
	calls  int
	tokens int
}

func (c *CostTracker) Add(usage *schema.TokenUsage, p Pricing) float64 {
	_, _, total := ComputeCost(usage, p)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.total += total
	if usage != nil {
		c.tokens += usage.TotalTokens
	}
	return c.total
}

func (c *CostTracker) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *CostTracker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type costKey struct{}

// WithCostTracker attaches a fresh tracker to ctx.
func WithCostTracker(ctx context.Context) (context.Context, *CostTracker) {
	t := &CostTracker{}
	return context.WithValue(ctx, costKey{}, t), t
}

// CostTrackerFrom returns the tracker in ctx or nil.
func CostTrackerFrom(ctx context.Context) *CostTracker {
	t, _ := ctx.Value(costKey{}).(*CostTracker)
	return t
}
