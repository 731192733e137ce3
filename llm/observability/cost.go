// Package observability tracks per-request USD cost so the pipeline can
// report it alongside the token counts the provider response already
// carries.
package observability

import (
	"sync"
)

// CostCalculator prices completions from a static USD-per-1K-token table,
// keyed by provider:model. Callers needing live pricing can overwrite
// entries with SetPrice/UpdatePrices; an unpriced pair costs zero rather
// than erroring, since a missing price shouldn't fail the request itself.
type CostCalculator struct {
	mu     sync.RWMutex
	prices map[string]*ModelPrice // key: provider:model
}

// ModelPrice is the USD-per-1K-token rate for one provider/model pair.
type ModelPrice struct {
	Provider    string
	Model       string
	PriceInput  float64 // USD per 1K prompt tokens
	PriceOutput float64 // USD per 1K completion tokens
}

// NewCostCalculator returns a calculator preloaded with the vendor
// price list wired into buildRegistry.
func NewCostCalculator() *CostCalculator {
	c := &CostCalculator{
		prices: make(map[string]*ModelPrice),
	}
	c.loadDefaultPrices()
	return c
}

func (c *CostCalculator) loadDefaultPrices() {
	defaults := []ModelPrice{
		// OpenAI
		{Provider: "openai", Model: "gpt-4o", PriceInput: 0.005, PriceOutput: 0.015},
		{Provider: "openai", Model: "gpt-4o-mini", PriceInput: 0.00015, PriceOutput: 0.0006},
		{Provider: "openai", Model: "gpt-4-turbo", PriceInput: 0.01, PriceOutput: 0.03},
		{Provider: "openai", Model: "gpt-3.5-turbo", PriceInput: 0.0005, PriceOutput: 0.0015},
		// Claude
		{Provider: "claude", Model: "claude-3-5-sonnet-20241022", PriceInput: 0.003, PriceOutput: 0.015},
		{Provider: "claude", Model: "claude-3-opus-20240229", PriceInput: 0.015, PriceOutput: 0.075},
		{Provider: "claude", Model: "claude-3-haiku-20240307", PriceInput: 0.00025, PriceOutput: 0.00125},
		// Gemini
		{Provider: "gemini", Model: "gemini-1.5-pro", PriceInput: 0.00125, PriceOutput: 0.005},
		{Provider: "gemini", Model: "gemini-1.5-flash", PriceInput: 0.000075, PriceOutput: 0.0003},
		// Qwen
		{Provider: "qwen", Model: "qwen-turbo", PriceInput: 0.0008, PriceOutput: 0.002},
		{Provider: "qwen", Model: "qwen-plus", PriceInput: 0.004, PriceOutput: 0.012},
		{Provider: "qwen", Model: "qwen-max", PriceInput: 0.02, PriceOutput: 0.06},
		// DeepSeek
		{Provider: "deepseek", Model: "deepseek-chat", PriceInput: 0.00027, PriceOutput: 0.0011},
		{Provider: "deepseek", Model: "deepseek-reasoner", PriceInput: 0.00055, PriceOutput: 0.00219},
		// Zhipu GLM
		{Provider: "glm", Model: "glm-4", PriceInput: 0.014, PriceOutput: 0.014},
		{Provider: "glm", Model: "glm-4-flash", PriceInput: 0.0001, PriceOutput: 0.0001},
		// Azure mirrors OpenAI pricing per deployment.
		{Provider: "azure", Model: "gpt-4o", PriceInput: 0.005, PriceOutput: 0.015},
	}

	for _, p := range defaults {
		c.SetPrice(p.Provider, p.Model, p.PriceInput, p.PriceOutput)
	}
}

// SetPrice installs or overwrites the rate for one provider/model pair.
func (c *CostCalculator) SetPrice(provider, model string, priceInput, priceOutput float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := provider + ":" + model
	c.prices[key] = &ModelPrice{
		Provider:    provider,
		Model:       model,
		PriceInput:  priceInput,
		PriceOutput: priceOutput,
	}
}

// GetPrice returns the rate for provider/model, or nil if unpriced.
func (c *CostCalculator) GetPrice(provider, model string) *ModelPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key := provider + ":" + model
	return c.prices[key]
}

// Calculate returns the USD cost of a completion, or 0 for an unpriced
// provider/model pair.
func (c *CostCalculator) Calculate(provider, model string, tokensInput, tokensOutput int) float64 {
	price := c.GetPrice(provider, model)
	if price == nil {
		return 0
	}

	inputCost := float64(tokensInput) / 1000 * price.PriceInput
	outputCost := float64(tokensOutput) / 1000 * price.PriceOutput

	return inputCost + outputCost
}

// UpdatePrices bulk-replaces rates, e.g. from an operator-supplied price
// list loaded at startup.
func (c *CostCalculator) UpdatePrices(prices []ModelPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range prices {
		key := p.Provider + ":" + p.Model
		c.prices[key] = &ModelPrice{
			Provider:    p.Provider,
			Model:       p.Model,
			PriceInput:  p.PriceInput,
			PriceOutput: p.PriceOutput,
		}
	}
}

// CostSummary aggregates cost and token counts across a series of calls
// tracked through a CostTracker.
type CostSummary struct {
	TotalCost       float64
	TotalTokens     int
	TokensInput     int
	TokensOutput    int
	RequestCount    int
	AvgCostPerReq   float64
	AvgTokensPerReq float64
}

// CostTracker accumulates CostSummary across repeated Track calls,
// guarding its running total with a mutex since the pipeline records
// every completed request concurrently.
type CostTracker struct {
	calculator *CostCalculator
	mu         sync.Mutex
	summary    CostSummary
}

// NewCostTracker returns a tracker priced by calculator.
func NewCostTracker(calculator *CostCalculator) *CostTracker {
	return &CostTracker{
		calculator: calculator,
	}
}

// Track prices one completion and folds it into the running summary,
// returning the cost of this call alone.
func (t *CostTracker) Track(provider, model string, tokensInput, tokensOutput int) float64 {
	cost := t.calculator.Calculate(provider, model, tokensInput, tokensOutput)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.summary.TotalCost += cost
	t.summary.TokensInput += tokensInput
	t.summary.TokensOutput += tokensOutput
	t.summary.TotalTokens += tokensInput + tokensOutput
	t.summary.RequestCount++

	if t.summary.RequestCount > 0 {
		t.summary.AvgCostPerReq = t.summary.TotalCost / float64(t.summary.RequestCount)
		t.summary.AvgTokensPerReq = float64(t.summary.TotalTokens) / float64(t.summary.RequestCount)
	}

	return cost
}

// Summary returns a snapshot of the accumulated totals.
func (t *CostTracker) Summary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// Reset zeroes the accumulated totals.
func (t *CostTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary = CostSummary{}
}
