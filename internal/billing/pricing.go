package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPricingURL is the LiteLLM model price table.
	DefaultPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"
	pricingCacheTTL   = 5 * time.Minute
	tieredThreshold   = 200_000 // Token threshold for tiered pricing
)

// ModelPricing contains per-token prices for a model.
type ModelPricing struct {
	InputCostPerToken           float64 `json:"input_cost_per_token"`
	OutputCostPerToken          float64 `json:"output_cost_per_token"`
	CacheReadInputTokenCost     float64 `json:"cache_read_input_token_cost"`
	InputCostPerTokenAbove200k  float64 `json:"input_cost_per_token_above_200k_tokens"`
	OutputCostPerTokenAbove200k float64 `json:"output_cost_per_token_above_200k_tokens"`
}

// TokenCounts is the usage to price.
type TokenCounts struct {
	Input     int
	Output    int
	CacheRead int
}

// Pricer prices token usage for a model.
type Pricer interface {
	Cost(ctx context.Context, model string, tokens TokenCounts) (float64, error)
}

// PricingFetcher fetches and caches the model price table.
type PricingFetcher struct {
	URL        string
	CacheDir   string // empty disables the disk cache
	HTTPClient *http.Client

	mu        sync.RWMutex
	cache     map[string]ModelPricing
	lastFetch time.Time
}

func NewPricingFetcher(url string) *PricingFetcher {
	if url == "" {
		url = DefaultPricingURL
	}
	return &PricingFetcher{
		URL:        url,
		CacheDir:   filepath.Join(os.TempDir(), "toolstream-pricing"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		cache:      make(map[string]ModelPricing),
	}
}

// providerPrefixes are tried when looking up a bare model name.
var providerPrefixes = []string{
	"",
	"anthropic/",
	"openai/",
	"gemini/",
	"openrouter/openai/",
}

// Pricing returns the prices for model, fetching the table if needed.
func (p *PricingFetcher) Pricing(ctx context.Context, model string) (ModelPricing, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return ModelPricing{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, prefix := range providerPrefixes {
		if pricing, ok := p.cache[prefix+model]; ok {
			return pricing, nil
		}
	}

	lower := strings.ToLower(model)
	for key, pricing := range p.cache {
		keyLower := strings.ToLower(key)
		if strings.Contains(keyLower, lower) || strings.Contains(lower, keyLower) {
			return pricing, nil
		}
	}

	return ModelPricing{}, fmt.Errorf("pricing not found for model: %s", model)
}

// Cost implements Pricer.
func (p *PricingFetcher) Cost(ctx context.Context, model string, tokens TokenCounts) (float64, error) {
	if model == "" {
		return 0, nil
	}
	pricing, err := p.Pricing(ctx, model)
	if err != nil {
		return 0, err
	}
	var cost float64
	cost += tieredCost(tokens.Input, pricing.InputCostPerToken, pricing.InputCostPerTokenAbove200k)
	cost += tieredCost(tokens.Output, pricing.OutputCostPerToken, pricing.OutputCostPerTokenAbove200k)
	cost += tieredCost(tokens.CacheRead, pricing.CacheReadInputTokenCost, 0)
	return cost, nil
}

func (p *PricingFetcher) ensureLoaded(ctx context.Context) error {
	p.mu.RLock()
	if len(p.cache) > 0 && time.Since(p.lastFetch) < pricingCacheTTL {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	return p.fetch(ctx)
}

func (p *PricingFetcher) fetch(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if len(p.cache) > 0 && time.Since(p.lastFetch) < pricingCacheTTL {
		return nil
	}

	var cacheFile string
	if p.CacheDir != "" {
		cacheFile = filepath.Join(p.CacheDir, "pricing.json")
		if info, err := os.Stat(cacheFile); err == nil && time.Since(info.ModTime()) < pricingCacheTTL {
			if data, err := os.ReadFile(cacheFile); err == nil && p.parseData(data) == nil {
				return nil
			}
		}
	}

	data, err := p.download(ctx)
	if err != nil {
		// A stale disk cache beats no prices at all.
		if cacheFile != "" {
			if data, rerr := os.ReadFile(cacheFile); rerr == nil && p.parseData(data) == nil {
				return nil
			}
		}
		return err
	}
	if err := p.parseData(data); err != nil {
		return err
	}
	if cacheFile != "" {
		if err := os.MkdirAll(p.CacheDir, 0o755); err == nil {
			_ = os.WriteFile(cacheFile, data, 0o644)
		}
	}
	return nil
}

func (p *PricingFetcher) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pricing: %w", err)
	}
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pricing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch pricing: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing data: %w", err)
	}
	return data, nil
}

func (p *PricingFetcher) parseData(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse pricing JSON: %w", err)
	}

	next := make(map[string]ModelPricing, len(raw))
	for key, value := range raw {
		var pricing ModelPricing
		if err := json.Unmarshal(value, &pricing); err != nil {
			continue // e.g. the "sample_spec" entry
		}
		next[key] = pricing
	}

	p.cache = next
	p.lastFetch = time.Now()
	return nil
}

// tieredCost prices tokens with the higher rate applied above the threshold.
func tieredCost(tokens int, basePrice, tieredPrice float64) float64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > tieredThreshold && tieredPrice > 0 {
		below := min(tokens, tieredThreshold)
		above := tokens - tieredThreshold
		cost := float64(above) * tieredPrice
		if basePrice > 0 {
			cost += float64(below) * basePrice
		}
		return cost
	}
	if basePrice > 0 {
		return float64(tokens) * basePrice
	}
	return 0
}
