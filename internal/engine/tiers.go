package engine

import (
	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/prompt"
)

// Tier names a quality/cost class of model.
type Tier string

// Known tiers.
const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierQuality  Tier = "quality"
)

// Default model identifiers and generation parameters.
const (
	DefaultFastModel          = "anthropic.claude-3-haiku-20240307-v1:0"
	DefaultBalancedModel      = "anthropic.claude-3-haiku-20240307-v1:0"
	DefaultQualityModel       = "anthropic.claude-3-sonnet-20240229-v1:0"
	DefaultTemperature        = 0.7
	DefaultTopP               = 0.9
	DefaultMaxTokens          = 3000
	DefaultFastTokenThreshold = 2000
)

// ModelSettings are the provider parameters used for one tier. Nil sampling
// parameters fall back to the defaults; an explicit zero is kept.
type ModelSettings struct {
	ModelID     string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// TierPolicy maps operations onto tiers and tiers onto model settings.
type TierPolicy struct {
	Fast     ModelSettings
	Balanced ModelSettings
	Quality  ModelSettings
	// FastTokenThreshold is the largest estimated token count of a summary
	// that still runs on the fast tier.
	FastTokenThreshold int
}

// DefaultTierPolicy returns the stock model catalogue.
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		Fast:               defaultSettings(DefaultFastModel),
		Balanced:           defaultSettings(DefaultBalancedModel),
		Quality:            defaultSettings(DefaultQualityModel),
		FastTokenThreshold: DefaultFastTokenThreshold,
	}
}

func defaultSettings(modelID string) ModelSettings {
	return ModelSettings{
		ModelID:     modelID,
		Temperature: float64Ptr(DefaultTemperature),
		TopP:        float64Ptr(DefaultTopP),
		MaxTokens:   DefaultMaxTokens,
	}
}

// withDefaults fills zero fields from the stock catalogue.
func (p TierPolicy) withDefaults() TierPolicy {
	stock := DefaultTierPolicy()

	p.Fast = p.Fast.withDefaults(stock.Fast)
	p.Balanced = p.Balanced.withDefaults(stock.Balanced)
	p.Quality = p.Quality.withDefaults(stock.Quality)

	if p.FastTokenThreshold <= 0 {
		p.FastTokenThreshold = stock.FastTokenThreshold
	}

	return p
}

func (s ModelSettings) withDefaults(stock ModelSettings) ModelSettings {
	if s.ModelID == "" {
		s.ModelID = stock.ModelID
	}

	if s.Temperature == nil {
		s.Temperature = stock.Temperature
	}

	if s.TopP == nil {
		s.TopP = stock.TopP
	}

	if s.MaxTokens <= 0 {
		s.MaxTokens = stock.MaxTokens
	}

	return s
}

func float64Ptr(value float64) *float64 {
	return &value
}

func valueOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}

	return *value
}

// Select picks the tier for op. Summaries up to the token threshold use the
// fast tier, longer summaries and creative operations the quality tier, and
// analysis the balanced tier.
func (p TierPolicy) Select(op core.OperationType, text string) Tier {
	switch op {
	case core.OperationSummary:
		if prompt.EstimateTokens(text) <= p.FastTokenThreshold {
			return TierFast
		}

		return TierQuality
	case core.OperationRewrite, core.OperationEnding:
		return TierQuality
	case core.OperationAnalysis:
		return TierBalanced
	default:
		return TierBalanced
	}
}

// Settings returns the model settings for tier.
func (p TierPolicy) Settings(tier Tier) ModelSettings {
	switch tier {
	case TierFast:
		return p.Fast
	case TierQuality:
		return p.Quality
	case TierBalanced:
		return p.Balanced
	default:
		return p.Balanced
	}
}

// Resolve builds the provider request parameters for op, letting opts
// override the tier's model and parameters.
func (p TierPolicy) Resolve(op core.OperationType, text string, opts core.Options) core.ProviderRequest {
	settings := p.Settings(p.Select(op, text))

	request := core.ProviderRequest{
		ModelID:      settings.ModelID,
		UserMessage:  "",
		SystemPrompt: "",
		Temperature:  valueOr(settings.Temperature, DefaultTemperature),
		TopP:         valueOr(settings.TopP, DefaultTopP),
		MaxTokens:    settings.MaxTokens,
	}

	if opts.ModelOverride != "" {
		request.ModelID = opts.ModelOverride
	}

	if opts.Temperature != nil {
		request.Temperature = *opts.Temperature
	}

	if opts.TopP != nil {
		request.TopP = *opts.TopP
	}

	if opts.MaxTokens > 0 {
		request.MaxTokens = opts.MaxTokens
	}

	return request
}
