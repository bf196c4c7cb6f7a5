package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration/adapters"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// Classifier names accepted in configuration.
const (
	ClassifierRules = "rules"
	ClassifierLLM   = "llm"
)

// Tracer names accepted in configuration.
const (
	TracerZerolog = "zerolog"
	TracerOTel    = "otel"
)

// Factory creates and wires router components from configuration.
type Factory struct {
	routerConfig *config.RouterConfig
	llmConfig    *config.LLMConfig
	logger       zerolog.Logger
}

// NewFactory creates a new router factory.
func NewFactory(routerConfig *config.RouterConfig, llmConfig *config.LLMConfig, logger zerolog.Logger) *Factory {
	return &Factory{
		routerConfig: routerConfig,
		llmConfig:    llmConfig,
		logger:       logger,
	}
}

// CreateRouter creates a fully wired Router. provider is only needed for the
// llm classifier.
func (f *Factory) CreateRouter(answerer ports.Answerer, tools []ports.Tool, provider ports.Provider) (*Router, error) {
	policy := f.CreatePolicy()
	specs := Specs(tools)

	classifier, err := f.createClassifier(specs, policy, provider)
	if err != nil {
		return nil, err
	}

	return NewRouter(answerer, tools,
		WithClassifier(classifier),
		WithPolicy(policy),
		WithGuardrails(f.CreateGuardrails()),
		WithRateLimiter(f.createRateLimiter()),
		WithTracer(f.createTracer()),
		WithLogger(f.logger.With().Str("component", "router").Logger()),
	), nil
}

// createClassifier builds the configured classifier, cached when enabled.
func (f *Factory) createClassifier(specs []ports.ToolSpec, policy *Policy, provider ports.Provider) (ports.Classifier, error) {
	var classifier ports.Classifier
	switch name := strings.ToLower(strings.TrimSpace(f.routerConfig.Classifier)); name {
	case "", ClassifierRules:
		classifier = NewRuleClassifier(specs, policy)
	case ClassifierLLM:
		if provider == nil {
			return nil, fmt.Errorf("classifier %q requires a chat completion provider", name)
		}
		opts := ports.Options{}
		if f.llmConfig != nil {
			opts.MaxNewTokens = f.llmConfig.MaxTokens
			opts.Temperature = float32(f.llmConfig.Temperature)
		}
		classifier = NewPromptClassifier(provider, specs, opts, f.logger.With().Str("component", "classifier").Logger())
	default:
		return nil, fmt.Errorf("unknown classifier %q", name)
	}

	if cache := f.createCache(); cache != nil {
		classifier = NewCachedClassifier(classifier, cache, f.routerConfig.CacheTTLSeconds)
	}
	return classifier, nil
}

// createCache creates a cache adapter from config; nil when disabled.
func (f *Factory) createCache() ports.Cache {
	if !f.routerConfig.CacheEnabled {
		return nil
	}
	return adapters.NewLRUCache(f.routerConfig.CacheCapacity)
}

// createRateLimiter creates a rate limiter adapter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.routerConfig.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.routerConfig.RateLimitCapacity, f.routerConfig.RateLimitRefillRate)
}

// createTracer creates a tracer adapter from config.
func (f *Factory) createTracer() ports.Tracer {
	if !f.routerConfig.EnableTracing {
		return &noOpTracer{}
	}
	if strings.EqualFold(f.routerConfig.Tracer, TracerOTel) {
		return adapters.NewOTelTracer(otel.Tracer("github.com/ZanzyTHEbar/iam-geni/geni/orchestration"))
	}
	return adapters.NewZerologTracer(f.logger)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	guardrails := NewGuardrails()
	if f.routerConfig.EnableGuardrails {
		for _, op := range f.routerConfig.AllowedOperations {
			guardrails.AddAllowedOperation(op)
		}
	}
	return guardrails
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	policy := DefaultPolicy()
	policy.InvokeTimeout = f.routerConfig.InvokeTimeout
	policy.MaxHistoryTurns = f.routerConfig.MaxHistoryTurns

	// Validate and clamp policy values
	if policy.InvokeTimeout < time.Second {
		policy.InvokeTimeout = time.Second
		f.logger.Warn().Dur("invoke_timeout", f.routerConfig.InvokeTimeout).Msg("InvokeTimeout clamped to minimum of 1s")
	}
	if policy.InvokeTimeout > 10*time.Minute {
		policy.InvokeTimeout = 10 * time.Minute
		f.logger.Warn().Dur("invoke_timeout", f.routerConfig.InvokeTimeout).Msg("InvokeTimeout clamped to maximum of 10m")
	}
	if policy.MaxHistoryTurns < 0 {
		policy.MaxHistoryTurns = 0
		f.logger.Warn().Int("max_history_turns", f.routerConfig.MaxHistoryTurns).Msg("MaxHistoryTurns clamped to minimum of 0")
	}

	return policy
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
