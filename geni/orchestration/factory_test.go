package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration/adapters"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClassifier counts calls to the wrapped rule classifier.
type countingClassifier struct {
	inner ports.Classifier
	calls int
}

func (c *countingClassifier) Classify(ctx context.Context, history []ports.Turn, input string) (ports.IntentDecision, error) {
	c.calls++
	return c.inner.Classify(ctx, history, input)
}

type stubProvider struct {
	text string
	err  error
	last ports.PromptInput
	opts ports.Options
}

func (p *stubProvider) Complete(_ context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	p.last, p.opts = in, opts
	return ports.Completion{Text: p.text}, p.err
}

func TestCachedClassifier(t *testing.T) {
	counter := &countingClassifier{inner: newTestClassifier()}
	c := NewCachedClassifier(counter, adapters.NewLRUCache(16), 60)
	ctx := context.Background()

	first, err := c.Classify(ctx, nil, "list 10 users")
	require.NoError(t, err)
	second, err := c.Classify(ctx, nil, "list 10 users")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.calls)

	_, err = c.Classify(ctx, []ports.Turn{user("hello")}, "list 10 users")
	require.NoError(t, err)
	assert.Equal(t, 2, counter.calls)
}

func TestDecisionKey_DistinguishesBoundaries(t *testing.T) {
	a := decisionKey([]ports.Turn{user("ab")}, "c")
	b := decisionKey([]ports.Turn{user("a")}, "bc")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, decisionKey([]ports.Turn{user("ab")}, "c"))
}

func TestPromptClassifier(t *testing.T) {
	specs := menuSpecs()
	ctx := context.Background()

	p := &stubProvider{text: `{"target":"clarify","operation":"get_user_details","missing":["user_id"],"reply":"Which user?"}`}
	c := NewPromptClassifier(p, specs, ports.Options{MaxNewTokens: 200}, zerolog.Nop())
	d, err := c.Classify(ctx, []ports.Turn{user("hi"), assistant("Hello!")}, "show me a user")
	require.NoError(t, err)
	assert.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, "Which user?", d.Reply)
	assert.True(t, p.opts.JSONMode)
	assert.Equal(t, 200, p.opts.MaxNewTokens)
	assert.Len(t, p.last.Messages, 3)
	assert.Contains(t, p.last.System, "count_ownerless_groups")

	p.text = `{"target":"qa"}`
	d, err = c.Classify(ctx, nil, "What is SSO?")
	require.NoError(t, err)
	assert.Equal(t, "What is SSO?", d.Question)

	p.text = "Happy to help with IAM questions."
	d, err = c.Classify(ctx, nil, "hey")
	require.NoError(t, err)
	assert.Equal(t, ports.IntentDecision{Target: ports.TargetDirectReply, Reply: "Happy to help with IAM questions."}, d)

	p.err = errors.New("429 too many requests")
	_, err = c.Classify(ctx, nil, "hey")
	assert.Error(t, err)
}

func testRouterConfig() *config.RouterConfig {
	return &config.RouterConfig{
		Classifier:      ClassifierRules,
		InvokeTimeout:   30 * time.Second,
		MaxHistoryTurns: 20,
	}
}

func TestFactory_CreatePolicyClamps(t *testing.T) {
	cfg := testRouterConfig()
	cfg.InvokeTimeout = 0
	cfg.MaxHistoryTurns = -3
	policy := NewFactory(cfg, nil, zerolog.Nop()).CreatePolicy()
	assert.Equal(t, time.Second, policy.InvokeTimeout)
	assert.Equal(t, 0, policy.MaxHistoryTurns)
	assert.Equal(t, DefaultPolicy().ConfirmOperations, policy.ConfirmOperations)

	cfg.InvokeTimeout = time.Hour
	policy = NewFactory(cfg, nil, zerolog.Nop()).CreatePolicy()
	assert.Equal(t, 10*time.Minute, policy.InvokeTimeout)
}

func TestFactory_CreateRouter(t *testing.T) {
	tools, stubs := stubMenu()

	cfg := testRouterConfig()
	cfg.CacheEnabled = true
	cfg.CacheCapacity = 8
	cfg.RateLimitEnabled = true
	cfg.RateLimitCapacity = 2
	cfg.RateLimitRefillRate = time.Second
	cfg.EnableTracing = true
	cfg.Tracer = TracerOTel

	r, err := NewFactory(cfg, nil, zerolog.Nop()).CreateRouter(&stubAnswerer{}, tools, nil)
	require.NoError(t, err)
	assert.IsType(t, &CachedClassifier{}, r.classifier)
	assert.IsType(t, &adapters.TokenBucket{}, r.limiter)
	assert.IsType(t, &adapters.OTelTracer{}, r.tracer)

	env, err := r.Invoke(context.Background(), InvokeRequest{ThreadID: "t", Message: "list 3 groups"})
	require.NoError(t, err)
	assert.Equal(t, Envelope{Action: ActionProvision, Result: "ok:list_groups"}, env)
	assert.Equal(t, 1, stubs["list_groups"].callCount())
}

func TestFactory_ClassifierSelection(t *testing.T) {
	tools, _ := stubMenu()

	cfg := testRouterConfig()
	cfg.Classifier = ClassifierLLM
	_, err := NewFactory(cfg, &config.LLMConfig{}, zerolog.Nop()).CreateRouter(nil, tools, nil)
	assert.Error(t, err, "llm classifier needs a provider")

	r, err := NewFactory(cfg, &config.LLMConfig{MaxTokens: 300, Temperature: 0.2}, zerolog.Nop()).CreateRouter(nil, tools, &stubProvider{})
	require.NoError(t, err)
	require.IsType(t, &PromptClassifier{}, r.classifier)
	assert.Equal(t, 300, r.classifier.(*PromptClassifier).opts.MaxNewTokens)

	cfg.Classifier = "oracle"
	_, err = NewFactory(cfg, nil, zerolog.Nop()).CreateRouter(nil, tools, nil)
	assert.Error(t, err)
}

func TestFactory_Guardrails(t *testing.T) {
	cfg := testRouterConfig()
	cfg.AllowedOperations = []string{"list_users"}

	g := NewFactory(cfg, nil, zerolog.Nop()).CreateGuardrails()
	assert.True(t, g.Allowed("delete_user"), "allowlist ignored while guardrails are off")

	cfg.EnableGuardrails = true
	g = NewFactory(cfg, nil, zerolog.Nop()).CreateGuardrails()
	assert.False(t, g.Allowed("delete_user"))
	assert.True(t, g.Allowed("list_users"))
}
