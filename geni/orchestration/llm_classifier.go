package orchestration

import (
	"context"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/rs/zerolog"
)

// PromptClassifier asks a chat model for the routing decision.
type PromptClassifier struct {
	provider ports.Provider
	builder  *PromptBuilder
	parser   *OutputParser
	tools    []ports.ToolSpec
	opts     ports.Options
	logger   zerolog.Logger
}

// NewPromptClassifier creates a model-backed classifier.
func NewPromptClassifier(provider ports.Provider, tools []ports.ToolSpec, opts ports.Options, logger zerolog.Logger) *PromptClassifier {
	opts.JSONMode = true
	return &PromptClassifier{
		provider: provider,
		builder:  NewPromptBuilder(),
		parser:   NewOutputParser(),
		tools:    tools,
		opts:     opts,
		logger:   logger,
	}
}

// Classify implements ports.Classifier. Output that is not a decision becomes
// a direct reply carrying the model text.
func (c *PromptClassifier) Classify(ctx context.Context, history []ports.Turn, input string) (ports.IntentDecision, error) {
	prompt := c.builder.Build(ClassifierInstructions, history, input, c.tools, map[string]string{
		"history_turns": fmt.Sprintf("%d", len(history)),
	})

	completion, err := c.provider.Complete(ctx, prompt, c.opts)
	if err != nil {
		return ports.IntentDecision{}, fmt.Errorf("classifier completion failed: %w", err)
	}

	decision, err := c.parser.ParseDecision(completion.Text)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Classifier output is not a decision, replying directly")
		return directReply(strings.TrimSpace(completion.Text)), nil
	}
	if decision.Target == ports.TargetQA && strings.TrimSpace(decision.Question) == "" {
		decision.Question = strings.TrimSpace(input)
	}
	return decision, nil
}

// Ensure PromptClassifier implements the Classifier interface.
var _ ports.Classifier = (*PromptClassifier)(nil)
