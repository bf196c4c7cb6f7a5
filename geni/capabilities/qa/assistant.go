// Package qa answers IAM questions from the indexed documentation.
package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"

	"github.com/rs/zerolog"
)

// NoSearchConnectionText is shown to users when the documentation index is not configured.
const NoSearchConnectionText = "No Cognitive Search connection found for IAM documents."

// ErrNoSearchConnection is returned when the documentation index is not configured.
var ErrNoSearchConnection = errors.New("no search connection configured for IAM documents")

// ErrNoProvider is returned when no chat completion provider is available.
var ErrNoProvider = errors.New("no chat completion provider configured for IAM questions")

// ErrThreadClosed is returned for questions on an invalidated thread.
var ErrThreadClosed = errors.New("thread has been invalidated")

// Reply texts returned in place of an answer.
const (
	RunFailedPrefix = "❌ Run failed: "
	NoResponse      = "🤖 No response received."
	Unknown         = "I don't know the answer to that. My responses are based solely on the IAM documentation."
)

// Instructions restrict the model to the retrieved documentation.
const Instructions = `You are an expert assistant focused exclusively on Identity and Access Management in Entra ID.
Answer ONLY from the IAM documentation supplied with the conversation.
1. Do not use the web or any other source.
2. If the documentation has no relevant information, say: "` + Unknown + `"
3. If it does, respond with the most relevant content, clearly and concisely.
4. Do not guess or make inferences beyond the documentation.
Keep responses professional and accurate.`

// Options tunes retrieval and generation.
type Options struct {
	TopK         int
	HistoryTurns int
	Budget       Budget
	Generation   ports.Options
}

// Assistant is a stateful documentation QA conversation per thread.
type Assistant struct {
	searcher  Searcher
	assembler *ContextAssembler
	provider  ports.Provider
	store     ports.ThreadStore
	opts      Options
	logger    zerolog.Logger
}

// New creates an assistant from its parts.
func New(searcher Searcher, provider ports.Provider, store ports.ThreadStore, opts Options, logger zerolog.Logger) (*Assistant, error) {
	if searcher == nil {
		return nil, ErrNoSearchConnection
	}
	if provider == nil {
		return nil, ErrNoProvider
	}
	if store == nil {
		return nil, errors.New("qa assistant needs a thread store")
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.HistoryTurns < 0 {
		opts.HistoryTurns = 0
	}
	return &Assistant{
		searcher:  searcher,
		assembler: NewContextAssembler(opts.Budget, nil),
		provider:  provider,
		store:     store,
		opts:      opts,
		logger:    logger.With().Str("component", "qa").Logger(),
	}, nil
}

// NewFromConfig creates an assistant backed by the configured search index.
func NewFromConfig(cfg config.QAConfig, llm config.LLMConfig, provider ports.Provider, store ports.ThreadStore, logger zerolog.Logger) (*Assistant, error) {
	searcher, err := NewSearchClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(searcher, provider, store, Options{
		TopK:         cfg.TopK,
		HistoryTurns: cfg.HistoryTurns,
		Budget:       Budget{MaxContextTokens: cfg.MaxContextTokens, MaxSnippets: max(cfg.TopK, 1)},
		Generation: ports.Options{
			MaxNewTokens: llm.MaxTokens,
			Temperature:  float32(llm.Temperature),
		},
	}, logger)
}

// CreateThread opens a new QA conversation.
func (a *Assistant) CreateThread(ctx context.Context) (string, error) {
	thread, err := a.store.CreateThread(ctx, ports.ThreadQA)
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

// Answer replies to a question. On a QA thread the exchange is stored and
// earlier turns are replayed to the model; any other thread is answered
// without memory. Retrieval and generation failures are returned as reply
// text, not as errors.
func (a *Assistant) Answer(ctx context.Context, threadID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("empty question")
	}

	stateful, err := a.isQAThread(ctx, threadID)
	if err != nil {
		return "", err
	}

	var history []ports.Turn
	if stateful {
		if history, err = a.store.LoadContext(ctx, threadID, a.opts.HistoryTurns); err != nil {
			return "", err
		}
		if err := a.store.SaveTurn(ctx, threadID, ports.Turn{Role: ports.RoleUser, Content: question}); err != nil {
			return "", err
		}
	}

	reply := a.run(ctx, history, question)

	if stateful {
		if err := a.store.SaveTurn(ctx, threadID, ports.Turn{Role: ports.RoleAssistant, Content: reply}); err != nil {
			return "", err
		}
	}
	return reply, nil
}

func (a *Assistant) isQAThread(ctx context.Context, threadID string) (bool, error) {
	if threadID == "" {
		return false, nil
	}
	thread, err := a.store.GetThread(ctx, threadID)
	if err != nil {
		return false, fmt.Errorf("failed to load thread: %w", err)
	}
	if thread.Invalidated {
		return false, ErrThreadClosed
	}
	return thread.Kind == ports.ThreadQA, nil
}

func (a *Assistant) run(ctx context.Context, history []ports.Turn, question string) string {
	snippets, err := a.searcher.Search(ctx, question, a.opts.TopK)
	if err != nil {
		a.logger.Error().Err(err).Msg("documentation search failed")
		return RunFailedPrefix + err.Error()
	}
	docs := a.assembler.Pack(snippets)
	a.logger.Debug().Int("hits", len(snippets)).Int("packed", len(docs)).Msg("documentation retrieved")

	messages := make([]ports.PromptMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, ports.PromptMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, ports.PromptMessage{Role: ports.RoleUser, Content: question})

	out, err := a.provider.Complete(ctx, ports.PromptInput{
		System:   Instructions,
		Messages: messages,
		Context:  docs,
	}, a.opts.Generation)
	if err != nil {
		a.logger.Error().Err(err).Msg("answer generation failed")
		return RunFailedPrefix + err.Error()
	}
	if out.Usage != nil {
		a.logger.Debug().Int("total_tokens", out.Usage.TotalTokens).Msg("answer generated")
	}

	answer := strings.TrimSpace(out.Text)
	if answer == "" {
		return NoResponse
	}
	return answer
}

// Ensure Assistant implements the Answerer interface.
var _ ports.Answerer = (*Assistant)(nil)
