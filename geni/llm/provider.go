// Package llm is a chat completions client for OpenAI compatible and Azure
// OpenAI endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/httpclient"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"

	"github.com/buger/jsonparser"
)

// Endpoint flavors.
const (
	FlavorAzure  = "azure"
	FlavorOpenAI = "openai"
)

// ErrNotConfigured is returned when no chat completion endpoint is set.
var ErrNotConfigured = errors.New("chat completion endpoint is not configured")

// maxErrorBody bounds the response body quoted in errors.
const maxErrorBody = 512

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string    `json:"model,omitempty"`
	Messages       []message `json:"messages"`
	Temperature    float32   `json:"temperature"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	Stop           []string  `json:"stop,omitempty"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

// Provider implements ports.Provider over the chat completions REST API.
type Provider struct {
	flavor     string
	endpoint   string
	apiKey     string
	model      string
	apiVersion string
	http       *http.Client
}

// NewFromConfig creates a provider from configuration.
func NewFromConfig(cfg config.LLMConfig) (*Provider, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNotConfigured
	}
	flavor := strings.ToLower(strings.TrimSpace(cfg.Flavor))
	switch flavor {
	case "", FlavorAzure:
		flavor = FlavorAzure
	case FlavorOpenAI:
	default:
		return nil, fmt.Errorf("unknown llm flavor %q", cfg.Flavor)
	}

	return &Provider{
		flavor:     flavor,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		apiVersion: cfg.APIVersion,
		http:       httpclient.New(httpclient.WithTimeout(cfg.Timeout)),
	}, nil
}

// Complete sends one chat completion request.
func (p *Provider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	req := chatRequest{
		Messages:    toMessages(in),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxNewTokens,
		Stop:        opts.Stop,
	}
	if p.flavor == FlavorOpenAI {
		req.Model = p.model
	}
	if opts.JSONMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(), bytes.NewReader(payload))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		if p.flavor == FlavorAzure {
			httpReq.Header.Set("api-key", p.apiKey)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
	}

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ports.Completion{}, fmt.Errorf("chat completion returned %d: %s", resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	return parseCompletion(body)
}

func (p *Provider) url() string {
	if p.flavor == FlavorAzure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			p.endpoint, url.PathEscape(p.model), url.QueryEscape(p.apiVersion))
	}
	return p.endpoint + "/chat/completions"
}

// toMessages puts instructions and retrieved documentation ahead of the chat.
func toMessages(in ports.PromptInput) []message {
	msgs := make([]message, 0, len(in.Messages)+2)
	if in.System != "" {
		msgs = append(msgs, message{Role: "system", Content: in.System})
	}
	if len(in.Context) > 0 {
		msgs = append(msgs, message{Role: "system", Content: "Documentation:\n\n" + strings.Join(in.Context, "\n\n---\n\n")})
	}
	for _, m := range in.Messages {
		msgs = append(msgs, message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func parseCompletion(body []byte) (ports.Completion, error) {
	text, err := jsonparser.GetString(body, "choices", "[0]", "message", "content")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return ports.Completion{}, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if _, _, _, err := jsonparser.Get(body, "choices", "[0]"); err != nil {
		return ports.Completion{}, fmt.Errorf("chat response has no choices")
	}

	completion := ports.Completion{Text: text, Raw: json.RawMessage(body)}
	if usage, dataType, _, err := jsonparser.Get(body, "usage"); err == nil && dataType == jsonparser.Object {
		prompt, _ := jsonparser.GetInt(usage, "prompt_tokens")
		compl, _ := jsonparser.GetInt(usage, "completion_tokens")
		total, _ := jsonparser.GetInt(usage, "total_tokens")
		completion.Usage = &ports.Usage{
			PromptTokens:     int(prompt),
			CompletionTokens: int(compl),
			TotalTokens:      int(total),
		}
	}
	return completion, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Ensure Provider implements the Provider interface.
var _ ports.Provider = (*Provider)(nil)
