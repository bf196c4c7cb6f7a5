package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okResponse = `{
	"id": "chatcmpl-1",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Use the self-service portal."}}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func TestProvider_Azure(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	p, err := NewFromConfig(config.LLMConfig{
		Endpoint:   srv.URL + "/",
		APIKey:     "secret",
		Model:      "gpt-4o",
		APIVersion: "2024-06-01",
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), ports.PromptInput{
		System:   "be brief",
		Context:  []string{"doc one", "doc two"},
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "How do I reset my password?"}},
	}, ports.Options{MaxNewTokens: 64, JSONMode: true})
	require.NoError(t, err)

	assert.Equal(t, "Use the self-service portal.", out.Text)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 17, out.Usage.TotalTokens)

	assert.Empty(t, got.Model, "azure routes by deployment")
	assert.Equal(t, 64, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "doc one")
	assert.Contains(t, got.Messages[1].Content, "doc two")
	assert.Equal(t, "How do I reset my password?", got.Messages[2].Content)
	assert.Equal(t, map[string]any{"type": "json_object"}, got.ResponseFormat)
}

func TestProvider_OpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Nil(t, req.ResponseFormat)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	p, err := NewFromConfig(config.LLMConfig{Flavor: "OpenAI", Endpoint: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "hello"}},
	}, ports.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Text)
	assert.Nil(t, out.Usage)
}

func TestProvider_Errors(t *testing.T) {
	_, err := NewFromConfig(config.LLMConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewFromConfig(config.LLMConfig{Endpoint: "http://x", Flavor: "bedrock"})
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-version") == "empty" {
			_, _ = w.Write([]byte(`{"choices":[]}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p, err := NewFromConfig(config.LLMConfig{Endpoint: srv.URL, Model: "m", APIVersion: "v"})
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), ports.PromptInput{}, ports.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")

	p, err = NewFromConfig(config.LLMConfig{Endpoint: srv.URL, Model: "m", APIVersion: "empty"})
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), ports.PromptInput{}, ports.Options{})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
