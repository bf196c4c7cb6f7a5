// Package chat is a terminal client for the orchestrator API.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/httpclient"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
)

// Client calls the orchestrator endpoints with a bearer token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates an API client.
func NewClient(cfg config.ChatConfig) *Client {
	return &Client{
		base:  strings.TrimRight(cfg.APIBase, "/"),
		token: cfg.Token,
		http:  httpclient.New(httpclient.WithTimeout(cfg.Timeout)),
	}
}

type chatPayload struct {
	ThreadID    string       `json:"thread_id"`
	Message     string       `json:"message"`
	ChatHistory []ports.Turn `json:"chat_history"`
}

// CreateThread opens an orchestrator session.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/orchestrator/thread", nil, http.StatusCreated, &out); err != nil {
		return "", fmt.Errorf("failed to create orchestrator thread: %w", err)
	}
	return out.ThreadID, nil
}

// Send posts one message with the full typed history, oldest first.
func (c *Client) Send(ctx context.Context, threadID, message string, history []ports.Turn) (orchestration.Envelope, error) {
	var env orchestration.Envelope
	err := c.do(ctx, http.MethodPost, "/orchestrator/chat", chatPayload{
		ThreadID:    threadID,
		Message:     message,
		ChatHistory: history,
	}, http.StatusOK, &env)
	return env, err
}

// EndThread invalidates the session.
func (c *Client) EndThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/orchestrator/thread/"+url.PathEscape(threadID), nil, http.StatusNoContent, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, want int, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
