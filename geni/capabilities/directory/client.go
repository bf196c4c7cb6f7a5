package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	internal "github.com/ZanzyTHEbar/iam-geni/geni"
	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/httpclient"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrMissingCredentials is returned when the Graph app registration is not configured.
var ErrMissingCredentials = errors.New("graph client credentials are not configured")

// maxPageSize is the largest $top the Graph API accepts.
const maxPageSize = 999

// Client performs directory operations against the Graph v1.0 REST API.
// Every operation returns the raw capability result string; non-2xx responses
// become error texts rather than Go errors.
type Client struct {
	baseURL          string
	http             *http.Client
	ownerConcurrency int
	logger           zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the Graph root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the (already authenticated) HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithOwnerConcurrency bounds parallel owner checks in ownerless scans.
func WithOwnerConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.ownerConcurrency = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a directory client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:          internal.DefaultGraphBaseURL,
		http:             httpclient.New(),
		ownerConcurrency: 8,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client authenticated with the client-credentials flow.
// Tokens are fetched lazily and refreshed by the oauth2 transport.
func NewFromConfig(cfg config.GraphConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TokenURL == "" {
		return nil, ErrMissingCredentials
	}

	base := httpclient.New(httpclient.WithTimeout(cfg.Timeout))
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	authed := &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: cc.TokenSource(tokenCtx),
			Base:   base.Transport,
		},
	}

	logger.Info().Str("base_url", cfg.BaseURL).Msg("Directory client ready")
	return New(
		WithBaseURL(cfg.BaseURL),
		WithHTTPClient(authed),
		WithOwnerConcurrency(cfg.OwnerConcurrency),
		WithLogger(logger),
	), nil
}

// response is a fully read Graph response.
type response struct {
	status int
	body   []byte
}

func (r response) ok(expected int) bool { return r.status == expected }

// errorText renders the error result the caller shows verbatim.
func (r response) errorText(what string) string {
	return fmt.Sprintf("❌ Error %s: %d – %s", what, r.status, string(r.body))
}

func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}

// do sends one request; only transport failures are returned as errors.
func (c *Client) do(ctx context.Context, method, url string, payload any) (response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return response{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%s %s: %w", method, redactQuery(url), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().Str("method", method).Str("url", redactQuery(url)).Int("status", resp.StatusCode).Msg("Graph call")
	return response{status: resp.StatusCode, body: data}, nil
}

// page is one page of a Graph collection.
type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// collect follows @odata.nextLink until the collection is exhausted or keep
// returns false. A non-200 page yields (errText, nil).
func collect[T any](ctx context.Context, c *Client, url, what string, keep func(T) bool) (string, error) {
	for url != "" {
		resp, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		if !resp.ok(http.StatusOK) {
			return resp.errorText(what), nil
		}

		var p page[T]
		if err := json.Unmarshal(resp.body, &p); err != nil {
			return "", fmt.Errorf("failed to decode page: %w", err)
		}
		for _, item := range p.Value {
			if !keep(item) {
				return "", nil
			}
		}
		url = p.NextLink
	}
	return "", nil
}

// marshalResult encodes rows without HTML escaping so names stay readable.
func marshalResult(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func pageSize(maxResults int) int {
	return min(max(maxResults, 1), maxPageSize)
}

func redactQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// str renders a possibly-null Graph string the way the details blocks show it.
func str(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
