package qa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/httpclient"

	"github.com/buger/jsonparser"
)

// Searcher retrieves candidate documentation snippets for a question.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
}

// SearchClient queries an Azure AI Search index over REST.
type SearchClient struct {
	endpoint     string
	index        string
	apiKey       string
	apiVersion   string
	contentField string
	titleField   string
	http         *http.Client
}

type searchRequest struct {
	Search    string `json:"search"`
	Top       int    `json:"top"`
	Select    string `json:"select,omitempty"`
	QueryType string `json:"queryType"`
}

// NewSearchClient creates a search client. It returns ErrNoSearchConnection
// when no endpoint or index is configured.
func NewSearchClient(cfg config.QAConfig) (*SearchClient, error) {
	if strings.TrimSpace(cfg.SearchEndpoint) == "" || strings.TrimSpace(cfg.SearchIndex) == "" {
		return nil, ErrNoSearchConnection
	}
	contentField := cfg.ContentField
	if contentField == "" {
		contentField = "content"
	}
	return &SearchClient{
		endpoint:     strings.TrimRight(cfg.SearchEndpoint, "/"),
		index:        cfg.SearchIndex,
		apiKey:       cfg.SearchAPIKey,
		apiVersion:   cfg.SearchAPIVersion,
		contentField: contentField,
		titleField:   cfg.TitleField,
		http:         httpclient.New(httpclient.WithTimeout(30 * time.Second)),
	}, nil
}

// Search runs a simple full-text query and returns the hits in service order.
func (c *SearchClient) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	fields := []string{c.contentField}
	if c.titleField != "" {
		fields = append(fields, c.titleField)
	}
	payload, err := json.Marshal(searchRequest{
		Search:    query,
		Top:       max(limit, 1),
		Select:    strings.Join(fields, ","),
		QueryType: "simple",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	u := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		c.endpoint, url.PathEscape(c.index), url.QueryEscape(c.apiVersion))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return c.parseHits(body)
}

func (c *SearchClient) parseHits(body []byte) ([]Snippet, error) {
	var snippets []Snippet
	_, err := jsonparser.ArrayEach(body, func(hit []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if dataType != jsonparser.Object {
			return
		}
		text, _ := jsonparser.GetString(hit, c.contentField)
		if strings.TrimSpace(text) == "" {
			return
		}
		sn := Snippet{Text: text}
		if score, err := jsonparser.GetFloat(hit, "@search.score"); err == nil {
			sn.Score = float32(score)
		}
		if c.titleField != "" {
			sn.Source, _ = jsonparser.GetString(hit, c.titleField)
		}
		snippets = append(snippets, sn)
	}, "value")
	if err != nil && err != jsonparser.KeyPathNotFoundError {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return snippets, nil
}

// Ensure SearchClient implements the Searcher interface.
var _ Searcher = (*SearchClient)(nil)
