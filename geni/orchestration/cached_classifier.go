package orchestration

import (
	"context"
	"encoding/json"
	"strconv"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/cespare/xxhash/v2"
)

// CachedClassifier memoizes decisions of a classifier keyed by the exact
// conversation. Only pure classifiers should be wrapped.
type CachedClassifier struct {
	inner      ports.Classifier
	cache      ports.Cache
	ttlSeconds int
}

// NewCachedClassifier wraps inner with cache.
func NewCachedClassifier(inner ports.Classifier, cache ports.Cache, ttlSeconds int) *CachedClassifier {
	return &CachedClassifier{inner: inner, cache: cache, ttlSeconds: ttlSeconds}
}

// Classify implements ports.Classifier.
func (c *CachedClassifier) Classify(ctx context.Context, history []ports.Turn, input string) (ports.IntentDecision, error) {
	key := decisionKey(history, input)
	if cached, ok := c.cache.Get(ctx, key); ok {
		var d ports.IntentDecision
		if err := json.Unmarshal(cached, &d); err == nil {
			return d, nil
		}
		_ = c.cache.Delete(ctx, key)
	}

	d, err := c.inner.Classify(ctx, history, input)
	if err != nil {
		return d, err
	}
	if data, err := json.Marshal(d); err == nil {
		_ = c.cache.Set(ctx, key, data, c.ttlSeconds)
	}
	return d, nil
}

// decisionKey hashes every role and content, each length-prefixed.
func decisionKey(history []ports.Turn, input string) string {
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(strconv.Itoa(len(s)))
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(s)
	}
	for _, t := range history {
		write(t.Role)
		write(t.Content)
	}
	write("input")
	write(input)
	return "decision:" + strconv.FormatUint(h.Sum64(), 16)
}

// Ensure CachedClassifier implements the Classifier interface.
var _ ports.Classifier = (*CachedClassifier)(nil)
