package qa

import (
	"sort"
	"strings"
)

// Snippet is a retrieved documentation chunk with a relevance score.
type Snippet struct {
	Text       string
	Score      float32 // higher is better
	TokenCount int
	Source     string // document title, when the index has one
}

// Budget bounds how much documentation goes into one prompt.
type Budget struct {
	MaxContextTokens int
	MaxSnippets      int
}

// ContextAssembler packs the best snippets into a token budget.
type ContextAssembler struct {
	budget Budget
	// TokenEstimator is a fast heuristic, not a tokenizer.
	TokenEstimator func(s string) int
}

// NewContextAssembler creates an assembler. A nil estimator counts roughly
// four characters per token.
func NewContextAssembler(b Budget, est func(s string) int) *ContextAssembler {
	if est == nil {
		est = estimateTokens
	}
	return &ContextAssembler{budget: b, TokenEstimator: est}
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Pack orders snippets by score and keeps those that fit the budget. Ties
// keep search order. Snippets larger than the remaining budget are skipped so
// a smaller one further down can still fit.
func (a *ContextAssembler) Pack(snippets []Snippet) []string {
	b := a.budget
	if len(snippets) == 0 || b.MaxContextTokens <= 0 || b.MaxSnippets <= 0 {
		return nil
	}

	ordered := make([]Snippet, len(snippets))
	copy(ordered, snippets)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	remaining := b.MaxContextTokens
	packed := make([]string, 0, min(len(ordered), b.MaxSnippets))
	for _, sn := range ordered {
		if len(packed) >= b.MaxSnippets {
			break
		}
		text := render(sn)
		if sn.TokenCount <= 0 {
			sn.TokenCount = a.TokenEstimator(text)
		}
		if sn.TokenCount > remaining {
			continue
		}
		packed = append(packed, text)
		remaining -= sn.TokenCount
		if remaining <= 0 {
			break
		}
	}
	return packed
}

func render(sn Snippet) string {
	text := strings.TrimSpace(strings.ReplaceAll(sn.Text, "\r\n", "\n"))
	if sn.Source == "" {
		return text
	}
	return "# " + strings.TrimSpace(sn.Source) + "\n" + text
}
