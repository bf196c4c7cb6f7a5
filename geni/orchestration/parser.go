package orchestration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/spf13/cast"
)

var (
	jsonPattern          = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// OutputParser extracts structured decisions from model responses.
type OutputParser struct{}

// NewOutputParser creates a parser.
func NewOutputParser() *OutputParser {
	return &OutputParser{}
}

// ParseJSONOutput extracts the JSON object or array embedded in text.
func (p *OutputParser) ParseJSONOutput(text string) (json.RawMessage, error) {
	match := jsonPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}
	if json.Valid([]byte(match)) {
		return json.RawMessage(match), nil
	}

	cleaned := p.fixJSON(match)
	if !json.Valid([]byte(cleaned)) {
		return nil, fmt.Errorf("invalid JSON in response")
	}
	return json.RawMessage(cleaned), nil
}

// fixJSON attempts to fix common JSON formatting issues.
func (p *OutputParser) fixJSON(s string) string {
	// Remove trailing commas before closing braces/brackets
	s = trailingCommaPattern.ReplaceAllString(s, "$1")

	// Quote bare keys
	s = unquotedKeyPattern.ReplaceAllString(s, `$1"$2":`)

	// Single quotes to double quotes
	return strings.ReplaceAll(s, "'", "\"")
}

// llmDecision is the JSON a prompt-driven classifier answers with.
type llmDecision struct {
	Target    string         `json:"target"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args"`
	Missing   []string       `json:"missing"`
	Reply     string         `json:"reply"`
	Question  string         `json:"question"`
}

// ParseDecision reads an intent decision from model output.
func (p *OutputParser) ParseDecision(text string) (ports.IntentDecision, error) {
	raw, err := p.ParseJSONOutput(text)
	if err != nil {
		return ports.IntentDecision{}, err
	}

	var d llmDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		return ports.IntentDecision{}, fmt.Errorf("failed to decode decision: %w", err)
	}

	target := ports.Target(strings.ToLower(strings.TrimSpace(d.Target)))
	switch target {
	case ports.TargetQA, ports.TargetProvision, ports.TargetClarify, ports.TargetDirectReply:
	default:
		return ports.IntentDecision{}, fmt.Errorf("unknown decision target %q", d.Target)
	}

	args := make(ports.Args, len(d.Args))
	for k, v := range d.Args {
		if v == nil {
			continue
		}
		args[k] = cast.ToString(v)
	}

	return ports.IntentDecision{
		Target:    target,
		Operation: d.Operation,
		Args:      args,
		Missing:   d.Missing,
		Reply:     d.Reply,
		Question:  d.Question,
	}, nil
}
