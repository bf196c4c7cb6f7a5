package orchestration

import (
	"context"
	"maps"
	"strings"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
)

// confirmationPositiveWords are replies that mean "yes, proceed".
var confirmationPositiveWords = []string{
	"yes", "y", "yeah", "yep", "sure", "confirm", "confirmed", "proceed",
	"ok", "okay", "go ahead", "do it", "affirmative", "correct",
}

// confirmationNegativeWords are replies that mean "no, cancel".
var confirmationNegativeWords = []string{
	"no", "n", "nope", "cancel", "stop", "abort", "never mind", "nevermind",
	"don't", "do not",
}

// questionLeads open a documentation question when no operation matches.
var questionLeads = map[string]bool{
	"what": true, "why": true, "where": true, "when": true, "which": true, "who": true,
	"explain": true, "describe": true, "define": true, "is": true, "are": true,
	"does": true, "do": true, "can": true, "should": true,
}

// topicWords mark IAM policy and process questions.
var topicWords = map[string]bool{
	"mfa": true, "access": true, "request": true, "password": true, "reset": true,
	"approval": true, "role": true, "entitlement": true, "privilege": true,
	"policy": true, "standard": true, "training": true, "sso": true, "pim": true,
	"conditional": true, "license": true, "onboarding": true, "offboarding": true,
	"profile": true, "lost": true,
}

var (
	greetingWords = map[string]bool{"hi": true, "hello": true, "hey": true, "greetings": true, "morning": true, "afternoon": true, "evening": true}
	thanksWords   = map[string]bool{"thanks": true, "thank": true, "thx": true, "cheers": true}
)

// RuleClassifier classifies turns with deterministic keyword rules. It replays
// the history to recover a request whose fields are still being collected, so
// it keeps no state between calls.
type RuleClassifier struct {
	catalog *catalog
	lex     *lexicon
}

// NewRuleClassifier creates a classifier for the given operations. Required
// fields come from each operation's JSON schema; confirmation from policy.
func NewRuleClassifier(tools []ports.ToolSpec, policy *Policy) *RuleClassifier {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &RuleClassifier{
		catalog: newCatalog(tools, policy),
		lex:     newLexicon(),
	}
}

// pendingRequest is an operation waiting for more input.
type pendingRequest struct {
	op        string
	args      ports.Args
	confirmed bool
	awaiting  string // field the last clarifying question asked for
	prompt    string // the clarifying question itself
}

// Classify implements ports.Classifier.
func (c *RuleClassifier) Classify(_ context.Context, history []ports.Turn, input string) (ports.IntentDecision, error) {
	var pending *pendingRequest
	for _, turn := range history {
		switch turn.Role {
		case ports.RoleUser:
			_, pending = c.step(pending, turn.Content)
		case ports.RoleAssistant:
			// Any assistant turn other than our own question closes the request
			said := strings.TrimSpace(ParseEnvelope(turn.Content).Result)
			if pending != nil && said != pending.prompt {
				pending = nil
			}
		}
	}
	decision, _ := c.step(pending, input)
	return decision, nil
}

// step classifies one user turn given the request still open before it.
func (c *RuleClassifier) step(pending *pendingRequest, text string) (ports.IntentDecision, *pendingRequest) {
	if pending != nil {
		if decision, next, ok := c.resume(pending, text); ok {
			return decision, next
		}
	}
	return c.fresh(text)
}

// resume treats text as the answer to the open request. It reports false when
// the turn should be classified on its own instead.
func (c *RuleClassifier) resume(p *pendingRequest, text string) (ports.IntentDecision, *pendingRequest, bool) {
	spec, ok := c.catalog.lookup(p.op)
	if !ok {
		return ports.IntentDecision{}, nil, false
	}

	if p.awaiting == fieldConfirmation {
		switch {
		case isNegative(text):
			return directReply(cancelReply), nil, true
		case isAffirmative(text):
			next := &pendingRequest{op: p.op, args: maps.Clone(p.args), confirmed: true}
			d, n := c.advance(spec, next)
			return d, n, true
		}
		return ports.IntentDecision{}, nil, false
	}

	if isNegative(text) {
		return directReply(cancelReply), nil, true
	}

	value, ok := answerFor(c.lex, p.awaiting, text)
	if !ok {
		if c.matchesOperation(text) {
			return ports.IntentDecision{}, nil, false
		}
		// Ask again
		return clarification(p), p, true
	}

	next := &pendingRequest{op: p.op, args: maps.Clone(p.args), confirmed: p.confirmed}
	if next.args == nil {
		next.args = ports.Args{}
	}
	next.args[p.awaiting] = value
	if structuredField(p.awaiting) {
		for k, v := range extractArgs(spec, text) {
			if strings.TrimSpace(next.args[k]) == "" {
				next.args[k] = v
			}
		}
	}
	d, n := c.advance(spec, next)
	return d, n, true
}

// fresh classifies a turn without regard to earlier requests.
func (c *RuleClassifier) fresh(text string) (ports.IntentDecision, *pendingRequest) {
	trimmed := strings.TrimSpace(text)
	words := tokenise(strings.ToLower(trimmed))

	if howLead(words) {
		return qaDecision(trimmed), nil
	}

	if op, ok := c.match(trimmed); ok {
		spec, _ := c.catalog.lookup(op)
		return c.advance(spec, &pendingRequest{op: op, args: extractArgs(spec, trimmed)})
	}

	switch {
	case isQuestion(words, trimmed):
		return qaDecision(trimmed), nil
	case len(words) > 0 && greetingWords[words[0]]:
		return directReply(greetingReply), nil
	case containsAny(words, thanksWords):
		return directReply(thanksReply), nil
	}
	return directReply(helpReply), nil
}

// advance asks for the next missing field or completes the request.
func (c *RuleClassifier) advance(spec operationSpec, p *pendingRequest) (ports.IntentDecision, *pendingRequest) {
	missing := spec.missing(p.args, p.confirmed)
	if len(missing) == 0 {
		return ports.IntentDecision{
			Target:    ports.TargetProvision,
			Operation: spec.name,
			Args:      p.args,
		}, nil
	}

	p.awaiting = missing[0]
	p.prompt = promptFor(spec.name, p.awaiting, p.args)
	d := clarification(p)
	d.Missing = missing
	return d, p
}

// match scores every operation against the turn and returns the best one.
// Ties go to the operation listed first.
func (c *RuleClassifier) match(text string) (string, bool) {
	tokens := c.lex.tokens(text)
	if upnPattern.MatchString(text) {
		tokens[tokUser] = true
	}
	hasID := hasIdentifier(text)

	best, bestScore := "", 0
	for _, spec := range c.catalog.specs {
		score := 0
		for _, trigger := range triggers[spec.name] {
			if s, ok := triggerScore(trigger, tokens); ok && s > score {
				score = s
			}
		}
		if score == 0 {
			continue
		}
		if hasID && spec.needsID() {
			score++
		}
		if score > bestScore {
			best, bestScore = spec.name, score
		}
	}
	return best, best != ""
}

func (c *RuleClassifier) matchesOperation(text string) bool {
	_, ok := c.match(text)
	return ok
}

func triggerScore(trigger []string, tokens map[string]bool) (int, bool) {
	score := 0
	for _, t := range trigger {
		if !tokens[t] {
			return 0, false
		}
		score += weight(t)
	}
	return score, true
}

func clarification(p *pendingRequest) ports.IntentDecision {
	return ports.IntentDecision{
		Target:    ports.TargetClarify,
		Operation: p.op,
		Args:      p.args,
		Missing:   []string{p.awaiting},
		Reply:     p.prompt,
	}
}

func directReply(text string) ports.IntentDecision {
	return ports.IntentDecision{Target: ports.TargetDirectReply, Reply: text}
}

func qaDecision(question string) ports.IntentDecision {
	return ports.IntentDecision{Target: ports.TargetQA, Question: question}
}

// howLead reports a "how ..." question other than "how many" or "how much".
func howLead(words []string) bool {
	if len(words) == 0 || words[0] != "how" {
		return false
	}
	return len(words) == 1 || (words[1] != "many" && words[1] != "much")
}

func isQuestion(words []string, text string) bool {
	if strings.HasSuffix(text, "?") {
		return true
	}
	if len(words) > 0 && questionLeads[words[0]] {
		return true
	}
	if len(words) > 1 && words[0] == "tell" && words[1] == "me" {
		return true
	}
	return containsAny(words, topicWords)
}

func containsAny(words []string, set map[string]bool) bool {
	for _, w := range words {
		if set[w] {
			return true
		}
	}
	return false
}

func structuredField(field string) bool {
	switch field {
	case argUserID, argGroupID, argOwnerID, argMaxResults, argUserPrincipalName:
		return true
	}
	return false
}

func isAffirmative(text string) bool { return startsWithAny(text, confirmationPositiveWords) }

func isNegative(text string) bool { return startsWithAny(text, confirmationNegativeWords) }

// startsWithAny matches a whole reply or its leading words against list.
func startsWithAny(text string, list []string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = strings.TrimRight(lower, ".!")
	for _, w := range list {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+",") {
			return true
		}
	}
	return false
}

// confirmedBy reports whether input answers a confirmation request made in
// the last assistant turn of history.
func confirmedBy(history []ports.Turn, input string) bool {
	if !isAffirmative(input) {
		return false
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == ports.RoleAssistant {
			said := ParseEnvelope(history[i].Content).Result
			return strings.Contains(strings.ToLower(said), "confirm")
		}
	}
	return false
}

// Ensure RuleClassifier implements the Classifier interface.
var _ ports.Classifier = (*RuleClassifier)(nil)
