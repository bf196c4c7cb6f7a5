package orchestrationports

import "context"

// Target is the outcome a classifier selects for a turn.
type Target string

const (
	TargetQA          Target = "qa"
	TargetProvision   Target = "provision"
	TargetClarify     Target = "clarify"
	TargetDirectReply Target = "direct_reply"
)

// IntentDecision is the transient routing decision for one turn.
type IntentDecision struct {
	Target    Target   `json:"target"`
	Operation string   `json:"operation,omitempty"` // provisioning operation, when Target is provision or clarify
	Args      Args     `json:"args,omitempty"`      // arguments collected so far
	Missing   []string `json:"missing,omitempty"`   // required arguments still absent
	Reply     string   `json:"reply,omitempty"`     // text for direct replies and clarifying questions
	Question  string   `json:"question,omitempty"`  // literal question for QA
}

// Classifier decides what to do with a new user input given the full history.
type Classifier interface {
	Classify(ctx context.Context, history []Turn, input string) (IntentDecision, error)
}
