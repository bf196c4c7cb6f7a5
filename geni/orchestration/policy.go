package orchestration

import "time"

// Policy controls routing behavior.
type Policy struct {
	InvokeTimeout   time.Duration // budget for one capability call
	MaxHistoryTurns int           // history window handed to the classifier; 0 keeps everything
	// ConfirmOperations need an affirmative turn answering a confirmation prompt.
	ConfirmOperations []string
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		InvokeTimeout:   90 * time.Second,
		MaxHistoryTurns: 40,
		ConfirmOperations: []string{
			"delete_user",
			"delete_group",
			"remove_user_from_group",
		},
	}
}

func (p *Policy) requiresConfirmation(operation string) bool {
	for _, op := range p.ConfirmOperations {
		if op == operation {
			return true
		}
	}
	return false
}
