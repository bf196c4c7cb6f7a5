package orchestration

import (
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
)

// ClassifierInstructions is the system prompt of the prompt-driven classifier.
const ClassifierInstructions = `You route messages for an enterprise Identity and Access Management (IAM) assistant.
Each user message is either an IAM documentation question or a request to perform a directory provisioning task.

Answer with one JSON object and nothing else:
{"target": "qa" | "provision" | "clarify" | "direct_reply", "operation": "<name>", "args": {"<arg>": "<value>"}, "missing": ["<arg>"], "reply": "<text>", "question": "<text>"}

Rules:
- Use "qa" for general IAM questions and "how" or "what" questions about access requests, password resets, MFA registration or reset, profile updates, approvals, roles and entitlements, privileged access, IAM policies and standards, or IAM training. Put the user's literal question in "question".
- Use "provision" only when every required argument of the operation is present in the conversation. Never guess argument values.
- Use "clarify" when the operation is clear but arguments are missing. List them in "missing" and ask for the first one in "reply".
- delete_user, delete_group and remove_user_from_group also need the user to confirm. Ask "Please confirm ..." and only choose "provision" after the user replied yes.
- Prefer the most specific operation: ownerless groups over groups, group owners or members over group details.
- Use "direct_reply" for greetings or anything outside IAM, with a short answer in "reply".`

// PromptBuilder assembles model-ready inputs from instructions, history and the operation menu.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build flattens instructions, history and the new input into a PromptInput.
func (b *PromptBuilder) Build(system string, history []ports.Turn, input string, tools []ports.ToolSpec, meta map[string]string) ports.PromptInput {
	// Normalize newlines and trim whitespace to reduce prompt diffs for caching
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	messages := make([]ports.PromptMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, ports.PromptMessage{Role: t.Role, Content: norm(t.Content)})
	}
	messages = append(messages, ports.PromptMessage{Role: ports.RoleUser, Content: norm(input)})

	return ports.PromptInput{
		System:   norm(system + "\n\n" + renderMenu(tools)),
		Messages: messages,
		Meta:     meta,
	}
}

// renderMenu lists operations with their required arguments.
func renderMenu(tools []ports.ToolSpec) string {
	var sb strings.Builder
	sb.WriteString("Operations:\n")
	for _, t := range tools {
		required := requiredFields(t.JSONSchema)
		if len(required) == 0 {
			fmt.Fprintf(&sb, "- %s: %s (no arguments)\n", t.Name, t.Description)
			continue
		}
		fmt.Fprintf(&sb, "- %s(%s): %s\n", t.Name, strings.Join(required, ", "), t.Description)
	}
	return sb.String()
}
