package orchestration

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Envelope actions.
const (
	ActionNone      = "none"
	ActionQuery     = "iam_query"
	ActionProvision = "provision"
)

const (
	// BusyMessage is returned when a capability call runs out of time or the
	// service cannot take the request.
	BusyMessage = "Orchestrator is currently busy, please try again later."
	// ErrorMarker prefixes capability failures passed through to the user.
	ErrorMarker = "❌ "
)

// Envelope is the only externally visible router output.
type Envelope struct {
	Action string `json:"action"`
	Result string `json:"result"`
}

// ValidAction reports whether a is one of the envelope actions.
func ValidAction(a string) bool {
	switch a {
	case ActionNone, ActionQuery, ActionProvision:
		return true
	}
	return false
}

// ParseEnvelope interprets decision text. Text that is not a JSON object with
// exactly the string keys action and result is a direct reply.
func ParseEnvelope(text string) Envelope {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return Envelope{Action: ActionNone, Result: text}
	}

	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	if err := dec.Decode(&raw); err != nil || dec.More() || len(raw) != 2 {
		return Envelope{Action: ActionNone, Result: text}
	}

	var env Envelope
	if err := json.Unmarshal(raw["action"], &env.Action); err != nil {
		return Envelope{Action: ActionNone, Result: text}
	}
	if err := json.Unmarshal(raw["result"], &env.Result); err != nil {
		return Envelope{Action: ActionNone, Result: text}
	}
	if !ValidAction(env.Action) {
		return Envelope{Action: ActionNone, Result: text}
	}
	return env
}
