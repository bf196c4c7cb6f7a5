package orchestration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/xeipuuv/gojsonschema"
)

// redacted replaces secrets in logs.
const redacted = "[REDACTED]"

// Guardrails enforces the operation allowlist and argument validation.
type Guardrails struct {
	allowlist     map[string]bool  // allowed operation names; empty allows all
	secretArgs    map[string]bool  // argument names never logged
	outputFilters []*regexp.Regexp // patterns masked in logged text
	jsonValidator *JSONValidator
}

// NewGuardrails creates guardrails with default redaction settings.
func NewGuardrails() *Guardrails {
	return &Guardrails{
		allowlist:  make(map[string]bool),
		secretArgs: map[string]bool{argPassword: true},
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password\s*[:=]?\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret[:=]\s*\S+`),
			regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
		},
		jsonValidator: NewJSONValidator(),
	}
}

// AddAllowedOperation adds an operation to the allowlist.
func (g *Guardrails) AddAllowedOperation(name string) {
	g.allowlist[name] = true
}

// Allowed reports whether the operation may be invoked.
func (g *Guardrails) Allowed(name string) bool {
	if len(g.allowlist) == 0 {
		return true
	}
	return g.allowlist[name]
}

// ValidateCall checks an operation call against the allowlist and schema.
func (g *Guardrails) ValidateCall(call ports.ToolCall, schema []byte) error {
	if call.Name == "" {
		return fmt.Errorf("operation name cannot be empty")
	}
	if !g.Allowed(call.Name) {
		return fmt.Errorf("operation %s is not in allowlist", call.Name)
	}

	args := call.Args
	if args == nil {
		args = ports.Args{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	return g.jsonValidator.Validate(data, schema)
}

// RedactArgs returns a copy of args safe for logs.
func (g *Guardrails) RedactArgs(args ports.Args) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		if g.secretArgs[k] {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

// SanitizeForLog masks sensitive information in free text.
func (g *Guardrails) SanitizeForLog(text string) string {
	sanitized := text
	for _, filter := range g.outputFilters {
		sanitized = filter.ReplaceAllString(sanitized, redacted)
	}
	return sanitized
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks if JSON data conforms to a schema.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
