// Package mcpserver exposes the provisioning menu and the IAM documentation
// assistant as MCP tools.
package mcpserver

import (
	"context"
	"strings"

	internal "github.com/ZanzyTHEbar/iam-geni/geni"
	"github.com/ZanzyTHEbar/iam-geni/geni/capabilities/directory"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

// QuestionTool is the name of the documentation QA tool.
const QuestionTool = "answer_iam_question"

const instructions = `IAM assistant for an Entra ID tenant.
Use answer_iam_question for questions about IAM concepts and procedures.
Use the provisioning tools to read or change users, groups, memberships and owners.
Destructive tools delete directory objects; confirm with the user before calling them.`

// New creates an MCP server with one tool per operation plus the QA tool
// when an answerer is available.
func New(tools []ports.Tool, answerer ports.Answerer, logger zerolog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		internal.DefaultAppName,
		internal.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	guardrails := orchestration.NewGuardrails()
	for _, t := range tools {
		op := &operationTool{tool: t, guardrails: guardrails, logger: logger}
		s.AddTool(op.Definition(), op.Handle)
	}
	if answerer != nil {
		q := &questionTool{answerer: answerer}
		s.AddTool(q.Definition(), q.Handle)
	}
	return s
}

// Serve runs the server over stdin and stdout until the input closes.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// operationTool handles one provisioning operation.
type operationTool struct {
	tool       ports.Tool
	guardrails *orchestration.Guardrails
	logger     zerolog.Logger
}

// Definition describes the operation. Menu operations carry their parameter
// docs and safety hints; other tools are described by their raw schema.
func (o *operationTool) Definition() mcp.Tool {
	dt, ok := o.tool.(*directory.Tool)
	if !ok {
		return mcp.NewToolWithRawSchema(o.tool.Name(), o.tool.Description(), o.tool.Schema())
	}

	op := dt.Operation()
	opts := []mcp.ToolOption{
		mcp.WithDescription(op.Description),
		mcp.WithReadOnlyHintAnnotation(op.ReadOnly),
		mcp.WithDestructiveHintAnnotation(op.Destructive),
	}
	for _, p := range op.Params {
		props := []mcp.PropertyOption{mcp.Required(), mcp.Description(p.Description)}
		if p.Pattern != "" {
			props = append(props, mcp.Pattern(p.Pattern))
		}
		opts = append(opts, mcp.WithString(p.Name, props...))
	}
	return mcp.NewTool(op.Name, opts...)
}

// Handle validates the arguments and runs the operation. Error texts from
// the directory are tool errors.
func (o *operationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := ports.Args(cast.ToStringMapString(req.GetArguments()))
	call := ports.ToolCall{Name: o.tool.Name(), Args: args}
	if err := o.guardrails.ValidateCall(call, o.tool.Schema()); err != nil {
		return mcp.NewToolResultError(orchestration.ErrorMarker + err.Error()), nil
	}

	o.logger.Info().Str("operation", call.Name).Interface("args", o.guardrails.RedactArgs(args)).Msg("MCP tool call")
	out, err := o.tool.Invoke(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(orchestration.ErrorMarker + err.Error()), nil
	}
	if strings.HasPrefix(out, orchestration.ErrorMarker) {
		return mcp.NewToolResultError(out), nil
	}
	return mcp.NewToolResultText(out), nil
}

// questionTool answers documentation questions without thread memory.
type questionTool struct {
	answerer ports.Answerer
}

func (q *questionTool) Definition() mcp.Tool {
	return mcp.NewTool(QuestionTool,
		mcp.WithDescription("Answer a question about Identity and Access Management from the IAM documentation."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The literal question to answer"),
		),
	)
}

func (q *questionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := strings.TrimSpace(req.GetString("question", ""))
	if question == "" {
		return mcp.NewToolResultError("'question' is required"), nil
	}
	answer, err := q.answerer.Answer(ctx, "", question)
	if err != nil {
		return mcp.NewToolResultError(orchestration.ErrorMarker + err.Error()), nil
	}
	return mcp.NewToolResultText(answer), nil
}
