// Package orchestration turns a conversation turn into exactly one envelope:
// a direct reply, a clarifying question, a documentation answer or the raw
// result of one provisioning operation.
package orchestration

import (
	"context"
	"errors"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/rs/zerolog"
)

// ErrEmptyMessage is returned for a message that is blank after trimming.
var ErrEmptyMessage = errors.New("message must not be empty")

// InvokeRequest is one router call. History is owned by the caller and passed
// in full, oldest turn first.
type InvokeRequest struct {
	ThreadID string
	Message  string
	History  []ports.Turn
}

// Router is the single entry point from the API into the capabilities. It
// holds no conversation state between calls.
type Router struct {
	classifier ports.Classifier
	answerer   ports.Answerer
	tools      map[string]ports.Tool
	specs      []ports.ToolSpec
	catalog    *catalog
	guardrails *Guardrails
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	policy     *Policy
	logger     zerolog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithClassifier replaces the default rule classifier.
func WithClassifier(c ports.Classifier) RouterOption {
	return func(r *Router) { r.classifier = c }
}

// WithGuardrails sets the operation allowlist and validation.
func WithGuardrails(g *Guardrails) RouterOption {
	return func(r *Router) { r.guardrails = g }
}

// WithRateLimiter sets per-thread admission control.
func WithRateLimiter(l ports.RateLimiter) RouterOption {
	return func(r *Router) { r.limiter = l }
}

// WithTracer sets the span emitter.
func WithTracer(t ports.Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// WithPolicy sets timeouts, history window and confirmation rules.
func WithPolicy(p *Policy) RouterOption {
	return func(r *Router) { r.policy = p }
}

// WithLogger sets the router logger.
func WithLogger(l zerolog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router over a QA capability and the provisioning
// operations. Adapter instances are shared by every call.
func NewRouter(answerer ports.Answerer, tools []ports.Tool, opts ...RouterOption) *Router {
	r := &Router{
		answerer:   answerer,
		tools:      make(map[string]ports.Tool, len(tools)),
		specs:      Specs(tools),
		guardrails: NewGuardrails(),
		limiter:    &noOpRateLimiter{},
		tracer:     &noOpTracer{},
		policy:     DefaultPolicy(),
		logger:     zerolog.Nop(),
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	for _, opt := range opts {
		opt(r)
	}
	r.catalog = newCatalog(r.specs, r.policy)
	if r.classifier == nil {
		r.classifier = NewRuleClassifier(r.specs, r.policy)
	}
	return r
}

// Specs describes tools for classifiers.
func Specs(tools []ports.Tool) []ports.ToolSpec {
	specs := make([]ports.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, ports.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			JSONSchema:  t.Schema(),
		})
	}
	return specs
}

// Invoke classifies the turn and runs at most one capability. Failures of
// the classifier or admission control surface as the busy text; capability
// failures surface verbatim in the result.
func (r *Router) Invoke(ctx context.Context, req InvokeRequest) (Envelope, error) {
	input := strings.TrimSpace(req.Message)
	if input == "" {
		return Envelope{}, ErrEmptyMessage
	}

	release, err := r.limiter.Acquire(ctx, req.ThreadID)
	if err != nil {
		r.logger.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("Router call rejected")
		return Envelope{Action: ActionNone, Result: BusyMessage}, nil
	}
	defer release()

	ctx, finish := r.tracer.StartSpan(ctx, "router.invoke", map[string]any{
		"thread_id":     req.ThreadID,
		"history_turns": len(req.History),
	})

	history := r.window(req.History)
	r.logger.Debug().
		Str("thread_id", req.ThreadID).
		Str("message", r.guardrails.SanitizeForLog(input)).
		Int("history_turns", len(history)).
		Msg("Routing message")

	decision, err := r.classifier.Classify(ctx, history, input)
	if err != nil {
		finish(err)
		r.logger.Error().Err(err).Str("thread_id", req.ThreadID).Msg("Classification failed")
		return Envelope{Action: ActionNone, Result: BusyMessage}, nil
	}
	r.tracer.Event(ctx, "decision", map[string]any{
		"target":    string(decision.Target),
		"operation": decision.Operation,
	})

	env := r.dispatch(ctx, req.ThreadID, history, input, decision)
	finish(nil)
	return env, nil
}

func (r *Router) dispatch(ctx context.Context, threadID string, history []ports.Turn, input string, d ports.IntentDecision) Envelope {
	switch d.Target {
	case ports.TargetDirectReply:
		return Envelope{Action: ActionNone, Result: orDefault(d.Reply, helpReply)}

	case ports.TargetClarify:
		reply := d.Reply
		if strings.TrimSpace(reply) == "" && len(d.Missing) > 0 {
			reply = promptFor(d.Operation, d.Missing[0], d.Args)
		}
		return Envelope{Action: ActionNone, Result: orDefault(reply, helpReply)}

	case ports.TargetQA:
		return r.answer(ctx, threadID, orDefault(d.Question, input))

	case ports.TargetProvision:
		return r.provision(ctx, history, input, d)
	}
	return Envelope{Action: ActionNone, Result: helpReply}
}

// answer forwards the literal question to the QA capability.
func (r *Router) answer(ctx context.Context, threadID, question string) Envelope {
	if r.answerer == nil {
		return Envelope{Action: ActionQuery, Result: ErrorMarker + "IAM documentation search is not configured"}
	}
	r.logger.Info().Str("thread_id", threadID).Msg("Forwarding IAM question")
	result := r.call(ctx, "qa.answer", func(ctx context.Context) (string, error) {
		return r.answerer.Answer(ctx, threadID, question)
	})
	return Envelope{Action: ActionQuery, Result: result}
}

// provision invokes one operation once every precondition holds. Missing
// arguments or confirmation turn into a clarifying question instead.
func (r *Router) provision(ctx context.Context, history []ports.Turn, input string, d ports.IntentDecision) Envelope {
	tool, ok := r.tools[d.Operation]
	spec, known := r.catalog.lookup(d.Operation)
	if !ok || !known {
		r.logger.Warn().Str("operation", d.Operation).Msg("Classifier chose an unknown operation")
		return Envelope{Action: ActionNone, Result: helpReply}
	}

	args := d.Args
	if args == nil {
		args = ports.Args{}
	}
	if missing := spec.missing(args, true); len(missing) > 0 {
		return Envelope{Action: ActionNone, Result: promptFor(spec.name, missing[0], args)}
	}
	if spec.confirm && !confirmedBy(history, input) {
		return Envelope{Action: ActionNone, Result: confirmPrompt(spec.name, args)}
	}

	if err := r.guardrails.ValidateCall(ports.ToolCall{Name: spec.name, Args: args}, tool.Schema()); err != nil {
		r.logger.Warn().Err(err).Str("operation", spec.name).Msg("Operation call rejected")
		return Envelope{Action: ActionProvision, Result: ErrorMarker + err.Error()}
	}

	r.logger.Info().
		Str("operation", spec.name).
		Interface("args", r.guardrails.RedactArgs(args)).
		Msg("Invoking provisioning operation")

	result := r.call(ctx, "provision."+spec.name, func(ctx context.Context) (string, error) {
		return tool.Invoke(ctx, args)
	})
	return Envelope{Action: ActionProvision, Result: result}
}

// call runs one capability under the invoke timeout. A timeout yields the
// busy text and other errors the error marker plus the error text.
func (r *Router) call(ctx context.Context, name string, fn func(context.Context) (string, error)) string {
	ctx, finish := r.tracer.StartSpan(ctx, name, nil)
	if r.policy.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.InvokeTimeout)
		defer cancel()
	}

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	started := time.Now()
	go func() {
		result, err := fn(ctx)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		finish(ctx.Err())
		r.logger.Warn().Err(ctx.Err()).Str("capability", name).Dur("elapsed", time.Since(started)).Msg("Capability call timed out")
		return BusyMessage
	case out := <-done:
		if out.err != nil {
			finish(out.err)
			if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
				return BusyMessage
			}
			r.logger.Error().Err(out.err).Str("capability", name).Msg("Capability call failed")
			return ErrorMarker + out.err.Error()
		}
		finish(nil)
		r.logger.Debug().Str("capability", name).Dur("elapsed", time.Since(started)).Msg("Capability call finished")
		return out.result
	}
}

// window keeps the most recent turns allowed by policy.
func (r *Router) window(history []ports.Turn) []ports.Turn {
	if n := r.policy.MaxHistoryTurns; n > 0 && len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
