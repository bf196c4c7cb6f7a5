package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/iam-geni/geni/capabilities/directory"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTool records invocations of one menu operation.
type stubTool struct {
	name   string
	schema []byte
	result string
	err    error
	delay  time.Duration

	mu    sync.Mutex
	calls []ports.Args
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return s.name }
func (s *stubTool) Schema() []byte      { return s.schema }

func (s *stubTool) Invoke(ctx context.Context, args ports.Args) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.result, s.err
}

func (s *stubTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func stubMenu() ([]ports.Tool, map[string]*stubTool) {
	tools := make([]ports.Tool, 0, len(directory.Menu))
	byName := make(map[string]*stubTool, len(directory.Menu))
	for _, op := range directory.Menu {
		st := &stubTool{name: op.Name, schema: op.Schema(), result: "ok:" + op.Name}
		tools = append(tools, st)
		byName[op.Name] = st
	}
	return tools, byName
}

type stubAnswerer struct {
	answer    string
	err       error
	questions []string
}

func (a *stubAnswerer) Answer(_ context.Context, _ string, question string) (string, error) {
	a.questions = append(a.questions, question)
	return a.answer, a.err
}

// fixedClassifier always returns the same decision and records its input.
type fixedClassifier struct {
	decision ports.IntentDecision
	err      error
	history  []ports.Turn
}

func (f *fixedClassifier) Classify(_ context.Context, history []ports.Turn, _ string) (ports.IntentDecision, error) {
	f.history = history
	return f.decision, f.err
}

type denyLimiter struct{}

func (denyLimiter) Acquire(context.Context, string) (func(), error) {
	return nil, errors.New("rate limit exceeded")
}

func invoke(t *testing.T, r *Router, history []ports.Turn, message string) Envelope {
	t.Helper()
	env, err := r.Invoke(context.Background(), InvokeRequest{ThreadID: "t-1", Message: message, History: history})
	require.NoError(t, err)
	return env
}

func TestRouter_EmptyMessage(t *testing.T) {
	tools, _ := stubMenu()
	r := NewRouter(&stubAnswerer{}, tools)

	_, err := r.Invoke(context.Background(), InvokeRequest{ThreadID: "t-1", Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestRouter_DirectReply(t *testing.T) {
	tools, stubs := stubMenu()
	r := NewRouter(&stubAnswerer{}, tools)

	env := invoke(t, r, nil, "hello")
	assert.Equal(t, Envelope{Action: ActionNone, Result: greetingReply}, env)
	for _, st := range stubs {
		assert.Zero(t, st.callCount())
	}
}

func TestRouter_QuestionGoesToQA(t *testing.T) {
	tools, _ := stubMenu()
	qa := &stubAnswerer{answer: "Register at aka.ms/mfasetup."}
	r := NewRouter(qa, tools)

	env := invoke(t, r, nil, "  How do I register for MFA?  ")
	assert.Equal(t, Envelope{Action: ActionQuery, Result: "Register at aka.ms/mfasetup."}, env)
	assert.Equal(t, []string{"How do I register for MFA?"}, qa.questions)
}

func TestRouter_ProvisionPassesResultThrough(t *testing.T) {
	tools, stubs := stubMenu()
	rows := `[{"Display Name":"Ann","UPN":"ann@contoso.com","Id":"1","Enabled":true}]`
	stubs["list_users"].result = rows
	r := NewRouter(&stubAnswerer{}, tools)

	env := invoke(t, r, nil, "list 10 users")
	assert.Equal(t, Envelope{Action: ActionProvision, Result: rows}, env)
	require.Equal(t, 1, stubs["list_users"].callCount())
	assert.Equal(t, "10", stubs["list_users"].calls[0][argMaxResults])
}

func TestRouter_ErrorTextIsNotMasked(t *testing.T) {
	tools, stubs := stubMenu()
	errText := `❌ Error listing groups: 403 – {"error":{"code":"Authorization_RequestDenied"}}`
	stubs["list_groups"].result = errText
	r := NewRouter(&stubAnswerer{}, tools)

	env := invoke(t, r, nil, "list 5 groups")
	assert.Equal(t, Envelope{Action: ActionProvision, Result: errText}, env)
}

func TestRouter_AdapterErrorGetsMarker(t *testing.T) {
	tools, stubs := stubMenu()
	stubs["list_groups"].err = errors.New("dial tcp: connection refused")
	r := NewRouter(&stubAnswerer{}, tools)

	env := invoke(t, r, nil, "list 5 groups")
	assert.Equal(t, ActionProvision, env.Action)
	assert.Equal(t, ErrorMarker+"dial tcp: connection refused", env.Result)

	qa := &stubAnswerer{err: errors.New("Run failed: quota")}
	r = NewRouter(qa, tools)
	env = invoke(t, r, nil, "What is PIM?")
	assert.Equal(t, Envelope{Action: ActionQuery, Result: ErrorMarker + "Run failed: quota"}, env)
}

func TestRouter_TimeoutReturnsBusy(t *testing.T) {
	tools, stubs := stubMenu()
	stubs["count_ownerless_groups"].delay = time.Second
	policy := DefaultPolicy()
	policy.InvokeTimeout = 20 * time.Millisecond
	r := NewRouter(&stubAnswerer{}, tools, WithPolicy(policy))

	env := invoke(t, r, nil, "count ownerless groups")
	assert.Equal(t, Envelope{Action: ActionProvision, Result: BusyMessage}, env)
}

func TestRouter_DeleteWaitsForConfirmation(t *testing.T) {
	tools, stubs := stubMenu()
	stubs["delete_user"].result = "✅ User 'bob@contoso.com' deleted."
	r := NewRouter(&stubAnswerer{}, tools)

	first := invoke(t, r, nil, "delete user bob@contoso.com")
	assert.Equal(t, ActionNone, first.Action)
	assert.Contains(t, first.Result, "Please confirm")
	assert.Zero(t, stubs["delete_user"].callCount())

	history := []ports.Turn{user("delete user bob@contoso.com"), assistant(first.Result)}
	second := invoke(t, r, history, "yes")
	assert.Equal(t, Envelope{Action: ActionProvision, Result: "✅ User 'bob@contoso.com' deleted."}, second)
	require.Equal(t, 1, stubs["delete_user"].callCount())
	assert.Equal(t, ports.Args{argUserID: "bob@contoso.com"}, stubs["delete_user"].calls[0])
}

func TestRouter_RechecksConfirmation(t *testing.T) {
	tools, stubs := stubMenu()
	eager := &fixedClassifier{decision: ports.IntentDecision{
		Target:    ports.TargetProvision,
		Operation: "delete_group",
		Args:      ports.Args{argGroupID: guidA},
	}}
	r := NewRouter(&stubAnswerer{}, tools, WithClassifier(eager))

	env := invoke(t, r, nil, "delete group "+guidA)
	assert.Equal(t, Envelope{Action: ActionNone, Result: confirmPrompt("delete_group", ports.Args{argGroupID: guidA})}, env)
	assert.Zero(t, stubs["delete_group"].callCount())

	history := []ports.Turn{user("delete group " + guidA), assistant(env.Result)}
	env = invoke(t, r, history, "yes, go ahead")
	assert.Equal(t, ActionProvision, env.Action)
	assert.Equal(t, 1, stubs["delete_group"].callCount())
}

func TestRouter_MissingArgumentsBecomeQuestion(t *testing.T) {
	tools, stubs := stubMenu()
	sloppy := &fixedClassifier{decision: ports.IntentDecision{Target: ports.TargetProvision, Operation: "list_users"}}
	r := NewRouter(&stubAnswerer{}, tools, WithClassifier(sloppy))

	env := invoke(t, r, nil, "list users")
	assert.Equal(t, Envelope{Action: ActionNone, Result: "How many users would you like me to list?"}, env)
	assert.Zero(t, stubs["list_users"].callCount())
}

func TestRouter_ClarifyWithoutReplyUsesFieldPrompt(t *testing.T) {
	tools, _ := stubMenu()
	terse := &fixedClassifier{decision: ports.IntentDecision{
		Target:    ports.TargetClarify,
		Operation: "get_group_owners",
		Missing:   []string{argGroupID},
	}}
	r := NewRouter(&stubAnswerer{}, tools, WithClassifier(terse))

	env := invoke(t, r, nil, "who owns it")
	assert.Equal(t, Envelope{Action: ActionNone, Result: fieldPrompts[argGroupID]}, env)
}

func TestRouter_UnknownOperation(t *testing.T) {
	tools, _ := stubMenu()
	odd := &fixedClassifier{decision: ports.IntentDecision{Target: ports.TargetProvision, Operation: "reset_password"}}
	r := NewRouter(&stubAnswerer{}, tools, WithClassifier(odd))

	env := invoke(t, r, nil, "reset jane's password")
	assert.Equal(t, Envelope{Action: ActionNone, Result: helpReply}, env)
}

func TestRouter_GuardrailsRejectInvalidArguments(t *testing.T) {
	tools, stubs := stubMenu()
	bad := &fixedClassifier{decision: ports.IntentDecision{
		Target:    ports.TargetProvision,
		Operation: "list_users",
		Args:      ports.Args{argMaxResults: "lots"},
	}}
	r := NewRouter(&stubAnswerer{}, tools, WithClassifier(bad))

	env := invoke(t, r, nil, "list lots of users")
	assert.Equal(t, ActionProvision, env.Action)
	assert.True(t, strings.HasPrefix(env.Result, ErrorMarker), env.Result)
	assert.Zero(t, stubs["list_users"].callCount())
}

func TestRouter_AllowlistBlocksOperation(t *testing.T) {
	tools, stubs := stubMenu()
	g := NewGuardrails()
	g.AddAllowedOperation("list_users")
	r := NewRouter(&stubAnswerer{}, tools, WithGuardrails(g))

	env := invoke(t, r, nil, "who owns group "+guidA)
	assert.Equal(t, ActionProvision, env.Action)
	assert.Contains(t, env.Result, "not in allowlist")
	assert.Zero(t, stubs["get_group_owners"].callCount())
}

func TestRouter_FailuresBeforeCapabilityAreBusy(t *testing.T) {
	tools, _ := stubMenu()

	broken := &fixedClassifier{err: errors.New("model unavailable")}
	r := NewRouter(&stubAnswerer{}, tools, WithClassifier(broken))
	assert.Equal(t, Envelope{Action: ActionNone, Result: BusyMessage}, invoke(t, r, nil, "list users"))

	r = NewRouter(&stubAnswerer{}, tools, WithRateLimiter(denyLimiter{}))
	assert.Equal(t, Envelope{Action: ActionNone, Result: BusyMessage}, invoke(t, r, nil, "list users"))
}

func TestRouter_WindowsHistory(t *testing.T) {
	tools, _ := stubMenu()
	rec := &fixedClassifier{decision: ports.IntentDecision{Target: ports.TargetDirectReply, Reply: "hi"}}
	policy := DefaultPolicy()
	policy.MaxHistoryTurns = 2
	r := NewRouter(&stubAnswerer{}, tools, WithClassifier(rec), WithPolicy(policy))

	history := []ports.Turn{user("1"), assistant("2"), user("3"), assistant("4"), user("5")}
	invoke(t, r, history, "6")
	assert.Equal(t, []ports.Turn{assistant("4"), user("5")}, rec.history)
}

func TestRouter_MultiTurnGroupCreation(t *testing.T) {
	tools, stubs := stubMenu()
	stubs["create_group"].result = "✅ Group 'Finance' created with ID " + guidA
	r := NewRouter(&stubAnswerer{}, tools)

	var history []ports.Turn
	say := func(msg string) Envelope {
		env := invoke(t, r, history, msg)
		history = append(history, user(msg), assistant(env.Result))
		return env
	}

	assert.Equal(t, fieldPrompts[argDisplayName], say("I need a new group").Result)
	assert.Equal(t, fieldPrompts[argMailNickname], say("Finance").Result)
	final := say("finance")
	assert.Equal(t, Envelope{Action: ActionProvision, Result: "✅ Group 'Finance' created with ID " + guidA}, final)
	assert.Equal(t, ports.Args{argDisplayName: "Finance", argMailNickname: "finance"}, stubs["create_group"].calls[0])
}
