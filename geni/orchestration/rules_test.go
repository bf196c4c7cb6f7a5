package orchestration

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/iam-geni/geni/capabilities/directory"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guidA = "0f8fad5b-d9cb-469f-a165-70867728950e"
	guidB = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
)

func menuSpecs() []ports.ToolSpec {
	return Specs(directory.Tools(directory.New()))
}

func newTestClassifier() *RuleClassifier {
	return NewRuleClassifier(menuSpecs(), DefaultPolicy())
}

func classify(t *testing.T, c *RuleClassifier, history []ports.Turn, input string) ports.IntentDecision {
	t.Helper()
	d, err := c.Classify(context.Background(), history, input)
	require.NoError(t, err)
	return d
}

func user(s string) ports.Turn      { return ports.Turn{Role: ports.RoleUser, Content: s} }
func assistant(s string) ports.Turn { return ports.Turn{Role: ports.RoleAssistant, Content: s} }

func TestLexicon_Canonical(t *testing.T) {
	lex := newLexicon()
	cases := map[string]string{
		"users":       tokUser,
		"owners":      tokOwner,
		"owns":        tokOwner,
		"ownerless":   tokOwnerless,
		"creating":    tokCreate,
		"modified":    tokUpdate,
		"information": tokDetails,
		"membership":  tokMember,
		"show":        tokList,
	}
	for word, want := range cases {
		got, ok := lex.canonical(word)
		assert.True(t, ok, word)
		assert.Equal(t, want, got, word)
	}

	for _, word := range []string{"settings", "address", "display", "however"} {
		_, ok := lex.canonical(word)
		assert.False(t, ok, word)
	}
}

func TestLexicon_NegatedOwner(t *testing.T) {
	lex := newLexicon()

	tokens := lex.tokens("Which groups have no owners?")
	assert.True(t, tokens[tokOwnerless])
	assert.False(t, tokens[tokOwner])
	assert.True(t, tokens[tokGroup])

	tokens = lex.tokens("groups without an owner")
	assert.True(t, tokens[tokOwnerless])

	tokens = lex.tokens("show the owners of the group")
	assert.True(t, tokens[tokOwner])
	assert.False(t, tokens[tokOwnerless])
}

func TestRuleClassifier_SelectsOperation(t *testing.T) {
	c := newTestClassifier()
	cases := []struct {
		input string
		op    string
		args  ports.Args
	}{
		{"list 10 users", "list_users", ports.Args{argMaxResults: "10"}},
		{"show me 25 groups", "list_groups", ports.Args{argMaxResults: "25"}},
		{"get details for user jane.doe@contoso.com", "get_user_details", ports.Args{argUserID: "jane.doe@contoso.com"}},
		{"add jane@contoso.com to group " + guidA, "add_user_to_group", ports.Args{argUserID: "jane@contoso.com", argGroupID: guidA}},
		{"add user " + guidB + " to group " + guidA, "add_user_to_group", ports.Args{argUserID: guidB, argGroupID: guidA}},
		{"how many groups have no owners", "count_ownerless_groups", ports.Args{}},
		{"count ownerless groups", "count_ownerless_groups", ports.Args{}},
		{"list 5 groups without owners", "list_ownerless_groups", ports.Args{argMaxResults: "5"}},
		{"who owns group " + guidA, "get_group_owners", ports.Args{argGroupID: guidA}},
		{"show members of group " + guidA, "get_group_members", ports.Args{argGroupID: guidA}},
		{"list users in group " + guidA, "get_group_members", ports.Args{argGroupID: guidA}},
		{"show the users of group " + guidA, "get_group_members", ports.Args{argGroupID: guidA}},
		{"show all users", "list_users", ports.Args{argMaxResults: "999"}},
		{"list every group", "list_groups", ports.Args{argMaxResults: "999"}},
		{"group info for " + guidA, "get_group_details", ports.Args{argGroupID: guidA}},
		{"make jane@contoso.com owner of group " + guidA, "assign_owner_to_group", ports.Args{argOwnerID: "jane@contoso.com", argGroupID: guidA}},
		{
			"change the department of jane@contoso.com to Sales",
			"update_user",
			ports.Args{argUserID: "jane@contoso.com", argField: "department", argValue: "Sales"},
		},
		{
			"update user jane@contoso.com set department to Sales",
			"update_user",
			ports.Args{argUserID: "jane@contoso.com", argField: "department", argValue: "Sales"},
		},
		{
			"update group " + guidA + " set description to Finance team",
			"update_group",
			ports.Args{argGroupID: guidA, argField: "description", argValue: "Finance team"},
		},
		{
			"create a group named Finance Team with nickname finance-team",
			"create_group",
			ports.Args{argDisplayName: "Finance Team", argMailNickname: "finance-team"},
		},
		{
			`create user "Jane Doe" jane.doe@contoso.com with password Str0ng!Pass`,
			"create_user",
			ports.Args{argDisplayName: "Jane Doe", argUserPrincipalName: "jane.doe@contoso.com", argPassword: "Str0ng!Pass"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			d := classify(t, c, nil, tc.input)
			require.Equal(t, ports.TargetProvision, d.Target, "reply: %s", d.Reply)
			assert.Equal(t, tc.op, d.Operation)
			assert.Equal(t, tc.args, d.Args)
		})
	}
}

func TestRuleClassifier_OwnerlessBeatsGenericGroups(t *testing.T) {
	c := newTestClassifier()

	d := classify(t, c, nil, "list ownerless groups")
	assert.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, "list_ownerless_groups", d.Operation)
	assert.Equal(t, "How many ownerless groups would you like me to list?", d.Reply)

	d = classify(t, c, nil, "list 20 groups")
	assert.Equal(t, "list_groups", d.Operation)
}

func TestRuleClassifier_Questions(t *testing.T) {
	c := newTestClassifier()
	for _, q := range []string{
		"How do I register for MFA?",
		"How do I create a new user?",
		"What is privileged access?",
		"I lost my phone and can't sign in",
		"tell me about access reviews",
	} {
		d := classify(t, c, nil, q)
		assert.Equal(t, ports.TargetQA, d.Target, q)
		assert.Equal(t, q, d.Question, q)
	}
}

func TestRuleClassifier_DirectReplies(t *testing.T) {
	c := newTestClassifier()

	assert.Equal(t, greetingReply, classify(t, c, nil, "hello there").Reply)
	assert.Equal(t, thanksReply, classify(t, c, nil, "great, thanks a lot").Reply)

	d := classify(t, c, nil, "banana")
	assert.Equal(t, ports.TargetDirectReply, d.Target)
	assert.Equal(t, helpReply, d.Reply)
}

func TestRuleClassifier_CollectsFieldsAcrossTurns(t *testing.T) {
	c := newTestClassifier()

	d := classify(t, c, nil, "create a new user")
	require.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, "create_user", d.Operation)
	assert.Equal(t, []string{argDisplayName, argUserPrincipalName, argPassword}, d.Missing)
	assert.Equal(t, fieldPrompts[argDisplayName], d.Reply)

	history := []ports.Turn{user("create a new user"), assistant(d.Reply)}
	d = classify(t, c, history, "Jane Doe")
	require.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, fieldPrompts[argUserPrincipalName], d.Reply)

	history = append(history, user("Jane Doe"), assistant(d.Reply))
	d = classify(t, c, history, "jane.doe@contoso.com")
	require.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, fieldPrompts[argPassword], d.Reply)

	history = append(history, user("jane.doe@contoso.com"), assistant(d.Reply))
	d = classify(t, c, history, "Str0ng!Pass")
	require.Equal(t, ports.TargetProvision, d.Target)
	assert.Equal(t, "create_user", d.Operation)
	assert.Equal(t, ports.Args{
		argDisplayName:       "Jane Doe",
		argUserPrincipalName: "jane.doe@contoso.com",
		argPassword:          "Str0ng!Pass",
	}, d.Args)
}

func TestRuleClassifier_MaxResultsAnswer(t *testing.T) {
	c := newTestClassifier()

	d := classify(t, c, nil, "list users")
	require.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, "How many users would you like me to list?", d.Reply)

	history := []ports.Turn{user("list users"), assistant(d.Reply)}
	d = classify(t, c, history, "15")
	require.Equal(t, ports.TargetProvision, d.Target)
	assert.Equal(t, "list_users", d.Operation)
	assert.Equal(t, "15", d.Args[argMaxResults])

	d = classify(t, c, history, "every one of them")
	require.Equal(t, ports.TargetProvision, d.Target)
	assert.Equal(t, "999", d.Args[argMaxResults])
}

func TestRuleClassifier_DeleteNeedsConfirmation(t *testing.T) {
	c := newTestClassifier()

	d := classify(t, c, nil, "delete user bob@contoso.com")
	require.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, "delete_user", d.Operation)
	assert.Equal(t, []string{fieldConfirmation}, d.Missing)
	assert.Equal(t, "Please confirm you want to delete user 'bob@contoso.com'. Reply yes to proceed or no to cancel.", d.Reply)

	history := []ports.Turn{user("delete user bob@contoso.com"), assistant(d.Reply)}

	yes := classify(t, c, history, "yes")
	require.Equal(t, ports.TargetProvision, yes.Target)
	assert.Equal(t, "delete_user", yes.Operation)
	assert.Equal(t, ports.Args{argUserID: "bob@contoso.com"}, yes.Args)

	no := classify(t, c, history, "no, keep them")
	assert.Equal(t, ports.TargetDirectReply, no.Target)
	assert.Equal(t, cancelReply, no.Reply)
}

func TestRuleClassifier_ConfirmationMustAnswerPrompt(t *testing.T) {
	c := newTestClassifier()

	history := []ports.Turn{
		user("delete user bob@contoso.com"),
		assistant("Something else entirely."),
	}
	d := classify(t, c, history, "yes")
	assert.NotEqual(t, ports.TargetProvision, d.Target)

	// a confirmation turn in history is consumed once
	history = []ports.Turn{
		user("delete user bob@contoso.com"),
		assistant(confirmPrompt("delete_user", ports.Args{argUserID: "bob@contoso.com"})),
		user("yes"),
		assistant("✅ User 'bob@contoso.com' deleted."),
	}
	d = classify(t, c, history, "yes")
	assert.NotEqual(t, ports.TargetProvision, d.Target)
}

func TestRuleClassifier_RemoveMemberWithUnlabelledIDs(t *testing.T) {
	c := newTestClassifier()

	d := classify(t, c, nil, "remove "+guidB+" from group "+guidA)
	require.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, "remove_user_from_group", d.Operation)
	assert.Equal(t, ports.Args{argUserID: guidB, argGroupID: guidA}, d.Args)
	assert.Equal(t, "Please confirm you want to remove user '"+guidB+"' from group '"+guidA+"'. Reply yes to proceed or no to cancel.", d.Reply)
}

func TestRuleClassifier_SwitchesIntent(t *testing.T) {
	c := newTestClassifier()

	d := classify(t, c, nil, "get user details")
	require.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, fieldPrompts[argUserID], d.Reply)

	history := []ports.Turn{user("get user details"), assistant(d.Reply)}
	d = classify(t, c, history, "actually list 10 groups")
	require.Equal(t, ports.TargetProvision, d.Target)
	assert.Equal(t, "list_groups", d.Operation)
}

func TestRuleClassifier_ReasksOnUnusableAnswer(t *testing.T) {
	c := newTestClassifier()

	history := []ports.Turn{user("show group details"), assistant(fieldPrompts[argGroupID])}
	d := classify(t, c, history, "I am not sure what that is")
	assert.Equal(t, ports.TargetClarify, d.Target)
	assert.Equal(t, "get_group_details", d.Operation)
	assert.Equal(t, fieldPrompts[argGroupID], d.Reply)

	d = classify(t, c, history, guidA)
	require.Equal(t, ports.TargetProvision, d.Target)
	assert.Equal(t, ports.Args{argGroupID: guidA}, d.Args)
}

func TestRuleClassifier_CancelWhileCollecting(t *testing.T) {
	c := newTestClassifier()

	history := []ports.Turn{user("create a group"), assistant(fieldPrompts[argDisplayName])}
	d := classify(t, c, history, "never mind")
	assert.Equal(t, ports.TargetDirectReply, d.Target)
	assert.Equal(t, cancelReply, d.Reply)
}

func TestRuleClassifier_ReadsEnvelopeShapedHistory(t *testing.T) {
	c := newTestClassifier()

	history := []ports.Turn{
		user("list users"),
		assistant(`{"action":"none","result":"How many users would you like me to list?"}`),
	}
	d := classify(t, c, history, "all")
	require.Equal(t, ports.TargetProvision, d.Target)
	assert.Equal(t, "999", d.Args[argMaxResults])
}

func TestExtract_FieldAssignment(t *testing.T) {
	field, value, ok := fieldAssignment("set job title of jane@contoso.com to Senior Engineer.")
	require.True(t, ok)
	assert.Equal(t, "jobTitle", field)
	assert.Equal(t, "Senior Engineer", value)

	field, value, ok = fieldAssignment("update the user's office location to Building 7")
	require.True(t, ok)
	assert.Equal(t, "officeLocation", field)
	assert.Equal(t, "Building 7", value)

	field, value, ok = fieldAssignment("update user jane@contoso.com set department to Sales")
	require.True(t, ok)
	assert.Equal(t, "department", field)
	assert.Equal(t, "Sales", value)

	field, value, ok = fieldAssignment("update group " + guidA + " set description to Finance team")
	require.True(t, ok)
	assert.Equal(t, "description", field)
	assert.Equal(t, "Finance team", value)

	field, value, ok = fieldAssignment("change job title to Change Manager")
	require.True(t, ok)
	assert.Equal(t, "jobTitle", field)
	assert.Equal(t, "Change Manager", value)

	_, _, ok = fieldAssignment("update user jane@contoso.com")
	assert.False(t, ok)
}

func TestExtract_FirstCountSkipsIdentifiers(t *testing.T) {
	n, ok := firstCount("list members of " + guidA + " top 3")
	require.True(t, ok)
	assert.Equal(t, "3", n)

	_, ok = firstCount("list 5000 users")
	assert.False(t, ok)
}
