package orchestration

import (
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
)

// Argument names the router understands.
const (
	argMaxResults        = "max_results"
	argUserID            = "user_id"
	argGroupID           = "group_id"
	argOwnerID           = "owner_id"
	argDisplayName       = "display_name"
	argUserPrincipalName = "user_principal_name"
	argPassword          = "password"
	argMailNickname      = "mail_nickname"
	argField             = "field"
	argValue             = "value"

	// fieldConfirmation is the pseudo field collected by a yes/no turn.
	fieldConfirmation = "confirmation"
)

// Fixed assistant texts.
const (
	cancelReply   = "Okay, I've cancelled that request."
	greetingReply = "Hello! I can answer IAM questions or run provisioning tasks such as listing users, creating groups or managing group owners. What would you like to do?"
	thanksReply   = "You're welcome! Let me know if there is anything else I can help with."
	helpReply     = "I'm not sure what you'd like me to do. You can ask an IAM question (for example \"How do I register for MFA?\") or request a provisioning task such as list users, create a group, add a user to a group or count ownerless groups."
)

// triggers lists, per operation, the token sets that select it.
var triggers = map[string][][]string{
	"list_users":             {{tokList, tokUser}, {tokGet, tokUser}},
	"get_user_details":       {{tokUser, tokDetails}, {tokGet, tokUser}, {tokList, tokUser}},
	"create_user":            {{tokCreate, tokUser}, {tokNew, tokUser}, {tokAdd, tokUser}},
	"update_user":            {{tokUpdate, tokUser}},
	"delete_user":            {{tokDelete, tokUser}},
	"list_groups":            {{tokList, tokGroup}, {tokGet, tokGroup}},
	"get_group_details":      {{tokGroup, tokDetails}, {tokGet, tokGroup}, {tokList, tokGroup}},
	"create_group":           {{tokCreate, tokGroup}, {tokNew, tokGroup}},
	"update_group":           {{tokUpdate, tokGroup}},
	"delete_group":           {{tokDelete, tokGroup}},
	"add_user_to_group":      {{tokAdd, tokUser, tokGroup}, {tokAdd, tokMember}, {tokAdd, tokGroup}},
	"remove_user_from_group": {{tokRemove, tokGroup}, {tokRemove, tokMember}, {tokRemove, tokUser, tokGroup}, {tokDelete, tokMember}, {tokDelete, tokUser, tokGroup}},
	"assign_owner_to_group":  {{tokAssign, tokOwner}, {tokAdd, tokOwner}, {tokNew, tokOwner}, {tokAssign, tokOwner, tokGroup}, {tokAdd, tokOwner, tokGroup}},
	"get_group_owners":       {{tokOwner, tokGroup}, {tokList, tokOwner}, {tokGet, tokOwner}},
	"get_group_members":      {{tokMember, tokGroup}, {tokList, tokMember}, {tokGet, tokMember}, {tokList, tokUser, tokGroup}, {tokGet, tokUser, tokGroup}, {tokUser, tokGroup}},
	"count_ownerless_groups": {{tokCount, tokOwnerless}, {tokMany, tokOwnerless}, {tokCount, tokGroup, tokOwnerless}, {tokMany, tokGroup, tokOwnerless}},
	"list_ownerless_groups":  {{tokOwnerless, tokGroup}, {tokList, tokOwnerless}, {tokList, tokOwnerless, tokGroup}, {tokOwnerless}},
}

// tokenWeight favours qualifier words so specific operations beat generic ones.
var tokenWeight = map[string]int{
	tokDetails:   3,
	tokOwnerless: 3,
	tokOwner:     3,
	tokMember:    3,
}

func weight(token string) int {
	if w, ok := tokenWeight[token]; ok {
		return w
	}
	return 1
}

var fieldPrompts = map[string]string{
	argUserID:            "Please provide the user's User Principal Name (UPN) or object ID.",
	argGroupID:           "Please provide the group's object ID.",
	argOwnerID:           "Please provide the UPN or object ID of the user who should become owner.",
	argDisplayName:       "Please provide the display name.",
	argUserPrincipalName: "Please provide the User Principal Name (UPN) for the new user.",
	argPassword:          "Please provide an initial password for the new user.",
	argMailNickname:      "Please provide the mail nickname for the group.",
	argField:             "Which attribute would you like to update (for example jobTitle, department or displayName)?",
	argValue:             "What value should it be set to?",
}

// operationSpec is the router's view of one callable operation.
type operationSpec struct {
	name     string
	required []string
	schema   []byte
	confirm  bool
}

// needsID reports whether the operation targets an existing object.
func (s operationSpec) needsID() bool {
	for _, f := range s.required {
		if f == argUserID || f == argGroupID || f == argOwnerID {
			return true
		}
	}
	return false
}

func (s operationSpec) requires(field string) bool {
	for _, f := range s.required {
		if f == field {
			return true
		}
	}
	return false
}

// missing returns the required fields absent from args, confirmation last.
func (s operationSpec) missing(args ports.Args, confirmed bool) []string {
	var out []string
	for _, f := range s.required {
		if strings.TrimSpace(args[f]) == "" {
			out = append(out, f)
		}
	}
	if s.confirm && !confirmed {
		out = append(out, fieldConfirmation)
	}
	return out
}

// catalog is the ordered set of operations known to the router.
type catalog struct {
	specs []operationSpec
	index map[string]int
}

func newCatalog(tools []ports.ToolSpec, policy *Policy) *catalog {
	c := &catalog{index: make(map[string]int, len(tools))}
	for _, t := range tools {
		c.index[t.Name] = len(c.specs)
		c.specs = append(c.specs, operationSpec{
			name:     t.Name,
			required: requiredFields(t.JSONSchema),
			schema:   t.JSONSchema,
			confirm:  policy.requiresConfirmation(t.Name),
		})
	}
	return c
}

func (c *catalog) lookup(name string) (operationSpec, bool) {
	i, ok := c.index[name]
	if !ok {
		return operationSpec{}, false
	}
	return c.specs[i], true
}

// requiredFields reads the "required" list of a JSON schema.
func requiredFields(schema []byte) []string {
	if len(schema) == 0 {
		return nil
	}
	var s struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil
	}
	return s.Required
}

// promptFor returns the clarifying question for field.
func promptFor(op, field string, args ports.Args) string {
	switch field {
	case fieldConfirmation:
		return confirmPrompt(op, args)
	case argMaxResults:
		return fmt.Sprintf("How many %s would you like me to list?", listNoun(op))
	}
	if p, ok := fieldPrompts[field]; ok {
		return p
	}
	return fmt.Sprintf("Please provide the %s.", strings.ReplaceAll(field, "_", " "))
}

func listNoun(op string) string {
	switch op {
	case "list_users":
		return "users"
	case "list_ownerless_groups":
		return "ownerless groups"
	default:
		return "groups"
	}
}

// confirmPrompt asks for an explicit yes before a destructive operation.
func confirmPrompt(op string, args ports.Args) string {
	var what string
	switch op {
	case "delete_user":
		what = fmt.Sprintf("delete user '%s'", args[argUserID])
	case "delete_group":
		what = fmt.Sprintf("delete group '%s'", args[argGroupID])
	case "remove_user_from_group":
		what = fmt.Sprintf("remove user '%s' from group '%s'", args[argUserID], args[argGroupID])
	default:
		what = "run " + op
	}
	return fmt.Sprintf("Please confirm you want to %s. Reply yes to proceed or no to cancel.", what)
}
