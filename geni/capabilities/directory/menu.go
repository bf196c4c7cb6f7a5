package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
)

// Argument names shared by the operations.
const (
	ArgMaxResults        = "max_results"
	ArgUserID            = "user_id"
	ArgGroupID           = "group_id"
	ArgOwnerID           = "owner_id"
	ArgDisplayName       = "display_name"
	ArgUserPrincipalName = "user_principal_name"
	ArgPassword          = "password"
	ArgMailNickname      = "mail_nickname"
	ArgField             = "field"
	ArgValue             = "value"
)

// Param describes one required string argument.
type Param struct {
	Name        string
	Description string
	Pattern     string // optional JSON schema pattern
}

// Operation is one entry of the fixed provisioning menu.
type Operation struct {
	Name        string
	Description string
	Params      []Param
	ReadOnly    bool
	Destructive bool
	run         func(ctx context.Context, c *Client, args ports.Args) (string, error)
}

var (
	maxResultsParam = Param{Name: ArgMaxResults, Description: "Maximum number of rows to return (1-999)", Pattern: `^[1-9][0-9]{0,2}$`}
	userIDParam     = Param{Name: ArgUserID, Description: "User principal name or object ID of the user"}
	groupIDParam    = Param{Name: ArgGroupID, Description: "Object ID of the group"}
	fieldParam      = Param{Name: ArgField, Description: "Graph attribute to set, e.g. jobTitle"}
	valueParam      = Param{Name: ArgValue, Description: "New attribute value"}
)

// Menu is the fixed set of provisioning operations, in presentation order.
var Menu = []Operation{
	{
		Name:        "list_users",
		Description: "List users; returns a JSON array of rows.",
		Params:      []Param{maxResultsParam},
		ReadOnly:    true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			n, err := maxResults(a)
			if err != nil {
				return "", err
			}
			return c.ListUsers(ctx, n)
		},
	},
	{
		Name:        "get_user_details",
		Description: "Get details for a specific user by UPN or object ID.",
		Params:      []Param{userIDParam},
		ReadOnly:    true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.GetUserDetails(ctx, a[ArgUserID])
		},
	},
	{
		Name:        "create_user",
		Description: "Create a new user in the directory.",
		Params: []Param{
			{Name: ArgDisplayName, Description: "Display name of the new user"},
			{Name: ArgUserPrincipalName, Description: "User principal name, e.g. jane@contoso.com", Pattern: `^[^@\s]+@[^@\s]+$`},
			{Name: ArgPassword, Description: "Initial password; must be changed at first sign-in"},
		},
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.CreateUser(ctx, a[ArgDisplayName], a[ArgUserPrincipalName], a[ArgPassword])
		},
	},
	{
		Name:        "update_user",
		Description: "Update a field for an existing user.",
		Params:      []Param{userIDParam, fieldParam, valueParam},
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.UpdateUser(ctx, a[ArgUserID], a[ArgField], a[ArgValue])
		},
	},
	{
		Name:        "delete_user",
		Description: "Delete a user from the directory.",
		Params:      []Param{userIDParam},
		Destructive: true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.DeleteUser(ctx, a[ArgUserID])
		},
	},
	{
		Name:        "list_groups",
		Description: "List groups; returns a JSON array of rows.",
		Params:      []Param{maxResultsParam},
		ReadOnly:    true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			n, err := maxResults(a)
			if err != nil {
				return "", err
			}
			return c.ListGroups(ctx, n)
		},
	},
	{
		Name:        "get_group_details",
		Description: "Get details for a specific group by its object ID.",
		Params:      []Param{groupIDParam},
		ReadOnly:    true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.GetGroupDetails(ctx, a[ArgGroupID])
		},
	},
	{
		Name:        "create_group",
		Description: "Create a new security-enabled group.",
		Params: []Param{
			{Name: ArgDisplayName, Description: "Display name of the new group"},
			{Name: ArgMailNickname, Description: "Mail nickname of the new group", Pattern: `^\S+$`},
		},
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.CreateGroup(ctx, a[ArgDisplayName], a[ArgMailNickname])
		},
	},
	{
		Name:        "update_group",
		Description: "Update a field for an existing group.",
		Params:      []Param{groupIDParam, fieldParam, valueParam},
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.UpdateGroup(ctx, a[ArgGroupID], a[ArgField], a[ArgValue])
		},
	},
	{
		Name:        "delete_group",
		Description: "Delete an existing group.",
		Params:      []Param{groupIDParam},
		Destructive: true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.DeleteGroup(ctx, a[ArgGroupID])
		},
	},
	{
		Name:        "add_user_to_group",
		Description: "Add a user to a group.",
		Params:      []Param{userIDParam, groupIDParam},
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.AddUserToGroup(ctx, a[ArgUserID], a[ArgGroupID])
		},
	},
	{
		Name:        "remove_user_from_group",
		Description: "Remove a user from a group.",
		Params:      []Param{userIDParam, groupIDParam},
		Destructive: true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.RemoveUserFromGroup(ctx, a[ArgUserID], a[ArgGroupID])
		},
	},
	{
		Name:        "assign_owner_to_group",
		Description: "Assign a user as owner of a group.",
		Params: []Param{
			{Name: ArgOwnerID, Description: "User principal name or object ID of the new owner"},
			groupIDParam,
		},
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.AssignOwnerToGroup(ctx, a[ArgOwnerID], a[ArgGroupID])
		},
	},
	{
		Name:        "get_group_owners",
		Description: "Show group owners; returns a JSON array of rows.",
		Params:      []Param{groupIDParam},
		ReadOnly:    true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.GetGroupOwners(ctx, a[ArgGroupID])
		},
	},
	{
		Name:        "get_group_members",
		Description: "Show group members; returns a JSON array of rows.",
		Params:      []Param{groupIDParam},
		ReadOnly:    true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			return c.GetGroupMembers(ctx, a[ArgGroupID])
		},
	},
	{
		Name:        "count_ownerless_groups",
		Description: "Count groups without owners; returns a JSON object with count and groups.",
		ReadOnly:    true,
		run: func(ctx context.Context, c *Client, _ ports.Args) (string, error) {
			return c.CountOwnerlessGroups(ctx)
		},
	},
	{
		Name:        "list_ownerless_groups",
		Description: "List groups without owners; returns a JSON array of rows.",
		Params:      []Param{maxResultsParam},
		ReadOnly:    true,
		run: func(ctx context.Context, c *Client, a ports.Args) (string, error) {
			n, err := maxResults(a)
			if err != nil {
				return "", err
			}
			return c.ListOwnerlessGroups(ctx, n)
		},
	},
}

// Lookup finds a menu operation by name.
func Lookup(name string) (Operation, bool) {
	for _, op := range Menu {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// Schema returns the JSON schema of the operation's arguments.
func (o Operation) Schema() []byte {
	properties := make(map[string]any, len(o.Params))
	required := make([]string, 0, len(o.Params))
	for _, p := range o.Params {
		prop := map[string]any{"type": "string", "minLength": 1, "description": p.Description}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		properties[p.Name] = prop
		required = append(required, p.Name)
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	schema, _ := json.Marshal(doc)
	return schema
}

func maxResults(a ports.Args) (int, error) {
	n, err := strconv.Atoi(a[ArgMaxResults])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive number", ArgMaxResults, a[ArgMaxResults])
	}
	return n, nil
}

// Tool adapts a menu operation to the orchestration Tool port.
type Tool struct {
	op     Operation
	client *Client
}

// Name returns the operation name.
func (t *Tool) Name() string { return t.op.Name }

// Description returns the operation description.
func (t *Tool) Description() string { return t.op.Description }

// Schema returns the argument schema.
func (t *Tool) Schema() []byte { return t.op.Schema() }

// Operation returns the menu entry backing the tool.
func (t *Tool) Operation() Operation { return t.op }

// Invoke runs the operation and returns its raw result.
func (t *Tool) Invoke(ctx context.Context, args ports.Args) (string, error) {
	return t.op.run(ctx, t.client, args)
}

// Tools binds every menu operation to a client.
func Tools(c *Client) []ports.Tool {
	tools := make([]ports.Tool, 0, len(Menu))
	for _, op := range Menu {
		tools = append(tools, &Tool{op: op, client: c})
	}
	return tools
}

// Ensure Tool implements the Tool interface.
var _ ports.Tool = (*Tool)(nil)
