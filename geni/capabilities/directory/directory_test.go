package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph routes requests by "METHOD path" and records them.
type fakeGraph struct {
	t        *testing.T
	mu       sync.Mutex
	server   *httptest.Server
	handlers map[string]http.HandlerFunc
	requests []string
	bodies   map[string]string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	f := &fakeGraph{t: t, handlers: map[string]http.HandlerFunc{}, bodies: map[string]string{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, key+"?"+r.URL.RawQuery)
		f.bodies[key] = string(body)
		h, ok := f.handlers[key]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGraph) on(method, path string, h http.HandlerFunc) {
	f.handlers[method+" "+path] = h
}

func (f *fakeGraph) client() *Client {
	return New(WithBaseURL(f.server.URL), WithHTTPClient(f.server.Client()), WithOwnerConcurrency(3))
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestListUsers_FollowsNextLinkAndStopsAtMax(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodGet, "/users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			jsonHandler(200, `{"value":[{"id":"3","displayName":"Cy","userPrincipalName":"cy@contoso.com","accountEnabled":false},{"id":"4"}]}`)(w, r)
			return
		}
		assert.Equal(t, "3", r.URL.Query().Get("$top"))
		jsonHandler(200, fmt.Sprintf(`{"value":[{"id":"1","displayName":"Ann","userPrincipalName":"ann@contoso.com","accountEnabled":true},{"id":"2","displayName":"Bo","userPrincipalName":"bo@contoso.com","accountEnabled":true}],"@odata.nextLink":"%s/users?page=2"}`, f.server.URL))(w, r)
	})

	out, err := f.client().ListUsers(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t,
		`[{"Display Name":"Ann","UPN":"ann@contoso.com","Id":"1","Enabled":true},{"Display Name":"Bo","UPN":"bo@contoso.com","Id":"2","Enabled":true},{"Display Name":"Cy","UPN":"cy@contoso.com","Id":"3","Enabled":false}]`,
		out)
}

func TestListUsers_Empty(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodGet, "/users", jsonHandler(200, `{"value":[]}`))

	out, err := f.client().ListUsers(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestListUsers_PageSizeCapped(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodGet, "/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "999", r.URL.Query().Get("$top"))
		jsonHandler(200, `{"value":[]}`)(w, r)
	})
	_, err := f.client().ListUsers(context.Background(), 5000)
	require.NoError(t, err)
}

func TestNon2xxBecomesErrorText(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodGet, "/groups", jsonHandler(403, `{"error":{"code":"Authorization_RequestDenied"}}`))

	out, err := f.client().ListGroups(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, `❌ Error listing groups: 403 – {"error":{"code":"Authorization_RequestDenied"}}`, out)
}

func TestTransportFailureIsError(t *testing.T) {
	f := newFakeGraph(t)
	c := f.client()
	f.server.Close()

	_, err := c.DeleteUser(context.Background(), "ann@contoso.com")
	assert.Error(t, err)
}

func TestGetUserDetails(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodGet, "/users/ann@contoso.com", jsonHandler(200, `{"displayName":"Ann","userPrincipalName":"ann@contoso.com","department":"IAM"}`))

	out, err := f.client().GetUserDetails(context.Background(), "ann@contoso.com")
	require.NoError(t, err)
	assert.Equal(t, "👤 Display Name: Ann\n📧 UPN: ann@contoso.com\n🏢 Department: IAM\n🧑‍💼 Title: N/A", out)

	out, err = f.client().GetUserDetails(context.Background(), "missing@contoso.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "❌ Error fetching user 'missing@contoso.com': 404 – "))
}

func TestCreateUserPayload(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodPost, "/users", jsonHandler(201, `{"id":"new"}`))

	out, err := f.client().CreateUser(context.Background(), "Jane Doe", "jane@contoso.com", "P@ss-1234")
	require.NoError(t, err)
	assert.Equal(t, "✅ User 'Jane Doe' created.", out)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.bodies["POST /users"]), &payload))
	assert.Equal(t, true, payload["accountEnabled"])
	assert.Equal(t, "jane", payload["mailNickname"])
	profile := payload["passwordProfile"].(map[string]any)
	assert.Equal(t, true, profile["forceChangePasswordNextSignIn"])
	assert.Equal(t, "P@ss-1234", profile["password"])
}

func TestCreateGroupPayload(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodPost, "/groups", jsonHandler(201, `{}`))

	out, err := f.client().CreateGroup(context.Background(), "Sales", "sales")
	require.NoError(t, err)
	assert.Equal(t, "✅ Group 'Sales' created.", out)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.bodies["POST /groups"]), &payload))
	assert.Equal(t, false, payload["mailEnabled"])
	assert.Equal(t, true, payload["securityEnabled"])
	assert.Equal(t, []any{}, payload["groupTypes"])
}

func TestMutationTexts(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodPatch, "/users/u1", jsonHandler(204, ""))
	f.on(http.MethodDelete, "/groups/g1", jsonHandler(204, ""))
	f.on(http.MethodPost, "/groups/g1/members/$ref", jsonHandler(204, ""))
	f.on(http.MethodDelete, "/groups/g1/members/u1/$ref", jsonHandler(204, ""))
	f.on(http.MethodPost, "/groups/g1/owners/$ref", jsonHandler(204, ""))
	c := f.client()
	ctx := context.Background()

	out, err := c.UpdateUser(ctx, "u1", "jobTitle", "Engineer")
	require.NoError(t, err)
	assert.Equal(t, "✅ Updated user 'u1': set jobTitle = Engineer", out)
	assert.JSONEq(t, `{"jobTitle":"Engineer"}`, f.bodies["PATCH /users/u1"])

	out, err = c.DeleteGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "🗑️ Group 'g1' deleted.", out)

	out, err = c.AddUserToGroup(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, "✅ User 'u1' added to group 'g1'.", out)
	assert.JSONEq(t, fmt.Sprintf(`{"@odata.id":"%s/users/u1"}`, f.server.URL), f.bodies["POST /groups/g1/members/$ref"])

	out, err = c.RemoveUserFromGroup(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, "🚪 User 'u1' removed from group 'g1'.", out)

	out, err = c.AssignOwnerToGroup(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, "👑 User 'u1' assigned as owner of group 'g1'.", out)

	out, err = c.UpdateGroup(ctx, "g2", "description", "x")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "❌ Error updating group: 404 – "))
}

func TestGetGroupMembersRows(t *testing.T) {
	f := newFakeGraph(t)
	f.on(http.MethodGet, "/groups/g1/members", jsonHandler(200,
		`{"value":[{"@odata.type":"#microsoft.graph.user","id":"u1","displayName":"Ann","userPrincipalName":"ann@contoso.com"},{"@odata.type":"#microsoft.graph.group","id":"g9","displayName":"Nested","mailNickname":"nested"}]}`))

	out, err := f.client().GetGroupMembers(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t,
		`[{"Display Name":"Ann","UPN/Nickname":"ann@contoso.com","Id":"u1","Type":"user"},{"Display Name":"Nested","UPN/Nickname":"nested","Id":"g9","Type":"group"}]`,
		out)
}

func ownerlessFixture(t *testing.T) *fakeGraph {
	f := newFakeGraph(t)
	f.on(http.MethodGet, "/groups", jsonHandler(200,
		`{"value":[{"id":"g1","displayName":"Alpha"},{"id":"g2","displayName":"Beta"},{"id":"g3","displayName":"Gamma"},{"id":"g4","displayName":"Delta"}]}`))
	f.on(http.MethodGet, "/groups/g1/owners", jsonHandler(200, `{"value":[]}`))
	f.on(http.MethodGet, "/groups/g2/owners", jsonHandler(200, `{"value":[{"id":"u1"}]}`))
	f.on(http.MethodGet, "/groups/g3/owners", jsonHandler(500, `boom`)) // counted as owned
	f.on(http.MethodGet, "/groups/g4/owners", jsonHandler(200, `{"value":[]}`))
	return f
}

func TestCountOwnerlessGroups(t *testing.T) {
	f := ownerlessFixture(t)

	out, err := f.client().CountOwnerlessGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"count":2,"groups":[{"Group Name":"Alpha","Group ID":"g1"},{"Group Name":"Delta","Group ID":"g4"}]}`, out)
}

func TestListOwnerlessGroups_RespectsMax(t *testing.T) {
	f := ownerlessFixture(t)

	out, err := f.client().ListOwnerlessGroups(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, `[{"Group Name":"Alpha","Group ID":"g1"}]`, out)

	assert.Contains(t, f.requests, "GET /groups?$select=id,displayName&$top=5")
}

func TestMenuAndTools(t *testing.T) {
	require.Len(t, Menu, 17)

	f := newFakeGraph(t)
	f.on(http.MethodGet, "/groups", jsonHandler(200, `{"value":[]}`))
	tools := Tools(f.client())
	require.Len(t, tools, 17)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name())
		var schema map[string]any
		require.NoError(t, json.Unmarshal(tool.Schema(), &schema), tool.Name())
		assert.Equal(t, "object", schema["type"])
	}
	assert.Contains(t, names, "count_ownerless_groups")
	assert.Contains(t, names, "update_group")

	op, ok := Lookup("delete_user")
	require.True(t, ok)
	assert.True(t, op.Destructive)

	_, ok = Lookup("drop_database")
	assert.False(t, ok)

	// list_groups through the tool port
	var listGroups ports.Tool
	for _, tool := range tools {
		if tool.Name() == "list_groups" {
			listGroups = tool
		}
	}
	out, err := listGroups.Invoke(context.Background(), ports.Args{ArgMaxResults: "10"})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	_, err = listGroups.Invoke(context.Background(), ports.Args{ArgMaxResults: "many"})
	assert.Error(t, err)
}

func TestNewFromConfigRequiresCredentials(t *testing.T) {
	_, err := NewFromConfig(config.GraphConfig{TenantID: "contoso", ClientID: "app"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
