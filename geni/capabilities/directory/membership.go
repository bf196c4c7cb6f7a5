package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type graphDirectoryObject struct {
	ID                *string `json:"id"`
	DisplayName       *string `json:"displayName"`
	UserPrincipalName *string `json:"userPrincipalName"`
	MailNickname      *string `json:"mailNickname"`
	ODataType         string  `json:"@odata.type"`
}

// MemberRow is one row of the owners and members listings.
type MemberRow struct {
	DisplayName *string `json:"Display Name"`
	Handle      string  `json:"UPN/Nickname"`
	ID          *string `json:"Id"`
	Type        string  `json:"Type"`
}

func memberRow(o graphDirectoryObject) MemberRow {
	handle := ""
	switch {
	case o.UserPrincipalName != nil && *o.UserPrincipalName != "":
		handle = *o.UserPrincipalName
	case o.MailNickname != nil:
		handle = *o.MailNickname
	}
	// "#microsoft.graph.user" -> "user"
	kind := o.ODataType
	if i := strings.LastIndexByte(kind, '.'); i >= 0 {
		kind = kind[i+1:]
	}
	return MemberRow{DisplayName: o.DisplayName, Handle: handle, ID: o.ID, Type: kind}
}

// AddUserToGroup adds a user to a group's members.
func (c *Client) AddUserToGroup(ctx context.Context, userID, groupID string) (string, error) {
	payload := map[string]string{"@odata.id": c.url("/users/%s", url.PathEscape(userID))}
	resp, err := c.do(ctx, http.MethodPost, c.url("/groups/%s/members/$ref", url.PathEscape(groupID)), payload)
	if err != nil {
		return "", fmt.Errorf("failed to add user to group: %w", err)
	}
	if !resp.ok(http.StatusNoContent) {
		return resp.errorText("adding user to group"), nil
	}
	return fmt.Sprintf("✅ User '%s' added to group '%s'.", userID, groupID), nil
}

// RemoveUserFromGroup removes a user from a group's members.
func (c *Client) RemoveUserFromGroup(ctx context.Context, userID, groupID string) (string, error) {
	u := c.url("/groups/%s/members/%s/$ref", url.PathEscape(groupID), url.PathEscape(userID))
	resp, err := c.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to remove user from group: %w", err)
	}
	if !resp.ok(http.StatusNoContent) {
		return resp.errorText("removing user from group"), nil
	}
	return fmt.Sprintf("🚪 User '%s' removed from group '%s'.", userID, groupID), nil
}

// AssignOwnerToGroup adds a user to a group's owners.
func (c *Client) AssignOwnerToGroup(ctx context.Context, ownerID, groupID string) (string, error) {
	payload := map[string]string{"@odata.id": c.url("/users/%s", url.PathEscape(ownerID))}
	resp, err := c.do(ctx, http.MethodPost, c.url("/groups/%s/owners/$ref", url.PathEscape(groupID)), payload)
	if err != nil {
		return "", fmt.Errorf("failed to assign owner: %w", err)
	}
	if !resp.ok(http.StatusNoContent) {
		return resp.errorText("assigning owner"), nil
	}
	return fmt.Sprintf("👑 User '%s' assigned as owner of group '%s'.", ownerID, groupID), nil
}

// GetGroupOwners lists a group's owners as a JSON array of rows.
func (c *Client) GetGroupOwners(ctx context.Context, groupID string) (string, error) {
	return c.listGroupObjects(ctx, groupID, "owners")
}

// GetGroupMembers lists a group's members as a JSON array of rows.
func (c *Client) GetGroupMembers(ctx context.Context, groupID string) (string, error) {
	return c.listGroupObjects(ctx, groupID, "members")
}

func (c *Client) listGroupObjects(ctx context.Context, groupID, relation string) (string, error) {
	u := c.url("/groups/%s/%s?$select=id,displayName,userPrincipalName,mailNickname,@odata.type", url.PathEscape(groupID), relation)

	rows := []MemberRow{}
	errText, err := collect(ctx, c, u, fmt.Sprintf("fetching %s for group '%s'", relation, groupID), func(o graphDirectoryObject) bool {
		rows = append(rows, memberRow(o))
		return true
	})
	if err != nil {
		return "", fmt.Errorf("failed to list group %s: %w", relation, err)
	}
	if errText != "" {
		return errText, nil
	}
	return marshalResult(rows)
}
