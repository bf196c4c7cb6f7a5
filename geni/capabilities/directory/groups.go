package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type graphGroup struct {
	ID              *string `json:"id"`
	DisplayName     *string `json:"displayName"`
	MailNickname    *string `json:"mailNickname"`
	SecurityEnabled *bool   `json:"securityEnabled"`
	CreatedDateTime *string `json:"createdDateTime"`
}

// GroupRow is one row of the list_groups result.
type GroupRow struct {
	GroupName       *string `json:"Group Name"`
	GroupID         *string `json:"Group ID"`
	MailNickname    *string `json:"Mail Nickname"`
	SecurityEnabled *bool   `json:"Security Enabled"`
}

// ListGroups returns up to maxResults groups as a JSON array of rows.
func (c *Client) ListGroups(ctx context.Context, maxResults int) (string, error) {
	u := c.url("/groups?$select=id,displayName,mailNickname,securityEnabled&$top=%d", pageSize(maxResults))

	rows := []GroupRow{}
	errText, err := collect(ctx, c, u, "listing groups", func(g graphGroup) bool {
		if len(rows) >= maxResults {
			return false
		}
		rows = append(rows, GroupRow{
			GroupName:       g.DisplayName,
			GroupID:         g.ID,
			MailNickname:    g.MailNickname,
			SecurityEnabled: g.SecurityEnabled,
		})
		return len(rows) < maxResults
	})
	if err != nil {
		return "", fmt.Errorf("failed to list groups: %w", err)
	}
	if errText != "" {
		return errText, nil
	}
	return marshalResult(rows)
}

// GetGroupDetails returns a text block describing one group.
func (c *Client) GetGroupDetails(ctx context.Context, groupID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url("/groups/%s", url.PathEscape(groupID)), nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch group: %w", err)
	}
	if !resp.ok(http.StatusOK) {
		return resp.errorText(fmt.Sprintf("fetching group '%s'", groupID)), nil
	}

	var g graphGroup
	if err := json.Unmarshal(resp.body, &g); err != nil {
		return "", fmt.Errorf("failed to decode group: %w", err)
	}
	security := "N/A"
	if g.SecurityEnabled != nil {
		security = strconv.FormatBool(*g.SecurityEnabled)
	}
	return strings.Join([]string{
		"👥 Name: " + str(g.DisplayName, "N/A"),
		"📧 Nickname: " + str(g.MailNickname, "N/A"),
		"🔒 Security Enabled: " + security,
		"📅 Created: " + str(g.CreatedDateTime, "N/A"),
	}, "\n"), nil
}

// CreateGroup creates a security-enabled, non-mail group.
func (c *Client) CreateGroup(ctx context.Context, displayName, mailNickname string) (string, error) {
	payload := map[string]any{
		"displayName":     displayName,
		"mailEnabled":     false,
		"mailNickname":    mailNickname,
		"securityEnabled": true,
		"groupTypes":      []string{},
	}
	resp, err := c.do(ctx, http.MethodPost, c.url("/groups"), payload)
	if err != nil {
		return "", fmt.Errorf("failed to create group: %w", err)
	}
	if !resp.ok(http.StatusCreated) {
		return resp.errorText("creating group"), nil
	}
	return fmt.Sprintf("✅ Group '%s' created.", displayName), nil
}

// UpdateGroup sets one attribute of a group.
func (c *Client) UpdateGroup(ctx context.Context, groupID, field, value string) (string, error) {
	resp, err := c.do(ctx, http.MethodPatch, c.url("/groups/%s", url.PathEscape(groupID)), map[string]string{field: value})
	if err != nil {
		return "", fmt.Errorf("failed to update group: %w", err)
	}
	if !resp.ok(http.StatusNoContent) {
		return resp.errorText("updating group"), nil
	}
	return fmt.Sprintf("✅ Updated group '%s': set %s = %s", groupID, field, value), nil
}

// DeleteGroup deletes a group.
func (c *Client) DeleteGroup(ctx context.Context, groupID string) (string, error) {
	resp, err := c.do(ctx, http.MethodDelete, c.url("/groups/%s", url.PathEscape(groupID)), nil)
	if err != nil {
		return "", fmt.Errorf("failed to delete group: %w", err)
	}
	if !resp.ok(http.StatusNoContent) {
		return resp.errorText("deleting group"), nil
	}
	return fmt.Sprintf("🗑️ Group '%s' deleted.", groupID), nil
}
