package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type graphUser struct {
	ID                *string `json:"id"`
	DisplayName       *string `json:"displayName"`
	UserPrincipalName *string `json:"userPrincipalName"`
	AccountEnabled    *bool   `json:"accountEnabled"`
	Department        *string `json:"department"`
	JobTitle          *string `json:"jobTitle"`
}

// UserRow is one row of the list_users result. Field order is the column order.
type UserRow struct {
	DisplayName *string `json:"Display Name"`
	UPN         *string `json:"UPN"`
	ID          *string `json:"Id"`
	Enabled     *bool   `json:"Enabled"`
}

// ListUsers returns up to maxResults users as a JSON array of rows.
func (c *Client) ListUsers(ctx context.Context, maxResults int) (string, error) {
	u := c.url("/users?$select=id,displayName,userPrincipalName,accountEnabled&$top=%d", pageSize(maxResults))

	rows := []UserRow{}
	errText, err := collect(ctx, c, u, "listing users", func(gu graphUser) bool {
		if len(rows) >= maxResults {
			return false
		}
		rows = append(rows, UserRow{
			DisplayName: gu.DisplayName,
			UPN:         gu.UserPrincipalName,
			ID:          gu.ID,
			Enabled:     gu.AccountEnabled,
		})
		return len(rows) < maxResults
	})
	if err != nil {
		return "", fmt.Errorf("failed to list users: %w", err)
	}
	if errText != "" {
		return errText, nil
	}
	return marshalResult(rows)
}

// GetUserDetails returns a text block describing one user.
func (c *Client) GetUserDetails(ctx context.Context, userID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url("/users/%s", url.PathEscape(userID)), nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch user: %w", err)
	}
	if !resp.ok(http.StatusOK) {
		return resp.errorText(fmt.Sprintf("fetching user '%s'", userID)), nil
	}

	var u graphUser
	if err := json.Unmarshal(resp.body, &u); err != nil {
		return "", fmt.Errorf("failed to decode user: %w", err)
	}
	return strings.Join([]string{
		"👤 Display Name: " + str(u.DisplayName, "N/A"),
		"📧 UPN: " + str(u.UserPrincipalName, "N/A"),
		"🏢 Department: " + str(u.Department, "N/A"),
		"🧑‍💼 Title: " + str(u.JobTitle, "N/A"),
	}, "\n"), nil
}

// CreateUser creates an enabled user that must change the initial password at first sign-in.
func (c *Client) CreateUser(ctx context.Context, displayName, upn, password string) (string, error) {
	nickname := upn
	if prefix, _, ok := strings.Cut(upn, "@"); ok {
		nickname = prefix
	}
	payload := map[string]any{
		"accountEnabled":    true,
		"displayName":       displayName,
		"mailNickname":      nickname,
		"userPrincipalName": upn,
		"passwordProfile": map[string]any{
			"forceChangePasswordNextSignIn": true,
			"password":                      password,
		},
	}

	resp, err := c.do(ctx, http.MethodPost, c.url("/users"), payload)
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	if !resp.ok(http.StatusCreated) {
		return resp.errorText("creating user"), nil
	}
	return fmt.Sprintf("✅ User '%s' created.", displayName), nil
}

// UpdateUser sets one attribute of a user.
func (c *Client) UpdateUser(ctx context.Context, userID, field, value string) (string, error) {
	resp, err := c.do(ctx, http.MethodPatch, c.url("/users/%s", url.PathEscape(userID)), map[string]string{field: value})
	if err != nil {
		return "", fmt.Errorf("failed to update user: %w", err)
	}
	if !resp.ok(http.StatusNoContent) {
		return resp.errorText("updating user"), nil
	}
	return fmt.Sprintf("✅ Updated user '%s': set %s = %s", userID, field, value), nil
}

// DeleteUser deletes a user.
func (c *Client) DeleteUser(ctx context.Context, userID string) (string, error) {
	resp, err := c.do(ctx, http.MethodDelete, c.url("/users/%s", url.PathEscape(userID)), nil)
	if err != nil {
		return "", fmt.Errorf("failed to delete user: %w", err)
	}
	if !resp.ok(http.StatusNoContent) {
		return resp.errorText("deleting user"), nil
	}
	return fmt.Sprintf("🗑️ User '%s' deleted.", userID), nil
}
