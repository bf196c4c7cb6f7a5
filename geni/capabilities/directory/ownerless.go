package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sourcegraph/conc/iter"
)

// OwnerlessRow is one ownerless group.
type OwnerlessRow struct {
	GroupName *string `json:"Group Name"`
	GroupID   *string `json:"Group ID"`
}

// OwnerlessCount is the count_ownerless_groups result.
type OwnerlessCount struct {
	Count  int            `json:"count"`
	Groups []OwnerlessRow `json:"groups"`
}

// CountOwnerlessGroups scans every group and reports those without owners.
func (c *Client) CountOwnerlessGroups(ctx context.Context) (string, error) {
	u := c.url("/groups?$select=id,displayName&$top=%d", maxPageSize)

	groups := []OwnerlessRow{}
	errText, err := c.scanOwnerless(ctx, u, "listing groups", func(row OwnerlessRow) bool {
		groups = append(groups, row)
		return true
	})
	if err != nil {
		return "", fmt.Errorf("failed to count ownerless groups: %w", err)
	}
	if errText != "" {
		return errText, nil
	}
	return marshalResult(OwnerlessCount{Count: len(groups), Groups: groups})
}

// ListOwnerlessGroups returns up to maxResults ownerless groups as a JSON array of rows.
func (c *Client) ListOwnerlessGroups(ctx context.Context, maxResults int) (string, error) {
	// Most groups have owners, so read wider pages than requested rows
	u := c.url("/groups?$select=id,displayName&$top=%d", pageSize(maxResults*5))

	rows := []OwnerlessRow{}
	errText, err := c.scanOwnerless(ctx, u, "fetching groups", func(row OwnerlessRow) bool {
		if len(rows) >= maxResults {
			return false
		}
		rows = append(rows, row)
		return len(rows) < maxResults
	})
	if err != nil {
		return "", fmt.Errorf("failed to list ownerless groups: %w", err)
	}
	if errText != "" {
		return errText, nil
	}
	return marshalResult(rows)
}

// scanOwnerless pages through groups, checks each page's owners concurrently and
// emits ownerless groups in listing order until emit returns false.
func (c *Client) scanOwnerless(ctx context.Context, u, what string, emit func(OwnerlessRow) bool) (string, error) {
	mapper := iter.Mapper[graphGroup, bool]{MaxGoroutines: c.ownerConcurrency}

	for u != "" {
		resp, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return "", err
		}
		if !resp.ok(http.StatusOK) {
			return resp.errorText(what), nil
		}

		var p page[graphGroup]
		if err := json.Unmarshal(resp.body, &p); err != nil {
			return "", fmt.Errorf("failed to decode page: %w", err)
		}

		hasOwner := mapper.Map(p.Value, func(g *graphGroup) bool {
			return c.hasOwner(ctx, str(g.ID, ""))
		})
		for i, g := range p.Value {
			if hasOwner[i] {
				continue
			}
			if !emit(OwnerlessRow{GroupName: g.DisplayName, GroupID: g.ID}) {
				return "", nil
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		u = p.NextLink
	}
	return "", nil
}

// hasOwner reports whether a group has at least one owner. Any failure counts
// as owned so that errors never produce false ownerless reports.
func (c *Client) hasOwner(ctx context.Context, groupID string) bool {
	u := c.url("/groups/%s/owners?$select=id&$top=50", url.PathEscape(groupID))
	for u != "" {
		resp, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil || !resp.ok(http.StatusOK) {
			return true
		}
		var p page[json.RawMessage]
		if err := json.Unmarshal(resp.body, &p); err != nil {
			return true
		}
		if len(p.Value) > 0 {
			return true
		}
		u = p.NextLink
	}
	return false
}
