package deskapi

import (
	"context"
	"fmt"
	"net/http"
)

// Login exchanges email and password for a credential.
func (c *Client) Login(ctx context.Context, email, password string) (Credential, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var cred Credential
	if err := c.Request(ctx, http.MethodPost, "/api/auth/login", body, &cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// Signup creates an account and returns its credential.
func (c *Client) Signup(ctx context.Context, email, name, password string) (Credential, error) {
	body := map[string]string{
		"email":    email,
		"name":     name,
		"password": password,
	}
	var cred Credential
	if err := c.Request(ctx, http.MethodPost, "/api/auth/signup", body, &cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// Me fetches the current authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	if err := c.Request(ctx, http.MethodGet, "/api/me", nil, &user); err != nil {
		return User{}, fmt.Errorf("get current user: %w", err)
	}
	return user, nil
}

// DeleteMe deletes the current account together with the organizations and
// issues it owns.
func (c *Client) DeleteMe(ctx context.Context) error {
	if err := c.Request(ctx, http.MethodDelete, "/api/me", nil, nil); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// ListOrganizations fetches all organizations the user belongs to, in server order.
func (c *Client) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var orgs []Organization
	if err := c.Request(ctx, http.MethodGet, "/api/organizations", nil, &orgs); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	if orgs == nil {
		orgs = []Organization{}
	}
	return orgs, nil
}

// CreateOrganization creates an organization owned by the current user.
func (c *Client) CreateOrganization(ctx context.Context, input OrganizationInput) (Organization, error) {
	var org Organization
	if err := c.Request(ctx, http.MethodPost, "/api/organizations", input, &org); err != nil {
		return Organization{}, fmt.Errorf("create organization: %w", err)
	}
	return org, nil
}

// GetOrganization fetches a single organization.
func (c *Client) GetOrganization(ctx context.Context, id string) (Organization, error) {
	var org Organization
	if err := c.Request(ctx, http.MethodGet, idPath("/api/organizations", id), nil, &org); err != nil {
		return Organization{}, fmt.Errorf("get organization %s: %w", id, err)
	}
	return org, nil
}

// DeleteOrganization deletes an organization and all of its issues. Owner only.
func (c *Client) DeleteOrganization(ctx context.Context, id string) error {
	if err := c.Request(ctx, http.MethodDelete, idPath("/api/organizations", id), nil, nil); err != nil {
		return fmt.Errorf("delete organization %s: %w", id, err)
	}
	return nil
}

// ListMembers fetches the member accounts of an organization.
func (c *Client) ListMembers(ctx context.Context, orgID string) ([]User, error) {
	var users []User
	if err := c.Request(ctx, http.MethodGet, idPath("/api/organizations", orgID)+"/members", nil, &users); err != nil {
		return nil, fmt.Errorf("list members of %s: %w", orgID, err)
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// AddMember invites an existing account, by email, into an organization.
func (c *Client) AddMember(ctx context.Context, orgID, email string) (Organization, error) {
	body := map[string]string{"email": email}
	var org Organization
	if err := c.Request(ctx, http.MethodPost, idPath("/api/organizations", orgID)+"/members", body, &org); err != nil {
		return Organization{}, fmt.Errorf("add member to %s: %w", orgID, err)
	}
	return org, nil
}

// ListIssues fetches issues filtered by organization and, optionally, parent.
func (c *Client) ListIssues(ctx context.Context, params ListIssuesParams) ([]Issue, error) {
	path := withQuery("/api/issues", map[string]string{
		"organizationId": params.OrganizationID,
		"parentIssueId":  params.ParentIssueID,
	})
	var issues []Issue
	if err := c.Request(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	if issues == nil {
		issues = []Issue{}
	}
	return issues, nil
}

// SearchIssues runs a text search within one organization.
func (c *Client) SearchIssues(ctx context.Context, orgID, query string) ([]Issue, error) {
	path := withQuery("/api/issues/search", map[string]string{
		"q":              query,
		"organizationId": orgID,
	})
	var issues []Issue
	if err := c.Request(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	if issues == nil {
		issues = []Issue{}
	}
	return issues, nil
}

// CreateIssue creates a new issue.
func (c *Client) CreateIssue(ctx context.Context, input IssueInput) (Issue, error) {
	var issue Issue
	if err := c.Request(ctx, http.MethodPost, "/api/issues", input, &issue); err != nil {
		return Issue{}, fmt.Errorf("create issue: %w", err)
	}
	return issue, nil
}

// GetIssue fetches a single issue by its ID.
func (c *Client) GetIssue(ctx context.Context, id string) (Issue, error) {
	var issue Issue
	if err := c.Request(ctx, http.MethodGet, idPath("/api/issues", id), nil, &issue); err != nil {
		return Issue{}, fmt.Errorf("get issue %s: %w", id, err)
	}
	return issue, nil
}

// UpdateIssue replaces the editable fields of an issue.
func (c *Client) UpdateIssue(ctx context.Context, id string, input IssueInput) (Issue, error) {
	var issue Issue
	if err := c.Request(ctx, http.MethodPut, idPath("/api/issues", id), input, &issue); err != nil {
		return Issue{}, fmt.Errorf("update issue %s: %w", id, err)
	}
	return issue, nil
}

// DeleteIssue deletes an issue.
func (c *Client) DeleteIssue(ctx context.Context, id string) error {
	if err := c.Request(ctx, http.MethodDelete, idPath("/api/issues", id), nil, nil); err != nil {
		return fmt.Errorf("delete issue %s: %w", id, err)
	}
	return nil
}
