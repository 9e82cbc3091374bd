package deskapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/roeyazroel/issuedesk/internal/apitest"
	"github.com/roeyazroel/issuedesk/internal/deskapi"
)

func TestEndpoints_RoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New(t)
	bob := srv.AddUser("bob@example.com", "Bob", "password-bob")

	var token string
	client := deskapi.NewClient(deskapi.ClientConfig{
		BaseURL: srv.URL,
		Token:   func() string { return token },
	})

	cred, err := client.Signup(ctx, "alice@example.com", "Alice", "password-1")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	token = cred.Token

	me, err := client.Me(ctx)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if me.ID != cred.User.ID {
		t.Errorf("Me().ID = %q, want %q", me.ID, cred.User.ID)
	}

	org, err := client.CreateOrganization(ctx, deskapi.OrganizationInput{Name: "Acme", Key: "ACME"})
	if err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	if !org.IsOwner(me.ID) || !org.IsMember(me.ID) {
		t.Errorf("CreateOrganization() owner/member mismatch: %+v", org)
	}

	if _, err := client.AddMember(ctx, org.ID, "bob@example.com"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	members, err := client.ListMembers(ctx, org.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("ListMembers() = %d members, want 2", len(members))
	}

	parent, err := client.CreateIssue(ctx, deskapi.IssueInput{
		OrganizationID: org.ID,
		Title:          "Login broken",
		Description:    "Cannot sign in",
		Status:         deskapi.StatusTodo,
		AssigneeID:     bob.ID,
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	child, err := client.CreateIssue(ctx, deskapi.IssueInput{
		OrganizationID: org.ID,
		Title:          "Check cookies",
		Description:    "Session cookie missing",
		Status:         deskapi.StatusInProgress,
		ParentIssueID:  parent.ID,
	})
	if err != nil {
		t.Fatalf("CreateIssue(child) error = %v", err)
	}

	subs, err := client.ListIssues(ctx, deskapi.ListIssuesParams{OrganizationID: org.ID, ParentIssueID: parent.ID})
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
	if len(subs) != 1 || subs[0].ID != child.ID {
		t.Errorf("ListIssues(parent) = %+v, want only %s", subs, child.ID)
	}

	found, err := client.SearchIssues(ctx, org.ID, "cookie")
	if err != nil {
		t.Fatalf("SearchIssues() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != child.ID {
		t.Errorf("SearchIssues() = %+v, want only %s", found, child.ID)
	}

	input := deskapi.InputFromIssue(parent)
	input.Status = deskapi.StatusDone
	updated, err := client.UpdateIssue(ctx, parent.ID, input)
	if err != nil {
		t.Fatalf("UpdateIssue() error = %v", err)
	}
	if updated.Status != deskapi.StatusDone {
		t.Errorf("UpdateIssue() status = %q, want done", updated.Status)
	}

	if err := client.DeleteIssue(ctx, child.ID); err != nil {
		t.Fatalf("DeleteIssue() error = %v", err)
	}
	if _, err := client.GetIssue(ctx, child.ID); !deskapi.IsKind(err, deskapi.KindNotFound) {
		t.Errorf("GetIssue(deleted) error = %v, want not found", err)
	}

	if err := client.DeleteOrganization(ctx, org.ID); err != nil {
		t.Fatalf("DeleteOrganization() error = %v", err)
	}
	orgs, err := client.ListOrganizations(ctx)
	if err != nil {
		t.Fatalf("ListOrganizations() error = %v", err)
	}
	if len(orgs) != 0 {
		t.Errorf("ListOrganizations() = %+v, want empty", orgs)
	}

	if err := client.DeleteMe(ctx); err != nil {
		t.Fatalf("DeleteMe() error = %v", err)
	}
	if _, err := client.Me(ctx); !deskapi.IsKind(err, deskapi.KindAuth) {
		t.Errorf("Me() after delete error = %v, want auth", err)
	}
}

func TestEndpoints_AuthFailures(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New(t)
	srv.AddUser("alice@example.com", "Alice", "password-1")

	client := deskapi.NewClient(deskapi.ClientConfig{BaseURL: srv.URL})

	_, err := client.Login(ctx, "alice@example.com", "wrong-password")
	if !deskapi.IsKind(err, deskapi.KindAuth) {
		t.Fatalf("Login() error = %v, want auth", err)
	}
	if err.Error() != "Invalid credentials" {
		t.Errorf("Login() error = %q, want %q", err.Error(), "Invalid credentials")
	}

	_, err = client.ListOrganizations(ctx)
	if deskapi.Message(err) != "Missing Authorization header" {
		t.Errorf("ListOrganizations() message = %q", deskapi.Message(err))
	}
	if got := srv.CallCount(http.MethodGet, "/api/organizations"); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
