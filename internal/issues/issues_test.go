package issues

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/roeyazroel/issuedesk/internal/apitest"
	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/kvstore"
	"github.com/roeyazroel/issuedesk/internal/workspace"
)

type fixture struct {
	srv    *apitest.Server
	user   deskapi.User
	client *deskapi.Client
	kv     *kvstore.Memory
	sel    *workspace.Selector
	dir    *workspace.Directory
	view   *CollectionView
}

// newFixture creates a logged-in client with workspaces A and B, A active.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := apitest.New(t)
	user := srv.AddUser("alice@example.com", "Alice", "password-1")
	token := srv.Token(user.ID)
	client := deskapi.NewClient(deskapi.ClientConfig{
		BaseURL: srv.URL,
		Token:   func() string { return token },
	})
	srv.AddOrganization(deskapi.Organization{ID: "A", Name: "Alpha", Key: "AA", OwnerID: user.ID})
	srv.AddOrganization(deskapi.Organization{ID: "B", Name: "Beta", Key: "BB", OwnerID: user.ID})

	kv := kvstore.NewMemory(nil)
	sel := workspace.NewSelector(kv)
	dir := workspace.NewDirectory(client, func() string { return user.ID })
	sel.Follow(dir)
	if _, err := dir.List(context.Background()); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if sel.OrgID() != "A" {
		t.Fatalf("active workspace = %q, want A", sel.OrgID())
	}

	return &fixture{
		srv:    srv,
		user:   user,
		client: client,
		kv:     kv,
		sel:    sel,
		dir:    dir,
		view:   NewCollectionView(client, sel),
	}
}

func (f *fixture) addIssue(org, title, status, parent string) string {
	return f.srv.AddIssue(apitest.Issue{
		OrganizationID: org,
		Title:          title,
		Description:    title + " description",
		Status:         status,
		ParentIssueID:  parent,
	})
}

func ids(issues []deskapi.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.ID
	}
	return out
}

func TestCollectionView_RootsAndSubIssues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.addIssue("A", "First", "todo", "")
	f.addIssue("A", "Second", "done", "")
	child := f.addIssue("A", "Child", "todo", first)

	snap, err := f.view.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(snap.Issues) != 3 {
		t.Fatalf("fetched %d issues, want 3", len(snap.Issues))
	}
	if got := len(f.view.Roots()); got != 2 {
		t.Errorf("Roots() = %d, want 2", got)
	}

	detail, err := NewResolver(f.client).Load(ctx, first)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(detail.SubIssues) != 1 || detail.SubIssues[0].ID != child {
		t.Errorf("SubIssues = %v, want [%s]", ids(detail.SubIssues), child)
	}
	if detail.Organization.ID != "A" || detail.Issue.ID != first {
		t.Errorf("Load() = issue %s org %s", detail.Issue.ID, detail.Organization.ID)
	}
}

func TestCollectionView_RefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addIssue("A", "One", "todo", "")
	f.addIssue("A", "Two", "in_progress", "")

	first, err := f.view.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	second, err := f.view.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !reflect.DeepEqual(ids(first.Visible()), ids(second.Visible())) {
		t.Errorf("Visible() changed between refreshes: %v vs %v", ids(first.Visible()), ids(second.Visible()))
	}
}

func TestCollectionView_BlankSearchIsRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addIssue("A", "Login bug", "todo", "")
	f.addIssue("A", "Signup page", "todo", "")

	refreshed, err := f.view.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	f.srv.ResetCalls()

	searched, err := f.view.Search(ctx, "   ")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !reflect.DeepEqual(ids(refreshed.Visible()), ids(searched.Visible())) {
		t.Errorf("Search(blank) = %v, want %v", ids(searched.Visible()), ids(refreshed.Visible()))
	}
	if searched.Query != "" {
		t.Errorf("Query = %q, want empty", searched.Query)
	}
	if n := f.srv.CallCount(http.MethodGet, "/api/issues/search"); n != 0 {
		t.Errorf("search endpoint calls = %d, want 0", n)
	}
	if n := f.srv.CallCount(http.MethodGet, "/api/issues"); n != 1 {
		t.Errorf("list endpoint calls = %d, want 1", n)
	}
}

func TestCollectionView_Search(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bug := f.addIssue("A", "Login bug", "todo", "")
	f.addIssue("A", "Signup page", "todo", "")
	f.addIssue("B", "Login bug elsewhere", "todo", "")

	snap, err := f.view.Search(ctx, "  login ")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := ids(snap.Visible()); len(got) != 1 || got[0] != bug {
		t.Errorf("Search() = %v, want [%s]", got, bug)
	}
	calls := f.srv.Calls()
	last := calls[len(calls)-1]
	if last.Path != "/api/issues/search" || last.Query.Get("q") != "login" || last.Query.Get("organizationId") != "A" {
		t.Errorf("last call = %s %v, want trimmed search in A", last.Path, last.Query)
	}
}

func TestCollectionView_NoActiveWorkspace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addIssue("A", "One", "todo", "")
	if _, err := f.view.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	f.sel.Reset()
	f.srv.ResetCalls()

	for _, run := range []func() (Snapshot, error){
		func() (Snapshot, error) { return f.view.Refresh(ctx) },
		func() (Snapshot, error) { return f.view.Search(ctx, "one") },
	} {
		snap, err := run()
		if err != nil {
			t.Fatalf("fetch error = %v", err)
		}
		if len(snap.Issues) != 0 || snap.OrgID != "" || snap.Loading {
			t.Errorf("snapshot = %+v, want empty", snap)
		}
	}
	if n := len(f.srv.Calls()); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestCollectionView_LegacyBacklogOnInReviewTab(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	legacy := f.addIssue("A", "Legacy", "backlog", "")
	modern := f.addIssue("A", "Modern", "in_review", "")
	f.addIssue("A", "Other", "todo", "")

	if _, err := f.view.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if err := f.view.SetTab(TabInReview); err != nil {
		t.Fatalf("SetTab() error = %v", err)
	}

	visible := f.view.Visible()
	got := map[string]deskapi.Status{}
	for _, is := range visible {
		got[is.ID] = is.Status
	}
	if len(got) != 2 || got[legacy] != deskapi.StatusInReview || got[modern] != deskapi.StatusInReview {
		t.Errorf("Visible() on in_review = %v, want legacy and modern both in_review", got)
	}
	if c := f.view.Snapshot().Counts(); c[TabInReview] != 2 || c[TabAll] != 3 || c[TabTodo] != 1 {
		t.Errorf("Counts() = %v", c)
	}

	// Saving the legacy issue writes the canonical spelling.
	var legacyIssue deskapi.Issue
	for _, is := range visible {
		if is.ID == legacy {
			legacyIssue = is
		}
	}
	m := NewMutations(f.client, f.dir)
	if _, err := m.Update(ctx, legacy, deskapi.InputFromIssue(legacyIssue)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	stored, _ := f.srv.StoredIssue(legacy)
	if stored.Status != "in_review" {
		t.Errorf("stored status = %q, want in_review", stored.Status)
	}
	calls := f.srv.Calls()
	if body := string(calls[len(calls)-1].Body); !strings.Contains(body, `"status":"in_review"`) {
		t.Errorf("PUT body = %s, want canonical status", body)
	}
}

func TestCollectionView_SetTab(t *testing.T) {
	f := newFixture(t)

	for _, tab := range []Tab{"backlog", "archived", ""} {
		if err := f.view.SetTab(tab); !deskapi.IsKind(err, deskapi.KindValidation) {
			t.Errorf("SetTab(%q) error = %v, want validation", tab, err)
		}
	}
	if f.view.Snapshot().Tab != TabAll {
		t.Errorf("rejected tab changed state to %q", f.view.Snapshot().Tab)
	}
}

func TestParseTab(t *testing.T) {
	tests := []struct {
		raw     string
		want    Tab
		wantErr bool
	}{
		{"", TabAll, false},
		{"all", TabAll, false},
		{" in_review ", TabInReview, false},
		{"done", TabDone, false},
		{"backlog", "", true},
		{"In Review", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTab(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTab(%q) = (%q, %v), want (%q, err=%v)", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestCollectionView_StaleSearchAfterWorkspaceSwitch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addIssue("A", "Bug in A", "todo", "")
	bIssue := f.addIssue("B", "Task in B", "todo", "")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.srv.Handle(http.MethodGet, "/api/issues/search", func(_ http.ResponseWriter, r *http.Request) bool {
		if r.URL.Query().Get("organizationId") == "A" {
			once.Do(func() { close(entered) })
			<-release
		}
		return true
	})

	type result struct {
		snap Snapshot
		err  error
	}
	staleDone := make(chan result, 1)
	go func() {
		snap, err := f.view.Search(ctx, "bug")
		staleDone <- result{snap, err}
	}()
	<-entered

	if _, err := f.sel.SetOrgID(ctx, "B"); err != nil {
		t.Fatalf("SetOrgID() error = %v", err)
	}
	snapB, err := f.view.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh(B) error = %v", err)
	}
	if got := ids(snapB.Visible()); len(got) != 1 || got[0] != bIssue {
		t.Fatalf("Refresh(B) = %v, want [%s]", got, bIssue)
	}

	close(release)
	stale := <-staleDone
	if !errors.Is(stale.err, ErrStale) {
		t.Errorf("stale Search() error = %v, want ErrStale", stale.err)
	}

	snap := f.view.Snapshot()
	if snap.OrgID != "B" {
		t.Errorf("OrgID = %q, want B", snap.OrgID)
	}
	if got := ids(snap.Visible()); len(got) != 1 || got[0] != bIssue {
		t.Errorf("Visible() = %v, want B's result [%s]", got, bIssue)
	}
}

func TestCollectionView_StaleResultWithoutNewFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addIssue("A", "Bug in A", "todo", "")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.srv.Handle(http.MethodGet, "/api/issues", func(http.ResponseWriter, *http.Request) bool {
		close(entered)
		<-release
		return true
	})

	seen := make(chan Snapshot, 1)
	stop := f.view.Subscribe(func(s Snapshot) {
		select {
		case <-seen:
		default:
		}
		seen <- s
	})
	defer stop()

	done := make(chan error, 1)
	go func() {
		_, err := f.view.Refresh(ctx)
		done <- err
	}()
	<-entered
	if _, err := f.sel.SetOrgID(ctx, "B"); err != nil {
		t.Fatalf("SetOrgID() error = %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("Refresh() error = %v, want ErrStale", err)
	}
	snap := f.view.Snapshot()
	if n := len(snap.Issues); n != 0 {
		t.Errorf("stale A result applied: %d issues", n)
	}
	if snap.Loading {
		t.Error("view still loading after the discarded result")
	}
	if snap.OrgID != "B" {
		t.Errorf("OrgID = %q, want B", snap.OrgID)
	}
	if last := <-seen; last.Loading || last.OrgID != "B" {
		t.Errorf("last notification = %+v, want settled on B", last)
	}
}

func TestCollectionView_FetchError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addIssue("A", "One", "todo", "")
	if _, err := f.view.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	f.srv.Fail(http.MethodGet, "/api/issues", http.StatusInternalServerError, "")
	snap, err := f.view.Refresh(ctx)
	if err == nil || deskapi.Message(err) != "Request failed (500)" {
		t.Fatalf("Refresh() error = %v, want Request failed (500)", err)
	}
	if snap.Err == nil || snap.Loading {
		t.Errorf("snapshot = %+v, want error recorded and not loading", snap)
	}
	if len(snap.Issues) != 1 {
		t.Errorf("failed refresh dropped prior issues: %d", len(snap.Issues))
	}
}

func TestCollectionView_Subscribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addIssue("A", "One", "todo", "")

	var loading []bool
	unsubscribe := f.view.Subscribe(func(s Snapshot) { loading = append(loading, s.Loading) })
	if _, err := f.view.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	unsubscribe()

	if !reflect.DeepEqual(loading, []bool{true, false}) {
		t.Errorf("notifications loading = %v, want [true false]", loading)
	}
}

func TestResolver_StageFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("issue", func(t *testing.T) {
		f := newFixture(t)
		f.srv.ResetCalls()
		_, err := NewResolver(f.client).Load(ctx, "missing")

		var stageErr *StageError
		if !errors.As(err, &stageErr) || stageErr.Stage != StageIssue {
			t.Fatalf("Load() error = %v, want issue stage", err)
		}
		if err.Error() != "Issue not found" || !deskapi.IsKind(err, deskapi.KindNotFound) {
			t.Errorf("Load() error = %q", err.Error())
		}
		if n := len(f.srv.Calls()); n != 1 {
			t.Errorf("calls = %d, want 1", n)
		}
	})

	t.Run("organization", func(t *testing.T) {
		f := newFixture(t)
		id := f.addIssue("A", "One", "todo", "")
		f.srv.Fail(http.MethodGet, "/api/organizations/A", http.StatusForbidden, "Not a member of this organization")
		f.srv.ResetCalls()

		_, err := NewResolver(f.client).Load(ctx, id)
		var stageErr *StageError
		if !errors.As(err, &stageErr) || stageErr.Stage != StageOrganization {
			t.Fatalf("Load() error = %v, want organization stage", err)
		}
		if n := f.srv.CallCount(http.MethodGet, "/api/issues"); n != 0 {
			t.Errorf("sub-issue fetch ran after failure: %d calls", n)
		}
	})

	t.Run("sub-issues", func(t *testing.T) {
		f := newFixture(t)
		id := f.addIssue("A", "One", "todo", "")
		f.srv.Fail(http.MethodGet, "/api/issues", http.StatusInternalServerError, "Database error")

		_, err := NewResolver(f.client).Load(ctx, id)
		var stageErr *StageError
		if !errors.As(err, &stageErr) || stageErr.Stage != StageSubIssues {
			t.Fatalf("Load() error = %v, want sub-issues stage", err)
		}
		if err.Error() != "Database error" {
			t.Errorf("Load() error = %q, want server message", err.Error())
		}
	})

	t.Run("blank id", func(t *testing.T) {
		f := newFixture(t)
		f.srv.ResetCalls()
		_, err := NewResolver(f.client).Load(ctx, " ")
		if !deskapi.IsKind(err, deskapi.KindValidation) {
			t.Errorf("Load(blank) error = %v, want validation", err)
		}
		if n := len(f.srv.Calls()); n != 0 {
			t.Errorf("calls = %d, want 0", n)
		}
	})
}

func TestMutations_CreateValidation(t *testing.T) {
	tests := []struct {
		name      string
		input     deskapi.IssueInput
		wantField string
	}{
		{
			name:      "empty title",
			input:     deskapi.IssueInput{Title: "", Description: "x", OrganizationID: "A", Status: deskapi.StatusTodo},
			wantField: "title",
		},
		{
			name:      "blank description",
			input:     deskapi.IssueInput{Title: "t", Description: "  ", OrganizationID: "A", Status: deskapi.StatusTodo},
			wantField: "description",
		},
		{
			name:      "missing organization",
			input:     deskapi.IssueInput{Title: "t", Description: "x", Status: deskapi.StatusTodo},
			wantField: "organizationId",
		},
		{
			name:      "unknown status",
			input:     deskapi.IssueInput{Title: "t", Description: "x", OrganizationID: "A", Status: "archived"},
			wantField: "status",
		},
		{
			name:      "missing status",
			input:     deskapi.IssueInput{Title: "t", Description: "x", OrganizationID: "A"},
			wantField: "status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.srv.ResetCalls()

			_, err := NewMutations(f.client, f.dir).Create(context.Background(), tt.input)
			var apiErr *deskapi.Error
			if !errors.As(err, &apiErr) || apiErr.Kind != deskapi.KindValidation {
				t.Fatalf("Create() error = %v, want validation", err)
			}
			if apiErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", apiErr.Field, tt.wantField)
			}
			if n := len(f.srv.Calls()); n != 0 {
				t.Errorf("network calls = %d, want 0", n)
			}
		})
	}
}

func TestMutations_CreateUpdateRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := NewMutations(f.client, f.dir)

	draft := NewDraft("A", "")
	draft.Title = "New"
	draft.Description = "Desc"
	created, err := m.Create(ctx, draft)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Status != deskapi.StatusTodo || created.OrganizationID != "A" {
		t.Errorf("Create() = %+v", created)
	}

	input := deskapi.InputFromIssue(created)
	input.Status = deskapi.StatusInProgress
	input.AssigneeID = f.user.ID
	updated, err := m.Update(ctx, created.ID, input)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Status != deskapi.StatusInProgress || updated.AssigneeID != f.user.ID {
		t.Errorf("Update() = %+v", updated)
	}

	if err := m.Remove(ctx, created.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := f.srv.StoredIssue(created.ID); ok {
		t.Error("Remove() left the issue stored")
	}
}

func TestMutations_RefusesNonMemberAssignee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stranger := f.srv.AddUser("stranger@example.com", "Stranger", "password-s")
	m := NewMutations(f.client, f.dir)

	input := deskapi.IssueInput{
		OrganizationID: "A",
		Title:          "t",
		Description:    "d",
		Status:         deskapi.StatusTodo,
		AssigneeID:     stranger.ID,
	}
	f.srv.ResetCalls()
	_, err := m.Create(ctx, input)
	var apiErr *deskapi.Error
	if !errors.As(err, &apiErr) || apiErr.Field != "assigneeId" {
		t.Fatalf("Create() error = %v, want assignee validation", err)
	}
	if n := f.srv.CallCount(http.MethodPost, "/api/issues"); n != 0 {
		t.Errorf("create calls = %d, want 0", n)
	}
}

func TestMutations_RefusesSelfParent(t *testing.T) {
	f := newFixture(t)
	id := f.addIssue("A", "Root", "todo", "")
	m := NewMutations(f.client, nil)

	input := deskapi.IssueInput{OrganizationID: "A", Title: "t", Description: "d", Status: deskapi.StatusTodo, ParentIssueID: id}
	if _, err := m.Update(context.Background(), id, input); !deskapi.IsKind(err, deskapi.KindValidation) {
		t.Errorf("Update(self parent) error = %v, want validation", err)
	}
}

func TestMutations_Busy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.addIssue("A", "Root", "todo", "")
	m := NewMutations(f.client, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.srv.Handle(http.MethodDelete, "/api/issues/"+id, func(http.ResponseWriter, *http.Request) bool {
		once.Do(func() { close(entered) })
		<-release
		return true
	})

	done := make(chan error, 1)
	go func() { done <- m.Remove(ctx, id) }()
	<-entered

	input := deskapi.IssueInput{OrganizationID: "A", Title: "t", Description: "d", Status: deskapi.StatusDone}
	if _, err := m.Update(ctx, id, input); !errors.Is(err, ErrBusy) {
		t.Errorf("Update() during Remove error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	// The guard is released once the first mutation completes.
	if err := m.Remove(ctx, id); !deskapi.IsKind(err, deskapi.KindNotFound) {
		t.Errorf("second Remove() error = %v, want not found from server", err)
	}
}

func TestAssigneeOptions(t *testing.T) {
	members := []deskapi.User{{ID: "u1"}, {ID: "u2"}}
	if got := AssigneeOptions(members); !reflect.DeepEqual(got, []string{"u1", "u2"}) {
		t.Errorf("AssigneeOptions() = %v", got)
	}
	if err := ValidateAssignee("", members); err != nil {
		t.Errorf("ValidateAssignee(unassigned) error = %v", err)
	}
	if err := ValidateAssignee("u3", members); err == nil {
		t.Error("ValidateAssignee(non-member) should fail")
	}
}

func TestNewDraft(t *testing.T) {
	d := NewDraft("A", "P")
	if d.OrganizationID != "A" || d.ParentIssueID != "P" || d.Status != deskapi.StatusTodo {
		t.Errorf("NewDraft() = %+v", d)
	}
}
