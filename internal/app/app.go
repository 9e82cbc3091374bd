// Package app wires the session, workspace and issue components together and
// owns the cross-cutting rules: auth gating, confirmation of destructive
// actions and navigation after mutations.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/issues"
	"github.com/roeyazroel/issuedesk/internal/kvstore"
	"github.com/roeyazroel/issuedesk/internal/logger"
	"github.com/roeyazroel/issuedesk/internal/session"
	"github.com/roeyazroel/issuedesk/internal/workspace"
)

// Routes understood by the Navigator.
const (
	RouteHome          = "/"
	RouteLogin         = "/login"
	RouteSignup        = "/signup"
	RouteProfile       = "/profile"
	RouteOrganizations = "/organizations"
	RouteNewIssue      = "/issues/new"
)

// RouteIssue returns the route of an issue detail screen.
func RouteIssue(id string) string {
	return "/issues/" + url.PathEscape(id)
}

// ErrCancelled is returned when the user declines a confirmation.
var ErrCancelled = errors.New("cancelled")

// Navigator changes the visible screen.
type Navigator interface {
	Push(route string)
	Replace(route string)
}

// Confirmer asks the user to confirm a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Options configures New. KV and Client are required.
type Options struct {
	KV        kvstore.Store
	Client    deskapi.ClientConfig
	Navigator Navigator
	Confirmer Confirmer

	// ManualRefresh stops workspace changes from refreshing the issue list.
	// Callers then refresh through RefreshIssues or a mutation.
	ManualRefresh bool
}

// App is the coordinator. The exported components may be read directly;
// operations that need gating or navigation go through App's methods.
type App struct {
	Session   *session.Store
	API       *deskapi.Client
	Directory *workspace.Directory
	Selector  *workspace.Selector
	Issues    *issues.CollectionView
	Resolver  *issues.Resolver
	Mutations *issues.Mutations

	nav           Navigator
	confirm       Confirmer
	manualRefresh bool

	mu       sync.Mutex
	signedIn bool
	stops    []func()
}

// New builds the component graph. The API client reads its bearer token from
// the session on every request.
func New(opts Options) *App {
	a := &App{
		nav:           opts.Navigator,
		confirm:       opts.Confirmer,
		manualRefresh: opts.ManualRefresh,
	}
	if a.nav == nil {
		a.nav = nopNavigator{}
	}

	clientCfg := opts.Client
	clientCfg.Token = func() string { return a.Session.Token() }
	a.API = deskapi.NewClient(clientCfg)
	a.Session = session.New(opts.KV, a.API)
	a.Directory = workspace.NewDirectory(a.API, func() string {
		u, _ := a.Session.User()
		return u.ID
	})
	a.Selector = workspace.NewSelector(opts.KV)
	a.Issues = issues.NewCollectionView(a.API, a.Selector)
	a.Resolver = issues.NewResolver(a.API)
	a.Mutations = issues.NewMutations(a.API, a.Directory)

	a.stops = append(a.stops,
		a.Selector.Follow(a.Directory),
		a.Selector.Subscribe(a.onSelection),
		a.Session.Subscribe(a.onSession),
	)
	return a
}

// Close detaches the internal subscriptions.
func (a *App) Close() {
	a.mu.Lock()
	stops := a.stops
	a.stops = nil
	a.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

// Start restores the persisted session. Without one it navigates to the login
// screen; otherwise it loads the workspace list, which resolves the active
// workspace and refreshes the issue list.
func (a *App) Start(ctx context.Context) error {
	if err := a.Session.Restore(ctx); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if !a.RequireAuth() {
		return nil
	}
	if _, err := a.Directory.List(ctx); err != nil {
		return err
	}
	return nil
}

// RequireAuth reports whether a session is live and otherwise navigates to
// the login screen.
func (a *App) RequireAuth() bool {
	if a.Session.Authenticated() {
		return true
	}
	a.nav.Replace(RouteLogin)
	return false
}

func (a *App) gate() error {
	if !a.RequireAuth() {
		return deskapi.Auth("Not logged in")
	}
	return nil
}

// Login authenticates, loads workspaces and goes home.
func (a *App) Login(ctx context.Context, email, password string) (deskapi.Credential, error) {
	cred, err := a.Session.Login(ctx, email, password)
	if err != nil {
		return deskapi.Credential{}, err
	}
	a.afterSignIn(ctx)
	return cred, nil
}

// Signup creates an account, loads workspaces and goes home.
func (a *App) Signup(ctx context.Context, email, name, password string) (deskapi.Credential, error) {
	cred, err := a.Session.Signup(ctx, email, name, password)
	if err != nil {
		return deskapi.Credential{}, err
	}
	a.afterSignIn(ctx)
	return cred, nil
}

func (a *App) afterSignIn(ctx context.Context) {
	if _, err := a.Directory.List(ctx); err != nil {
		logger.ErrorWithErr(err, "app: load workspaces after sign-in")
	}
	a.nav.Replace(RouteHome)
}

// Logout ends the session. Workspace and issue state is reset by the session
// listener.
func (a *App) Logout(ctx context.Context) {
	a.Session.Logout(ctx)
}

// Profile returns the current user as known by the server.
func (a *App) Profile(ctx context.Context) (deskapi.User, error) {
	if err := a.gate(); err != nil {
		return deskapi.User{}, err
	}
	return a.Session.Me(ctx)
}

// DeleteAccount deletes the account after confirmation.
func (a *App) DeleteAccount(ctx context.Context) error {
	if err := a.gate(); err != nil {
		return err
	}
	if err := a.confirmed(ctx, "Delete your account? This cannot be undone."); err != nil {
		return err
	}
	return a.Session.DeleteAccount(ctx)
}

// Workspaces lists the caller's workspaces and re-resolves the selection.
func (a *App) Workspaces(ctx context.Context) ([]deskapi.Organization, error) {
	if err := a.gate(); err != nil {
		return nil, err
	}
	return a.Directory.List(ctx)
}

// SelectWorkspace makes id the active workspace.
func (a *App) SelectWorkspace(ctx context.Context, id string) (workspace.Selection, error) {
	if err := a.gate(); err != nil {
		return a.Selector.Current(), err
	}
	return a.Selector.SetOrgID(ctx, id)
}

// CreateWorkspace creates a workspace and makes it active.
func (a *App) CreateWorkspace(ctx context.Context, input deskapi.OrganizationInput) (deskapi.Organization, error) {
	if err := a.gate(); err != nil {
		return deskapi.Organization{}, err
	}
	org, err := a.Directory.Create(ctx, input)
	if err != nil {
		return deskapi.Organization{}, err
	}
	if _, err := a.Directory.List(ctx); err != nil {
		logger.ErrorWithErr(err, "app: reload workspaces after create")
	}
	if _, err := a.Selector.SetOrgID(ctx, org.ID); err != nil {
		return org, err
	}
	return org, nil
}

// DeleteWorkspace deletes a workspace after confirmation and reloads the
// list, which moves the selection off the deleted workspace.
func (a *App) DeleteWorkspace(ctx context.Context, id string) error {
	if err := a.gate(); err != nil {
		return err
	}
	name := id
	if org, ok := a.Directory.Find(id); ok {
		name = org.Name
	}
	if err := a.confirmed(ctx, fmt.Sprintf("Delete workspace %q and all of its issues?", name)); err != nil {
		return err
	}
	if err := a.Directory.Remove(ctx, id); err != nil {
		return err
	}
	if _, err := a.Directory.List(ctx); err != nil {
		return fmt.Errorf("reload workspaces: %w", err)
	}
	return nil
}

// AddMember adds the user with email to workspace id.
func (a *App) AddMember(ctx context.Context, id, email string) (deskapi.Organization, error) {
	if err := a.gate(); err != nil {
		return deskapi.Organization{}, err
	}
	return a.Directory.AddMember(ctx, id, email)
}

// Members lists the members of workspace id.
func (a *App) Members(ctx context.Context, id string) ([]deskapi.User, error) {
	if err := a.gate(); err != nil {
		return nil, err
	}
	return a.Directory.Members(ctx, id)
}

// RefreshIssues refetches the active workspace's issues, or searches when
// query is not blank.
func (a *App) RefreshIssues(ctx context.Context, query string) (issues.Snapshot, error) {
	if err := a.gate(); err != nil {
		return a.Issues.Snapshot(), err
	}
	return a.Issues.Search(ctx, query)
}

// OpenIssue loads an issue with its workspace and sub-issues and shows it.
func (a *App) OpenIssue(ctx context.Context, id string) (issues.Detail, error) {
	if err := a.gate(); err != nil {
		return issues.Detail{}, err
	}
	d, err := a.Resolver.Load(ctx, id)
	if err != nil {
		return issues.Detail{}, err
	}
	a.nav.Push(RouteIssue(d.Issue.ID))
	return d, nil
}

// NewIssueDraft returns the form defaults for a new issue in the active
// workspace, optionally under parentID.
func (a *App) NewIssueDraft(parentID string) deskapi.IssueInput {
	return issues.NewDraft(a.Selector.OrgID(), strings.TrimSpace(parentID))
}

// CreateIssue creates an issue, then returns to the list and refreshes it.
func (a *App) CreateIssue(ctx context.Context, input deskapi.IssueInput) (deskapi.Issue, error) {
	if err := a.gate(); err != nil {
		return deskapi.Issue{}, err
	}
	if input.OrganizationID == "" {
		input.OrganizationID = a.Selector.OrgID()
	}
	issue, err := a.Mutations.Create(ctx, input)
	if err != nil {
		return deskapi.Issue{}, err
	}
	a.backToList(ctx)
	return issue, nil
}

// UpdateIssue saves an issue, then returns to the list and refreshes it.
func (a *App) UpdateIssue(ctx context.Context, id string, input deskapi.IssueInput) (deskapi.Issue, error) {
	if err := a.gate(); err != nil {
		return deskapi.Issue{}, err
	}
	issue, err := a.Mutations.Update(ctx, id, input)
	if err != nil {
		return deskapi.Issue{}, err
	}
	a.backToList(ctx)
	return issue, nil
}

// DeleteIssue deletes an issue after confirmation, then returns to the list.
func (a *App) DeleteIssue(ctx context.Context, id string) error {
	if err := a.gate(); err != nil {
		return err
	}
	if err := a.confirmed(ctx, "Delete this issue?"); err != nil {
		return err
	}
	if err := a.Mutations.Remove(ctx, id); err != nil {
		return err
	}
	a.backToList(ctx)
	return nil
}

func (a *App) backToList(ctx context.Context) {
	a.nav.Replace(RouteHome)
	if _, err := a.Issues.Refresh(ctx); err != nil && !errors.Is(err, issues.ErrStale) {
		logger.ErrorWithErr(err, "app: refresh after mutation")
	}
}

// confirmed returns nil only when the user accepted prompt. Without a
// Confirmer destructive actions are refused.
func (a *App) confirmed(ctx context.Context, prompt string) error {
	if a.confirm == nil {
		return ErrCancelled
	}
	ok, err := a.confirm.Confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("app: declined %q", prompt)
		return ErrCancelled
	}
	return nil
}

func (a *App) onSelection(sel workspace.Selection) {
	if a.manualRefresh || sel.State == workspace.Unresolved {
		return
	}
	if _, err := a.Issues.Refresh(context.Background()); err != nil && !errors.Is(err, issues.ErrStale) {
		logger.ErrorWithErr(err, "app: refresh after selection org=%s", sel.OrgID)
	}
}

func (a *App) onSession(cred *deskapi.Credential) {
	a.mu.Lock()
	was := a.signedIn
	a.signedIn = cred != nil
	a.mu.Unlock()
	if !was || cred != nil {
		return
	}

	logger.Info("app: signed out, resetting workspace state")
	a.Selector.Reset()
	a.Issues.Reset()
	a.Directory.Reset()
	a.nav.Replace(RouteLogin)
}

type nopNavigator struct{}

func (nopNavigator) Push(string)    {}
func (nopNavigator) Replace(string) {}
