// Package issues holds the view models for the issue list of the active
// workspace and for a single issue with its sub-issues.
package issues

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/logger"
	"github.com/roeyazroel/issuedesk/internal/workspace"
)

// ErrStale is returned by Refresh and Search when their result was discarded
// because the active workspace changed or a newer fetch started.
var ErrStale = errors.New("issues: result superseded by a newer fetch")

// Tab filters the root list by status.
type Tab string

const (
	TabAll        Tab = "all"
	TabTodo       Tab = Tab(deskapi.StatusTodo)
	TabInProgress Tab = Tab(deskapi.StatusInProgress)
	TabInReview   Tab = Tab(deskapi.StatusInReview)
	TabDone       Tab = Tab(deskapi.StatusDone)
)

// Tabs lists the supported tabs in display order.
var Tabs = []Tab{TabAll, TabTodo, TabInProgress, TabInReview, TabDone}

// ParseTab accepts one of the five tab names. Legacy status spellings are not
// tabs.
func ParseTab(raw string) (Tab, error) {
	t := Tab(strings.TrimSpace(raw))
	if t == "" {
		return TabAll, nil
	}
	if !slices.Contains(Tabs, t) {
		return "", deskapi.Validation("tab", "Unknown status tab "+string(t))
	}
	return t, nil
}

// Matches reports whether an issue with status s belongs on the tab.
func (t Tab) Matches(s deskapi.Status) bool {
	if t == TabAll {
		return true
	}
	return deskapi.Status(t) == s.Normalize()
}

// Label returns the tab heading.
func (t Tab) Label() string {
	if t == TabAll {
		return "All"
	}
	return deskapi.Status(t).Label()
}

// ActiveWorkspace reports the current workspace selection.
type ActiveWorkspace interface {
	Current() workspace.Selection
}

// Gateway is the subset of the API client used by this package.
type Gateway interface {
	ListIssues(ctx context.Context, params deskapi.ListIssuesParams) ([]deskapi.Issue, error)
	SearchIssues(ctx context.Context, orgID, query string) ([]deskapi.Issue, error)
	GetIssue(ctx context.Context, id string) (deskapi.Issue, error)
	GetOrganization(ctx context.Context, id string) (deskapi.Organization, error)
	CreateIssue(ctx context.Context, input deskapi.IssueInput) (deskapi.Issue, error)
	UpdateIssue(ctx context.Context, id string, input deskapi.IssueInput) (deskapi.Issue, error)
	DeleteIssue(ctx context.Context, id string) error
}

// Snapshot is the state of the collection view.
type Snapshot struct {
	OrgID   string
	Issues  []deskapi.Issue // as fetched, including sub-issues
	Query   string
	Tab     Tab
	Loading bool
	Err     error
}

// Roots returns the issues without a parent.
func (s Snapshot) Roots() []deskapi.Issue {
	roots := make([]deskapi.Issue, 0, len(s.Issues))
	for _, is := range s.Issues {
		if !is.IsSubIssue() {
			roots = append(roots, is)
		}
	}
	return roots
}

// Visible returns the root issues on the current tab.
func (s Snapshot) Visible() []deskapi.Issue {
	tab := s.Tab
	if tab == "" {
		tab = TabAll
	}
	out := make([]deskapi.Issue, 0, len(s.Issues))
	for _, is := range s.Roots() {
		if tab.Matches(is.Status) {
			out = append(out, is)
		}
	}
	return out
}

// Counts returns how many root issues fall on each tab.
func (s Snapshot) Counts() map[Tab]int {
	counts := make(map[Tab]int, len(Tabs))
	for _, is := range s.Roots() {
		for _, t := range Tabs {
			if t.Matches(is.Status) {
				counts[t]++
			}
		}
	}
	return counts
}

// CollectionView fetches and filters the issues of the active workspace.
// Each fetch is tagged with the workspace it was issued for and a
// generation; a result is applied only if both still match on completion.
type CollectionView struct {
	api    Gateway
	active ActiveWorkspace

	refreshGeneration atomic.Int64

	mu        sync.Mutex
	state     Snapshot
	listeners map[int]func(Snapshot)
	nextID    int
}

// NewCollectionView returns an empty view on the All tab.
func NewCollectionView(api Gateway, active ActiveWorkspace) *CollectionView {
	return &CollectionView{
		api:       api,
		active:    active,
		state:     Snapshot{Tab: TabAll, Issues: []deskapi.Issue{}},
		listeners: make(map[int]func(Snapshot)),
	}
}

// Refresh fetches every issue of the active workspace. With no active
// workspace the view is emptied without a network call.
func (c *CollectionView) Refresh(ctx context.Context) (Snapshot, error) {
	return c.fetch(ctx, "")
}

// Search runs a text search in the active workspace. A blank query is
// exactly Refresh.
func (c *CollectionView) Search(ctx context.Context, query string) (Snapshot, error) {
	return c.fetch(ctx, strings.TrimSpace(query))
}

func (c *CollectionView) fetch(ctx context.Context, query string) (Snapshot, error) {
	sel := c.active.Current()
	generation := c.refreshGeneration.Add(1)

	c.mu.Lock()
	c.state.Query = query
	if !sel.Active() {
		c.state.OrgID = ""
		c.state.Issues = []deskapi.Issue{}
		c.state.Loading = false
		c.state.Err = nil
		snap := c.snapshotLocked()
		listeners := c.listenersLocked()
		c.mu.Unlock()
		notify(listeners, snap)
		return snap, nil
	}
	if c.state.OrgID != sel.OrgID {
		c.state.Issues = []deskapi.Issue{}
	}
	c.state.OrgID = sel.OrgID
	c.state.Loading = true
	c.state.Err = nil
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()
	notify(listeners, snap)

	logger.Debug("issues.view: fetching org=%s query=%q generation=%d", sel.OrgID, query, generation)
	var (
		result []deskapi.Issue
		err    error
	)
	if query == "" {
		result, err = c.api.ListIssues(ctx, deskapi.ListIssuesParams{OrganizationID: sel.OrgID})
	} else {
		result, err = c.api.SearchIssues(ctx, sel.OrgID, query)
	}

	c.mu.Lock()
	if generation != c.refreshGeneration.Load() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		logger.Debug("issues.view: discarding stale result org=%s generation=%d", sel.OrgID, generation)
		return snap, ErrStale
	}
	if cur := c.active.Current(); cur.OrgID != sel.OrgID {
		// The workspace changed and no newer fetch started: leave the view
		// empty for the new workspace rather than loading.
		c.state.OrgID = cur.OrgID
		c.state.Issues = []deskapi.Issue{}
		c.state.Loading = false
		c.state.Err = nil
		snap := c.snapshotLocked()
		listeners := c.listenersLocked()
		c.mu.Unlock()
		logger.Debug("issues.view: discarding result for previous org=%s now=%s", sel.OrgID, cur.OrgID)
		notify(listeners, snap)
		return snap, ErrStale
	}
	c.state.Loading = false
	if err != nil {
		c.state.Err = err
	} else {
		c.state.Issues = result
	}
	snap = c.snapshotLocked()
	listeners = c.listenersLocked()
	c.mu.Unlock()

	if err != nil {
		logger.ErrorWithErr(err, "issues.view: fetch failed org=%s", sel.OrgID)
	}
	notify(listeners, snap)
	return snap, err
}

// SetTab switches the status tab. Unknown tabs are rejected and leave the
// view unchanged.
func (c *CollectionView) SetTab(tab Tab) error {
	if !slices.Contains(Tabs, tab) {
		return deskapi.Validation("tab", "Unknown status tab "+string(tab))
	}
	c.mu.Lock()
	c.state.Tab = tab
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()
	notify(listeners, snap)
	return nil
}

// Snapshot returns a copy of the current state.
func (c *CollectionView) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Roots returns the root issues of the current state.
func (c *CollectionView) Roots() []deskapi.Issue {
	return c.Snapshot().Roots()
}

// Visible returns the root issues on the current tab.
func (c *CollectionView) Visible() []deskapi.Issue {
	return c.Snapshot().Visible()
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (c *CollectionView) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Reset clears the view and invalidates in-flight fetches, e.g. after logout.
func (c *CollectionView) Reset() {
	c.refreshGeneration.Add(1)
	c.mu.Lock()
	c.state = Snapshot{Tab: c.state.Tab, Issues: []deskapi.Issue{}}
	c.mu.Unlock()
}

func (c *CollectionView) snapshotLocked() Snapshot {
	s := c.state
	s.Issues = slices.Clone(c.state.Issues)
	return s
}

func (c *CollectionView) listenersLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
