package workspace

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/kvstore"
	"github.com/roeyazroel/issuedesk/internal/logger"
)

// State is the resolution state of the active workspace.
type State int

const (
	// Unresolved means no organization list has been seen yet.
	Unresolved State = iota
	// Selected means OrgID names the active workspace.
	Selected
	// Empty means the user belongs to no organization.
	Empty
)

func (s State) String() string {
	switch s {
	case Selected:
		return "selected"
	case Empty:
		return "empty"
	default:
		return "unresolved"
	}
}

// Selection is a snapshot of the active workspace. Generation increases on
// every change so consumers can detect that a snapshot is outdated.
type Selection struct {
	State      State
	OrgID      string
	Generation uint64
}

// Active reports whether a workspace is selected.
func (s Selection) Active() bool {
	return s.State == Selected && s.OrgID != ""
}

// Selector is the single owner of the active workspace id. It mirrors the
// choice to kvstore.KeyOrgID and notifies subscribers on change.
type Selector struct {
	kv kvstore.Store

	mu        sync.Mutex
	sel       Selection
	orgs      []deskapi.Organization
	listeners map[int]func(Selection)
	nextID    int
}

// NewSelector returns an unresolved selector.
func NewSelector(kv kvstore.Store) *Selector {
	return &Selector{
		kv:        kv,
		listeners: make(map[int]func(Selection)),
	}
}

// Resolve picks the active workspace for orgs: the persisted id when it is
// listed, else the first entry, else none. A selected id is written through
// when it differs from the persisted one; an empty list writes nothing.
func (s *Selector) Resolve(ctx context.Context, orgs []deskapi.Organization) (Selection, error) {
	s.mu.Lock()

	persisted, _, err := s.kv.Get(ctx, kvstore.KeyOrgID)
	if err != nil {
		// Fall back to list order rather than leave the view unresolved.
		logger.ErrorWithErr(err, "workspace: read persisted selection")
		persisted = ""
	}

	s.orgs = slices.Clone(orgs)
	next := Selection{State: Empty}
	switch {
	case persisted != "" && containsOrg(orgs, persisted):
		next = Selection{State: Selected, OrgID: persisted}
	case len(orgs) > 0:
		next = Selection{State: Selected, OrgID: orgs[0].ID}
	}

	var writeErr error
	if next.State == Selected && next.OrgID != persisted {
		if err := s.kv.Set(ctx, kvstore.KeyOrgID, next.OrgID); err != nil {
			logger.ErrorWithErr(err, "workspace: persist selection id=%s", next.OrgID)
			writeErr = fmt.Errorf("persist selection: %w", err)
		}
	}

	sel, listeners := s.transition(next)
	s.mu.Unlock()

	notify(listeners, sel)
	return sel, writeErr
}

// SetOrgID makes id the active workspace immediately and persists it. On a
// storage failure the selection is unchanged.
func (s *Selector) SetOrgID(ctx context.Context, id string) (Selection, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.Current(), deskapi.Validation("organizationId", "Organization id is required")
	}

	s.mu.Lock()
	if err := s.kv.Set(ctx, kvstore.KeyOrgID, id); err != nil {
		sel := s.sel
		s.mu.Unlock()
		return sel, fmt.Errorf("persist selection: %w", err)
	}
	sel, listeners := s.transition(Selection{State: Selected, OrgID: id})
	s.mu.Unlock()

	logger.Info("workspace: selected id=%s", id)
	notify(listeners, sel)
	return sel, nil
}

// Reset returns to Unresolved without touching storage, e.g. after logout.
func (s *Selector) Reset() {
	s.mu.Lock()
	s.orgs = nil
	sel, listeners := s.transition(Selection{State: Unresolved})
	s.mu.Unlock()
	notify(listeners, sel)
}

// Current returns the current selection.
func (s *Selector) Current() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// OrgID returns the active workspace id, or "" when none is active.
func (s *Selector) OrgID() string {
	return s.Current().OrgID
}

// Organization returns the active workspace as of the last resolved list.
func (s *Selector) Organization() (deskapi.Organization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sel.State != Selected {
		return deskapi.Organization{}, false
	}
	i := slices.IndexFunc(s.orgs, func(o deskapi.Organization) bool { return o.ID == s.sel.OrgID })
	if i < 0 {
		return deskapi.Organization{}, false
	}
	return s.orgs[i], true
}

// Subscribe registers fn for selection changes and returns a function that
// removes it.
func (s *Selector) Subscribe(fn func(Selection)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Follow re-resolves the selection after every successful d.List.
func (s *Selector) Follow(d *Directory) (stop func()) {
	return d.Subscribe(func(orgs []deskapi.Organization) {
		if _, err := s.Resolve(context.Background(), orgs); err != nil {
			logger.ErrorWithErr(err, "workspace: resolve after list")
		}
	})
}

// transition applies next and returns the listeners to notify, or none when
// nothing changed. Callers hold s.mu.
func (s *Selector) transition(next Selection) (Selection, []func(Selection)) {
	if next.State == s.sel.State && next.OrgID == s.sel.OrgID {
		return s.sel, nil
	}
	next.Generation = s.sel.Generation + 1
	s.sel = next
	logger.Debug("workspace: selection state=%s id=%s generation=%d", next.State, next.OrgID, next.Generation)

	listeners := make([]func(Selection), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return next, listeners
}

func notify(listeners []func(Selection), sel Selection) {
	for _, fn := range listeners {
		fn(sel)
	}
}

func containsOrg(orgs []deskapi.Organization, id string) bool {
	return slices.ContainsFunc(orgs, func(o deskapi.Organization) bool { return o.ID == id })
}
