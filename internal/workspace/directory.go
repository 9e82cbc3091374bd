// Package workspace lists the organizations visible to the current user and
// decides which one is active.
package workspace

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/logger"
)

// Key length bounds for a new workspace.
const (
	MinKeyLength = 2
	MaxKeyLength = 8
)

// Gateway is the subset of the API client used by the directory.
type Gateway interface {
	ListOrganizations(ctx context.Context) ([]deskapi.Organization, error)
	CreateOrganization(ctx context.Context, input deskapi.OrganizationInput) (deskapi.Organization, error)
	GetOrganization(ctx context.Context, id string) (deskapi.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error
	ListMembers(ctx context.Context, orgID string) ([]deskapi.User, error)
	AddMember(ctx context.Context, orgID, email string) (deskapi.Organization, error)
}

// Directory fetches the organization list and remembers the last result.
// Mutations do not refresh the list; callers call List afterwards.
type Directory struct {
	api    Gateway
	userID func() string

	group singleflight.Group

	mu        sync.RWMutex
	orgs      []deskapi.Organization
	loaded    bool
	listeners map[int]func([]deskapi.Organization)
	nextID    int
}

// NewDirectory returns a directory. userID reports the authenticated user and
// is used to refuse owner-only actions locally.
func NewDirectory(api Gateway, userID func() string) *Directory {
	if userID == nil {
		userID = func() string { return "" }
	}
	return &Directory{
		api:       api,
		userID:    userID,
		listeners: make(map[int]func([]deskapi.Organization)),
	}
}

// List fetches all organizations in server order. Concurrent callers share
// one request. Subscribers are notified after each successful fetch.
func (d *Directory) List(ctx context.Context) ([]deskapi.Organization, error) {
	v, err, shared := d.group.Do("list", func() (any, error) {
		orgs, err := d.api.ListOrganizations(ctx)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.orgs = orgs
		d.loaded = true
		listeners := d.snapshotListeners()
		d.mu.Unlock()

		for _, fn := range listeners {
			fn(slices.Clone(orgs))
		}
		return orgs, nil
	})
	if err != nil {
		logger.ErrorWithErr(err, "workspace: list failed")
		return nil, err
	}
	if shared {
		logger.Debug("workspace: list shared with concurrent caller")
	}
	return slices.Clone(v.([]deskapi.Organization)), nil
}

// Cached returns the result of the last successful List and whether one has
// completed.
func (d *Directory) Cached() ([]deskapi.Organization, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.orgs), d.loaded
}

// Find returns an organization from the cached list.
func (d *Directory) Find(id string) (deskapi.Organization, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := slices.IndexFunc(d.orgs, func(o deskapi.Organization) bool { return o.ID == id })
	if i < 0 {
		return deskapi.Organization{}, false
	}
	return d.orgs[i], true
}

// Get fetches a single organization.
func (d *Directory) Get(ctx context.Context, id string) (deskapi.Organization, error) {
	if strings.TrimSpace(id) == "" {
		return deskapi.Organization{}, deskapi.Validation("id", "Organization id is required")
	}
	return d.api.GetOrganization(ctx, id)
}

// Create validates input, upper-cases the key and creates the organization.
func (d *Directory) Create(ctx context.Context, input deskapi.OrganizationInput) (deskapi.Organization, error) {
	input, err := NormalizeInput(input)
	if err != nil {
		return deskapi.Organization{}, err
	}
	org, err := d.api.CreateOrganization(ctx, input)
	if err != nil {
		return deskapi.Organization{}, err
	}
	logger.Info("workspace: created id=%s key=%s", org.ID, org.Key)
	return org, nil
}

// Remove deletes an organization. The caller must have confirmed the
// deletion and is responsible for calling List afterwards.
func (d *Directory) Remove(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return deskapi.Validation("id", "Organization id is required")
	}
	if err := d.requireOwner(id, "Only the owner can delete the organization"); err != nil {
		return err
	}
	if err := d.api.DeleteOrganization(ctx, id); err != nil {
		return err
	}
	logger.Info("workspace: removed id=%s", id)
	return nil
}

// AddMember invites an existing account into an organization by email.
func (d *Directory) AddMember(ctx context.Context, id, email string) (deskapi.Organization, error) {
	email = strings.TrimSpace(email)
	if err := deskapi.ValidateEmail(email); err != nil {
		return deskapi.Organization{}, err
	}
	if err := d.requireOwner(id, "Only the owner can add members"); err != nil {
		return deskapi.Organization{}, err
	}
	org, err := d.api.AddMember(ctx, id, email)
	if err != nil {
		return deskapi.Organization{}, err
	}
	logger.Info("workspace: added member org=%s", id)
	return org, nil
}

// Members returns the member accounts of an organization sorted by email.
// This is the complete set of valid assignees for its issues.
func (d *Directory) Members(ctx context.Context, id string) ([]deskapi.User, error) {
	users, err := d.api.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(users, func(a, b deskapi.User) int {
		return strings.Compare(a.Email, b.Email)
	})
	return users, nil
}

// Subscribe registers fn for each successful List and returns a function
// that removes it.
func (d *Directory) Subscribe(fn func([]deskapi.Organization)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

// Reset forgets the cached list, e.g. after logout.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgs = nil
	d.loaded = false
}

// requireOwner refuses when the cached list shows the caller is not the
// owner. Unknown organizations are left to the server.
func (d *Directory) requireOwner(id, message string) error {
	org, ok := d.Find(id)
	if !ok {
		return nil
	}
	if uid := d.userID(); uid != "" && !org.IsOwner(uid) {
		return deskapi.Auth(message)
	}
	return nil
}

func (d *Directory) snapshotListeners() []func([]deskapi.Organization) {
	out := make([]func([]deskapi.Organization), 0, len(d.listeners))
	for _, fn := range d.listeners {
		out = append(out, fn)
	}
	return out
}

// NormalizeInput trims the name, trims and upper-cases the key and checks
// both.
func NormalizeInput(input deskapi.OrganizationInput) (deskapi.OrganizationInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Key = strings.ToUpper(strings.TrimSpace(input.Key))
	if input.Name == "" {
		return input, deskapi.Validation("name", "Name is required")
	}
	if n := utf8.RuneCountInString(input.Key); n < MinKeyLength || n > MaxKeyLength {
		return input, deskapi.Validation("key",
			fmt.Sprintf("Key must be %d-%d characters", MinKeyLength, MaxKeyLength))
	}
	return input, nil
}
