package issues

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/logger"
)

// ErrBusy is returned when a mutation is issued for an entity that already
// has one in flight from the same Mutations.
var ErrBusy = errors.New("another change to this issue is still in progress")

// MemberLister lists the members of an organization, the only valid
// assignees for its issues.
type MemberLister interface {
	Members(ctx context.Context, orgID string) ([]deskapi.User, error)
}

// NewDraft returns the defaults for a new issue in orgID, optionally as a
// sub-issue of parentID.
func NewDraft(orgID, parentID string) deskapi.IssueInput {
	return deskapi.IssueInput{
		OrganizationID: orgID,
		Status:         deskapi.StatusTodo,
		ParentIssueID:  parentID,
	}
}

// Validate checks input before it is sent. selfID is the id of the issue
// being edited, or "" on create. The returned input carries the canonical
// status spelling.
func Validate(input deskapi.IssueInput, selfID string) (deskapi.IssueInput, error) {
	if strings.TrimSpace(input.OrganizationID) == "" {
		return input, deskapi.Validation("organizationId", "Organization is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return input, deskapi.Validation("title", "Title is required")
	}
	if strings.TrimSpace(input.Description) == "" {
		return input, deskapi.Validation("description", "Description is required")
	}
	status, ok := deskapi.ParseStatus(string(input.Status))
	if !ok {
		return input, deskapi.Validation("status",
			fmt.Sprintf("Status must be one of %s", statusList()))
	}
	input.Status = status
	input.AssigneeID = strings.TrimSpace(input.AssigneeID)
	input.ParentIssueID = strings.TrimSpace(input.ParentIssueID)
	if selfID != "" && input.ParentIssueID == selfID {
		return input, deskapi.Validation("parentIssueId", "An issue cannot be its own parent")
	}
	return input, nil
}

// AssigneeOptions returns the ids that may be offered as assignees.
func AssigneeOptions(members []deskapi.User) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}

// ValidateAssignee refuses an assignee that is not among members.
func ValidateAssignee(assigneeID string, members []deskapi.User) error {
	if assigneeID == "" {
		return nil
	}
	for _, m := range members {
		if m.ID == assigneeID {
			return nil
		}
	}
	return deskapi.Validation("assigneeId", "Assignee must be a member of the organization")
}

// Mutations creates, updates and deletes issues after local validation. It
// never navigates; callers decide what to show next.
type Mutations struct {
	api     Gateway
	members MemberLister

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewMutations returns a Mutations. members may be nil, in which case
// assignees are left to the server to check.
func NewMutations(api Gateway, members MemberLister) *Mutations {
	return &Mutations{
		api:      api,
		members:  members,
		inFlight: make(map[string]struct{}),
	}
}

// Create validates input and creates the issue.
func (m *Mutations) Create(ctx context.Context, input deskapi.IssueInput) (deskapi.Issue, error) {
	input, err := m.prepare(ctx, input, "")
	if err != nil {
		return deskapi.Issue{}, err
	}
	done, err := m.acquire("create:" + input.OrganizationID)
	if err != nil {
		return deskapi.Issue{}, err
	}
	defer done()

	issue, err := m.api.CreateIssue(ctx, input)
	if err != nil {
		return deskapi.Issue{}, err
	}
	logger.Info("issues.mutations: created issue=%s org=%s", issue.ID, issue.OrganizationID)
	return issue, nil
}

// Update validates input and replaces the editable fields of issue id.
func (m *Mutations) Update(ctx context.Context, id string, input deskapi.IssueInput) (deskapi.Issue, error) {
	if strings.TrimSpace(id) == "" {
		return deskapi.Issue{}, deskapi.Validation("id", "Issue id is required")
	}
	input, err := m.prepare(ctx, input, id)
	if err != nil {
		return deskapi.Issue{}, err
	}
	done, err := m.acquire(id)
	if err != nil {
		return deskapi.Issue{}, err
	}
	defer done()

	issue, err := m.api.UpdateIssue(ctx, id, input)
	if err != nil {
		return deskapi.Issue{}, err
	}
	logger.Info("issues.mutations: updated issue=%s status=%s", issue.ID, issue.Status)
	return issue, nil
}

// Remove deletes issue id. The caller must have confirmed the deletion.
func (m *Mutations) Remove(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return deskapi.Validation("id", "Issue id is required")
	}
	done, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer done()

	if err := m.api.DeleteIssue(ctx, id); err != nil {
		return err
	}
	logger.Info("issues.mutations: removed issue=%s", id)
	return nil
}

func (m *Mutations) prepare(ctx context.Context, input deskapi.IssueInput, selfID string) (deskapi.IssueInput, error) {
	input, err := Validate(input, selfID)
	if err != nil {
		return input, err
	}
	if input.AssigneeID == "" || m.members == nil {
		return input, nil
	}
	members, err := m.members.Members(ctx, input.OrganizationID)
	if err != nil {
		return input, fmt.Errorf("load assignees: %w", err)
	}
	return input, ValidateAssignee(input.AssigneeID, members)
}

// acquire marks key as in flight and returns the function that releases it.
func (m *Mutations) acquire(key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[key]; busy {
		logger.Warning("issues.mutations: refused concurrent change key=%s", key)
		return nil, ErrBusy
	}
	m.inFlight[key] = struct{}{}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.inFlight, key)
	}, nil
}

func statusList() string {
	names := make([]string, len(deskapi.Statuses))
	for i, s := range deskapi.Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
