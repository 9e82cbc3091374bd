package deskapi

import (
	"encoding/json"
	"slices"
	"strings"
)

// User represents an account.
type User struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Credential is the result of a successful login or signup.
type Credential struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Organization represents a workspace: the tenant boundary that owns issues
// and members.
type Organization struct {
	ID        string   `json:"_id"`
	Name      string   `json:"name"`
	Key       string   `json:"key"`
	OwnerID   string   `json:"ownerId"`
	MemberIDs []string `json:"memberIds"`
}

// UnmarshalJSON decodes an organization and guarantees the owner is listed
// as a member.
func (o *Organization) UnmarshalJSON(data []byte) error {
	type wire Organization
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = Organization(w)
	if o.OwnerID != "" && !slices.Contains(o.MemberIDs, o.OwnerID) {
		o.MemberIDs = append([]string{o.OwnerID}, o.MemberIDs...)
	}
	return nil
}

// IsOwner reports whether userID owns the organization.
func (o Organization) IsOwner(userID string) bool {
	return userID != "" && o.OwnerID == userID
}

// IsMember reports whether userID belongs to the organization.
func (o Organization) IsMember(userID string) bool {
	return userID != "" && (o.OwnerID == userID || slices.Contains(o.MemberIDs, userID))
}

// OrganizationInput contains input for creating an organization.
type OrganizationInput struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Status is the workflow state of an issue.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusDone       Status = "done"

	// statusBacklog is the legacy spelling of StatusInReview. It is accepted
	// on read and never written.
	statusBacklog Status = "backlog"
)

// Statuses lists the canonical statuses in workflow order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusInReview, StatusDone}

// Normalize maps legacy aliases onto their canonical status.
func (s Status) Normalize() Status {
	v := Status(strings.TrimSpace(string(s)))
	if v == statusBacklog {
		return StatusInReview
	}
	return v
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Label returns a human-readable name.
func (s Status) Label() string {
	switch s.Normalize() {
	case StatusTodo:
		return "To do"
	case StatusInProgress:
		return "In progress"
	case StatusInReview:
		return "In review"
	case StatusDone:
		return "Done"
	default:
		return string(s)
	}
}

// ParseStatus normalizes raw and reports whether the result is canonical.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw).Normalize()
	return s, s.Valid()
}

// UnmarshalJSON normalizes the status at the read boundary.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Status(raw).Normalize()
	return nil
}

// MarshalJSON always writes the canonical spelling.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s.Normalize()))
}

// Issue represents an issue or sub-issue.
type Issue struct {
	ID             string `json:"_id"`
	OrganizationID string `json:"organizationId"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         Status `json:"status"`
	AssigneeID     string `json:"assigneeId,omitempty"`
	ParentIssueID  string `json:"parentIssueId,omitempty"`
}

// IsSubIssue reports whether the issue has a parent.
func (i Issue) IsSubIssue() bool {
	return i.ParentIssueID != ""
}

// IssueInput is the body for creating or replacing an issue.
type IssueInput struct {
	OrganizationID string `json:"organizationId"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         Status `json:"status"`
	AssigneeID     string `json:"assigneeId,omitempty"`
	ParentIssueID  string `json:"parentIssueId,omitempty"`
}

// InputFromIssue returns the editable fields of an existing issue.
func InputFromIssue(i Issue) IssueInput {
	return IssueInput{
		OrganizationID: i.OrganizationID,
		Title:          i.Title,
		Description:    i.Description,
		Status:         i.Status.Normalize(),
		AssigneeID:     i.AssigneeID,
		ParentIssueID:  i.ParentIssueID,
	}
}

// ListIssuesParams filters the issue list endpoint.
type ListIssuesParams struct {
	OrganizationID string
	ParentIssueID  string
}
