package issues

import (
	"context"
	"fmt"
	"strings"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/logger"
)

// Stage names one step of loading an issue detail.
type Stage int

const (
	StageIssue Stage = iota
	StageOrganization
	StageSubIssues
)

func (s Stage) String() string {
	switch s {
	case StageIssue:
		return "issue"
	case StageOrganization:
		return "organization"
	case StageSubIssues:
		return "sub-issues"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError reports which stage of Load failed. Error returns the
// underlying message unchanged so it can be shown as is.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return deskapi.Message(e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Detail is an issue with its organization and direct sub-issues.
type Detail struct {
	Issue        deskapi.Issue
	Organization deskapi.Organization
	SubIssues    []deskapi.Issue
}

// Resolver loads issue details. Load runs its stages in order; each stage
// depends on the previous one and the first failure stops the pipeline.
type Resolver struct {
	api Gateway
}

// NewResolver returns a resolver.
func NewResolver(api Gateway) *Resolver {
	return &Resolver{api: api}
}

type stage struct {
	name Stage
	run  func(ctx context.Context, d *Detail) error
}

// Load fetches the issue, then its organization, then its sub-issues.
func (r *Resolver) Load(ctx context.Context, issueID string) (Detail, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return Detail{}, &StageError{Stage: StageIssue, Err: deskapi.Validation("id", "Issue id is required")}
	}

	pipeline := []stage{
		{StageIssue, func(ctx context.Context, d *Detail) error {
			is, err := r.api.GetIssue(ctx, issueID)
			d.Issue = is
			return err
		}},
		{StageOrganization, func(ctx context.Context, d *Detail) error {
			org, err := r.api.GetOrganization(ctx, d.Issue.OrganizationID)
			d.Organization = org
			return err
		}},
		{StageSubIssues, func(ctx context.Context, d *Detail) error {
			subs, err := r.api.ListIssues(ctx, deskapi.ListIssuesParams{
				OrganizationID: d.Issue.OrganizationID,
				ParentIssueID:  d.Issue.ID,
			})
			if err != nil {
				return err
			}
			d.SubIssues = make([]deskapi.Issue, 0, len(subs))
			for _, s := range subs {
				if s.ParentIssueID == d.Issue.ID && s.OrganizationID == d.Issue.OrganizationID {
					d.SubIssues = append(d.SubIssues, s)
				}
			}
			return nil
		}},
	}

	var d Detail
	for _, st := range pipeline {
		if err := st.run(ctx, &d); err != nil {
			logger.ErrorWithErr(err, "issues.resolver: load failed issue=%s stage=%s", issueID, st.name)
			return Detail{}, &StageError{Stage: st.name, Err: err}
		}
	}
	logger.Debug("issues.resolver: loaded issue=%s sub_issues=%d", issueID, len(d.SubIssues))
	return d, nil
}
