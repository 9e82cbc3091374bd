package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/issues"
)

func newIssueCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "issue",
		Aliases: []string{"issues"},
		Short:   "Issue commands for the active workspace",
	}
	cmd.AddCommand(newIssueListCmd(e))
	cmd.AddCommand(newIssueShowCmd(e))
	cmd.AddCommand(newIssueCreateCmd(e))
	cmd.AddCommand(newIssueUpdateCmd(e))
	cmd.AddCommand(newIssueDeleteCmd(e))
	return cmd
}

func newIssueListCmd(e *env) *cobra.Command {
	var status, query string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List root issues, optionally filtered by status tab or search text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tab, err := issues.ParseTab(status)
			if err != nil {
				return err
			}
			if _, err := e.activeWorkspace(cmd.Context()); err != nil {
				return err
			}
			if err := e.app.Issues.SetTab(tab); err != nil {
				return err
			}
			snap, err := e.app.RefreshIssues(cmd.Context(), query)
			if err != nil {
				return err
			}
			visible := snap.Visible()
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), visible)
			}
			printTabs(cmd.OutOrStdout(), snap)
			if len(visible) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No issues"))
				return nil
			}
			for _, is := range visible {
				printIssueLine(cmd.OutOrStdout(), is, "")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "Status tab: all, todo, in_progress, in_review, done")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search title and description")
	return cmd
}

func printTabs(w io.Writer, snap issues.Snapshot) {
	counts := snap.Counts()
	parts := make([]string, 0, len(issues.Tabs))
	for _, t := range issues.Tabs {
		label := fmt.Sprintf("%s %d", t.Label(), counts[t])
		if t == snap.Tab {
			label = headingStyle.Render(label)
		} else {
			label = mutedStyle.Render(label)
		}
		parts = append(parts, label)
	}
	fmt.Fprintln(w, strings.Join(parts, "  "))
}

func newIssueShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an issue with its sub-issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := e.app.OpenIssue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"issue":        d.Issue,
					"organization": d.Organization,
					"subIssues":    d.SubIssues,
				})
			}
			printDetail(cmd.OutOrStdout(), d.Issue, d.Organization, d.SubIssues)
			return nil
		},
	}
}

type issueFlags struct {
	title       string
	description string
	status      string
	assignee    string
	parent      string
}

func (f *issueFlags) register(cmd *cobra.Command, defaultStatus string) {
	cmd.Flags().StringVar(&f.title, "title", "", "Title")
	cmd.Flags().StringVar(&f.description, "description", "", "Description (markdown)")
	cmd.Flags().StringVar(&f.status, "status", defaultStatus, "Status: todo, in_progress, in_review, done")
	cmd.Flags().StringVar(&f.assignee, "assignee", "", "Assignee user id; must be a workspace member")
	cmd.Flags().StringVar(&f.parent, "parent", "", "Parent issue id")
}

// apply copies the flags the user set onto input.
func (f *issueFlags) apply(cmd *cobra.Command, input *deskapi.IssueInput) {
	changed := cmd.Flags().Changed
	if changed("title") {
		input.Title = f.title
	}
	if changed("description") {
		input.Description = f.description
	}
	if changed("status") {
		input.Status = deskapi.Status(f.status)
	}
	if changed("assignee") {
		input.AssigneeID = f.assignee
	}
	if changed("parent") {
		input.ParentIssueID = f.parent
	}
}

func newIssueCreateCmd(e *env) *cobra.Command {
	var flags issueFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue in the active workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := e.activeWorkspace(cmd.Context()); err != nil {
				return err
			}
			input := e.app.NewIssueDraft(flags.parent)
			flags.apply(cmd, &input)
			issue, err := e.app.CreateIssue(cmd.Context(), input)
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), issue)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", issue.ID)
			return nil
		},
	}
	flags.register(cmd, string(deskapi.StatusTodo))
	return cmd
}

func newIssueUpdateCmd(e *env) *cobra.Command {
	var flags issueFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of an issue; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !e.app.RequireAuth() {
				return deskapi.Auth("Not logged in")
			}
			current, err := e.app.API.GetIssue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			input := deskapi.InputFromIssue(current)
			flags.apply(cmd, &input)
			issue, err := e.app.UpdateIssue(cmd.Context(), current.ID, input)
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), issue)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", issue.ID)
			return nil
		},
	}
	flags.register(cmd, "")
	return cmd
}

func newIssueDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.app.DeleteIssue(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
