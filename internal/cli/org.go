package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
)

func newOrgCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "org",
		Aliases: []string{"orgs", "workspace"},
		Short:   "Workspace commands",
	}
	cmd.AddCommand(newOrgListCmd(e))
	cmd.AddCommand(newOrgCreateCmd(e))
	cmd.AddCommand(newOrgDeleteCmd(e))
	cmd.AddCommand(newOrgUseCmd(e))
	cmd.AddCommand(newOrgAddMemberCmd(e))
	cmd.AddCommand(newOrgMembersCmd(e))
	return cmd
}

func newOrgListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your workspaces; * marks the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orgs, err := e.app.Workspaces(cmd.Context())
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), orgs)
			}
			if len(orgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workspaces yet")
				return nil
			}
			user, _ := e.app.Session.User()
			active := e.app.Selector.OrgID()
			for _, org := range orgs {
				printOrganization(cmd.OutOrStdout(), org, org.ID == active, user.ID)
			}
			return nil
		},
	}
}

func newOrgCreateCmd(e *env) *cobra.Command {
	var input deskapi.OrganizationInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workspace and make it active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			org, err := e.app.CreateWorkspace(cmd.Context(), input)
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), org)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s) %s\n", org.Name, org.Key, mutedStyle.Render(org.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&input.Name, "name", "", "Workspace name")
	cmd.Flags().StringVar(&input.Key, "key", "", "Short key, 2-8 characters")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newOrgDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|key>",
		Short: "Delete a workspace you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := e.findWorkspace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := e.app.DeleteWorkspace(cmd.Context(), org.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", org.Name)
			return nil
		},
	}
}

func newOrgUseCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "use <id|key>",
		Short: "Make a workspace active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := e.findWorkspace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := e.app.SelectWorkspace(cmd.Context(), org.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active workspace: %s (%s)\n", org.Name, org.Key)
			return nil
		},
	}
}

func newOrgAddMemberCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "add-member <id|key> <email>",
		Short: "Add a user to a workspace you own",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := e.findWorkspace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := e.app.AddMember(cmd.Context(), org.ID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", strings.TrimSpace(args[1]), org.Name)
			return nil
		},
	}
}

func newOrgMembersCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "members [id|key]",
		Short: "List the members of a workspace (default: active)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var orgID string
			if len(args) == 1 {
				org, err := e.findWorkspace(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				orgID = org.ID
			} else {
				id, err := e.activeWorkspace(cmd.Context())
				if err != nil {
					return err
				}
				orgID = id
			}
			users, err := e.app.Members(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), users)
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", u.Email, u.Name, mutedStyle.Render(u.ID))
			}
			return nil
		},
	}
}

// findWorkspace matches ref against the id or, case-insensitively, the key of
// the caller's workspaces.
func (e *env) findWorkspace(ctx context.Context, ref string) (deskapi.Organization, error) {
	orgs, err := e.app.Workspaces(ctx)
	if err != nil {
		return deskapi.Organization{}, err
	}
	ref = strings.TrimSpace(ref)
	for _, org := range orgs {
		if org.ID == ref || strings.EqualFold(org.Key, ref) {
			return org, nil
		}
	}
	return deskapi.Organization{}, &deskapi.Error{
		Kind:    deskapi.KindNotFound,
		Message: fmt.Sprintf("No workspace matches %q", ref),
	}
}
