package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
)

var (
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}

	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)

	statusColors = map[deskapi.Status]lipgloss.AdaptiveColor{
		deskapi.StatusTodo:       {Light: "#828c99", Dark: "#b3b1ad"},
		deskapi.StatusInProgress: {Light: "#f2ae49", Dark: "#ffb454"},
		deskapi.StatusInReview:   {Light: "#a37acc", Dark: "#d2a6ff"},
		deskapi.StatusDone:       {Light: "#86b300", Dark: "#c2d94c"},
	}
)

const descriptionWidth = 80

// statusBadge renders a fixed-width, colored status label.
func statusBadge(s deskapi.Status) string {
	s = s.Normalize()
	style := lipgloss.NewStyle().Width(12)
	if c, ok := statusColors[s]; ok {
		style = style.Foreground(c)
	}
	return style.Render(s.Label())
}

// renderMarkdown renders md for the terminal, falling back to the raw text.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(descriptionWidth),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printIssueLine(w io.Writer, is deskapi.Issue, indent string) {
	fmt.Fprintf(w, "%s%s %s %s\n", indent, statusBadge(is.Status), is.Title, mutedStyle.Render(is.ID))
}

func printOrganization(w io.Writer, org deskapi.Organization, active bool, userID string) {
	marker := " "
	if active {
		marker = "*"
	}
	role := "member"
	if org.OwnerID == userID {
		role = "owner"
	}
	fmt.Fprintf(w, "%s %-8s %s %s\n", marker, org.Key, org.Name,
		mutedStyle.Render(fmt.Sprintf("(%s, %s)", role, org.ID)))
}

func printDetail(w io.Writer, is deskapi.Issue, org deskapi.Organization, subs []deskapi.Issue) {
	fmt.Fprintln(w, headingStyle.Render(is.Title))
	fmt.Fprintf(w, "%s %s\n", statusBadge(is.Status), mutedStyle.Render(org.Key+" · "+is.ID))
	if is.AssigneeID != "" {
		fmt.Fprintf(w, "Assignee: %s\n", is.AssigneeID)
	}
	if is.ParentIssueID != "" {
		fmt.Fprintf(w, "Parent:   %s\n", is.ParentIssueID)
	}
	if strings.TrimSpace(is.Description) != "" {
		fmt.Fprintln(w, renderMarkdown(is.Description))
	}
	fmt.Fprintln(w, headingStyle.Render(fmt.Sprintf("Sub-issues (%d)", len(subs))))
	for _, s := range subs {
		printIssueLine(w, s, "  ")
	}
}
