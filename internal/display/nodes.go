package display

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/omzlo/nocan-node-manager/internal/nodes"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	idStyle     = lipgloss.NewStyle().Width(6).Align(lipgloss.Right).PaddingRight(2)
	udidStyle   = lipgloss.NewStyle().Width(25)
	seenStyle   = lipgloss.NewStyle().Width(22)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// RenderNodes writes the node table to w, one row per node.
func RenderNodes(w io.Writer, list []nodes.Node) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("no nodes registered"))
		return err
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		idStyle.Render("NODE"), udidStyle.Render("UDID"), seenStyle.Render("LAST SEEN"), "ATTRIBUTES")
	if _, err := fmt.Fprintln(w, headerStyle.Render(header)); err != nil {
		return err
	}
	for _, n := range list {
		seen := dimStyle.Render("never")
		if !n.LastSeen.IsZero() {
			seen = n.LastSeen.UTC().Format("2006-01-02 15:04:05")
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			idStyle.Render(fmt.Sprint(n.ID)),
			udidStyle.Render(n.UDID.String()),
			seenStyle.Render(seen),
			formatAttributes(n.Attributes),
		)
		if _, err := fmt.Fprintln(w, row); err != nil {
			return err
		}
	}
	return nil
}

func formatAttributes(attrs nodes.Attributes) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, attrs[k]))
	}
	return strings.Join(parts, " ")
}
