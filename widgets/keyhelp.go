package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pianoroll/theme"
)

// KeyBinding is a single key and what it does.
type KeyBinding struct {
	Key  string
	Desc string
}

// KeySection groups related bindings under a title.
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// RenderKeyHelp renders sections as an aligned list, keys in the accent
// color.
func RenderKeyHelp(th *theme.Theme, sections []KeySection) string {
	titleStyle := lipgloss.NewStyle().Foreground(th.Muted())
	keyStyle := lipgloss.NewStyle().Foreground(th.Accent())
	descStyle := lipgloss.NewStyle().Foreground(th.FG())

	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, titleStyle.Render(sec.Title))
		}
		for _, k := range sec.Keys {
			key := keyStyle.Render(fmt.Sprintf("%-10s", k.Key))
			lines = append(lines, "  "+key+" "+descStyle.Render(k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}
