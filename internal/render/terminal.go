package render

import (
	"fmt"
	"strings"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/charmbracelet/glamour"
)

// Terminal renders replies as styled terminal text.
type Terminal struct {
	renderer *glamour.TermRenderer
}

// NewTerminal creates a terminal renderer for theme, wrapping lines at width columns.
func NewTerminal(theme models.Theme, width int) (Terminal, error) {
	style := "light"
	if theme == models.ThemeDark {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return Terminal{}, fmt.Errorf("failed to create terminal renderer: %w", err)
	}
	return Terminal{renderer: r}, nil
}

// Reply renders a reply. An unterminated tail is printed as a plain block after the segments.
func (t Terminal) Reply(view chat.TurnView) (string, error) {
	parts := make([]string, 0, len(view.Segments))
	for _, seg := range view.Segments {
		parts = append(parts, SegmentMarkdown(seg))
	}

	out, err := t.renderer.Render(strings.Join(parts, "\n\n"))
	if err != nil {
		return "", fmt.Errorf("failed to render reply: %w", err)
	}
	if view.Tail != "" {
		out += view.Tail + "\n"
	}
	return out, nil
}
