// Package render turns reply segments into HTML for the web interface and into styled text for the
// terminal.
package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// HTML renders segments with a markdown renderer per theme. Code segments are syntax highlighted
// with a style matching the theme.
type HTML struct {
	markdown map[models.Theme]goldmark.Markdown
}

var codeStyles = map[models.Theme]string{
	models.ThemeLight: "github",
	models.ThemeDark:  "monokai",
}

// NewHTML creates an HTML renderer.
func NewHTML() HTML {
	md := make(map[models.Theme]goldmark.Markdown, len(codeStyles))
	for theme, style := range codeStyles {
		md[theme] = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle(style)),
			),
		)
	}
	return HTML{markdown: md}
}

// Segment renders one finalized segment.
func (h HTML) Segment(seg models.Segment, theme models.Theme) (template.HTML, error) {
	md, ok := h.markdown[theme]
	if !ok {
		md = h.markdown[models.ThemeLight]
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(SegmentMarkdown(seg)), &buf); err != nil {
		return "", fmt.Errorf("failed to render %s segment: %w", seg.Kind, err)
	}
	// The renderer escapes raw HTML in its input, so its output is safe to embed.
	return template.HTML(buf.String()), nil //nolint:gosec
}

// Reply renders the finalized segments of a reply followed by its tail, which is shown raw.
func (h HTML) Reply(view chat.TurnView, theme models.Theme) (template.HTML, error) {
	var sb strings.Builder
	for _, seg := range view.Segments {
		out, err := h.Segment(seg, theme)
		if err != nil {
			return "", err
		}
		sb.WriteString(string(out))
	}
	if view.Tail != "" {
		class := "tail"
		if view.InCode {
			class = "tail tail-code"
		}
		fmt.Fprintf(&sb, `<pre class="%s">%s</pre>`, class, html.EscapeString(view.Tail))
	}
	return template.HTML(sb.String()), nil //nolint:gosec
}

// SegmentMarkdown returns the markdown source of a segment: prose as is, code re-fenced with its
// language hint.
func SegmentMarkdown(seg models.Segment) string {
	if seg.Kind != models.SegmentCode {
		return seg.Text
	}
	body := seg.Text
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return "```" + seg.Language + "\n" + body + "```\n"
}
