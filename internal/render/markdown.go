package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var thinkStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	Italic(true)

// Renderer turns markdown into styled terminal text.
type Renderer interface {
	Render(string) (string, error)
}

// NewMarkdown returns a glamour renderer wrapped at width columns.
func NewMarkdown(width int) (Renderer, error) {
	if width <= 0 {
		width = 100
	}
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
}

// Reply renders an assistant reply. Reasoning is shown dimmed above the
// answer only when showThink is set. A nil renderer or a render failure
// falls back to the plain text.
func Reply(r Renderer, content string, showThink bool) string {
	think, reply, found := SplitThink(content)

	var b strings.Builder
	if found && showThink && think != "" {
		b.WriteString(thinkStyle.Render(think))
		b.WriteString("\n\n")
	}
	b.WriteString(markdown(r, reply))
	return strings.TrimRight(b.String(), "\n")
}

func markdown(r Renderer, s string) string {
	if r == nil || strings.TrimSpace(s) == "" {
		return s
	}
	out, err := r.Render(s)
	if err != nil {
		return s
	}
	return out
}
