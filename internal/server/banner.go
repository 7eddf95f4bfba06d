package server

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/dx-www/dxserve/internal/config"
)

// PrintBanner writes the four startup lines: title, URL to open, readiness
// and how to stop. Styling is dropped when w is not a terminal.
func PrintBanner(w io.Writer, cfg *config.Config, port int) {
	r := lipgloss.NewRenderer(w)
	title := r.NewStyle().Bold(true)
	link := r.NewStyle().Foreground(lipgloss.ANSIColor(6))
	ready := r.NewStyle().Foreground(lipgloss.ANSIColor(2))
	hint := r.NewStyle().Faint(true)

	_, _ = fmt.Fprintln(w, title.Render("✨ "+cfg.Banner.Title))
	_, _ = fmt.Fprintln(w, link.Render("🌐 "+cfg.URLFor(port)))
	_, _ = fmt.Fprintln(w, ready.Render("⚡ "+cfg.Banner.Ready))
	_, _ = fmt.Fprintln(w, "\n"+hint.Render("Press Ctrl+C to stop"))
}
