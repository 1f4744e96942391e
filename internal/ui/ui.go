// Package ui provides terminal rendering helpers for the drift CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/stagecraft/drift/internal/version"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// RenderPass renders text in the success color.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders text in the warning color.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders text in the failure color.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders text in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderDim renders de-emphasized text.
func RenderDim(s string) string { return dimStyle.Render(s) }

// RenderHeader renders a bold table header.
func RenderHeader(s string) string { return headerStyle.Render(s) }

// ClassGlyph returns a colored glyph for a sync class.
func ClassGlyph(c version.SyncClass) string {
	switch c {
	case version.UpToDate:
		return RenderPass("=")
	case version.LocalAhead:
		return RenderAccent("↑")
	case version.RemoteAhead:
		return RenderAccent("↓")
	case version.Diverged:
		return RenderWarn("✕")
	default:
		return RenderDim("?")
	}
}
