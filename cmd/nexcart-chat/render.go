// ABOUTME: Terminal rendering of widget messages with lipgloss styles
// ABOUTME: Formatted HTML is reduced to plain text with bluemonday's strict policy

package main

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/microcosm-cc/bluemonday"

	"github.com/nexcart/nexcart-gateway/internal/widget"
)

var (
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	aiStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	supportStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	systemStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("243"))
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	stateStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	bodyStyle    = lipgloss.NewStyle().PaddingLeft(2)
)

var (
	strict     = bluemonday.StrictPolicy()
	blockBreak = regexp.MustCompile(`(?i)<br\s*/?>|</(p|li|div)>`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// plainText turns formatted message HTML into terminal text.
func plainText(markup string) string {
	s := blockBreak.ReplaceAllString(markup, "\n")
	s = html.UnescapeString(strict.Sanitize(s))
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func styleFor(r widget.Role) lipgloss.Style {
	switch r {
	case widget.RoleUser:
		return userStyle
	case widget.RoleSupport:
		return supportStyle
	case widget.RoleSystem:
		return systemStyle
	default:
		return aiStyle
	}
}

func renderMessage(m widget.Message) string {
	text := plainText(m.HTML)
	if text == "" {
		text = m.Body
	}
	if m.Role == widget.RoleSystem {
		return systemStyle.Render("· " + text)
	}

	name := m.Name
	if name == "" {
		name = string(m.Role)
	}
	header := styleFor(m.Role).Render(name) + " " + timeStyle.Render(m.Timestamp.Format("15:04"))
	return header + "\n" + bodyStyle.Render(text)
}

func renderState(s widget.ConnState) string {
	return stateStyle.Render(fmt.Sprintf("[support: %s]", s))
}

// printer serializes output from session hooks, which fire on several goroutines.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}
