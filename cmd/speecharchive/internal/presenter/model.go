// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package presenter

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// historySize is how many recent notices stay on screen.
const historySize = 6

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	historyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statsStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).MarginTop(1)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("238")).MarginTop(1)
)

// tickMsg drives the drain cadence.
type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(DrainInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the bubbletea view of the archive.
//
// # Description
//
// Each tick drains at most one notice, making it the current line and
// pushing the previous one into a short history. The archive fill level
// is shown as a progress bar under the notices.
//
// # Thread Safety
//
// Model is used only from the bubbletea event loop.
type Model struct {
	src      Source
	progress ProgressFunc

	bar      progress.Model
	current  string
	history  []string
	stats    Progress
	quitting bool
}

// NewModel creates the terminal view. progress may be nil.
func NewModel(src Source, progressFn ProgressFunc) Model {
	return Model{
		src:      src,
		progress: progressFn,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Init starts the ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles ticks, resizes and quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		width := msg.Width - 4
		if width > 60 {
			width = 60
		}
		if width > 10 {
			m.bar.Width = width
		}
		return m, nil

	case tickMsg:
		m = m.drainOne()
		if m.progress != nil {
			m.stats = m.progress()
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) drainOne() Model {
	msg, ok := m.src.Drain()
	if !ok {
		return m
	}
	if m.current != "" {
		m.history = append(m.history, m.current)
		if len(m.history) > historySize {
			m.history = m.history[len(m.history)-historySize:]
		}
	}
	m.current = msg.String()
	return m
}

// Current returns the most recent notice.
func (m Model) Current() string {
	return m.current
}

// History returns older notices, oldest first.
func (m Model) History() []string {
	return append([]string(nil), m.history...)
}

// Quitting reports whether a quit key was pressed.
func (m Model) Quitting() bool {
	return m.quitting
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Speech Archive"))
	b.WriteString("\n\n")

	for _, line := range m.history {
		b.WriteString(historyStyle.Render(flatten(line)))
		b.WriteString("\n")
	}
	if m.current != "" {
		b.WriteString(currentStyle.Render(flatten(m.current)))
		b.WriteString("\n")
	}

	if m.stats.Max > 0 || m.stats.Summary != "" {
		b.WriteString(statsStyle.Render(flatten(m.stats.Summary)))
		b.WriteString("\n")
		b.WriteString(m.bar.ViewAs(m.stats.Ratio()))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("esc/q: quit"))
	b.WriteString("\n")
	return b.String()
}

// flatten joins multi-line notices for single-line display.
func flatten(s string) string {
	return strings.ReplaceAll(s, "\n", " | ")
}
