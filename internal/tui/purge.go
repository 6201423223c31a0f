package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zstyle"
	"github.com/zarlcorp/zplaces/internal/purge"
)

type purgePhase int

const (
	purgeConfirm purgePhase = iota
	purgeRunning
	purgeDone
)

// purgeIdentityMsg requests the purge cascade for an identity.
type purgeIdentityMsg struct {
	identity string
}

// purgeResultMsg carries the report of a completed purge.
type purgeResultMsg struct {
	report purge.Report
}

// purgeModel manages the purge confirmation dialog and result display.
type purgeModel struct {
	identity string
	plan     []string
	phase    purgePhase
	report   purge.Report
	back     viewID
}

func newPurgeModel(identity string, plan []string, back viewID) purgeModel {
	return purgeModel{
		identity: identity,
		plan:     plan,
		phase:    purgeConfirm,
		back:     back,
	}
}

func (m purgeModel) Init() tea.Cmd {
	return nil
}

func (m purgeModel) Update(msg tea.Msg) (purgeModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case purgeResultMsg:
		m.report = msg.report
		m.phase = purgeDone
		return m, nil
	}

	return m, nil
}

func (m purgeModel) handleKey(msg tea.KeyMsg) (purgeModel, tea.Cmd) {
	switch m.phase {
	case purgeConfirm:
		return m.handleConfirmKey(msg)
	case purgeDone:
		// any key returns to list
		return m, func() tea.Msg { return navigateMsg{view: viewList} }
	}
	return m, nil
}

func (m purgeModel) handleConfirmKey(msg tea.KeyMsg) (purgeModel, tea.Cmd) {
	// quit always works
	if key.Matches(msg, zstyle.KeyQuit) {
		return m, tea.Quit
	}

	id := m.identity
	if msg.String() == "y" {
		m.phase = purgeRunning
		return m, func() tea.Msg { return purgeIdentityMsg{identity: id} }
	}

	// any other key cancels
	if m.back == viewFields {
		return m, func() tea.Msg { return viewFieldsMsg{identity: id} }
	}
	return m, func() tea.Msg { return navigateMsg{view: viewList} }
}

func (m purgeModel) View() string {
	switch m.phase {
	case purgeConfirm:
		return m.viewConfirm()
	case purgeRunning:
		return "\n  " + zstyle.MutedText.Render("purging "+m.identity+"...") + "\n"
	case purgeDone:
		return m.viewDone()
	}
	return ""
}

func (m purgeModel) viewConfirm() string {
	s := "\n  " + zstyle.Subtitle.Render("purge "+m.identity+"?") + "\n\n"

	s += "  " + zstyle.MutedText.Render("this will:") + "\n"
	for _, step := range m.plan {
		s += fmt.Sprintf("  %s %s\n", zstyle.StatusWarn.Render("-"), step)
	}

	s += "\n"
	s += "  " + zstyle.StatusWarn.Render("this cannot be undone.") + " (y/n)\n"

	return s
}

func (m purgeModel) viewDone() string {
	var b strings.Builder

	lines := strings.Split(m.report.Summary(), "\n")

	// first line is the header
	if m.report.HasErrors() {
		b.WriteString("\n  " + zstyle.StatusWarn.Render(lines[0]) + "\n\n")
	} else {
		b.WriteString("\n  " + zstyle.StatusOK.Render(lines[0]) + "\n\n")
	}

	for i, line := range lines[1:] {
		if i < len(m.report.Steps) && m.report.Steps[i].Err != nil {
			b.WriteString("  " + zstyle.StatusWarn.Render(line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString("  " + zstyle.MutedText.Render("press any key to continue") + "\n")
	return b.String()
}
