package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/zarlcorp/core/pkg/zstyle"
	"github.com/zarlcorp/zplaces/internal/userdata"
)

// listModel displays every identity with stored data.
type listModel struct {
	identities []string
	current    string
	cursor     int
	flash      string
}

// viewFieldsMsg requests the stored fields of an identity.
type viewFieldsMsg struct {
	identity string
}

// viewStatsMsg requests the usage stats of an identity.
type viewStatsMsg struct {
	identity string
}

// purgeStartMsg tells the root model to confirm a purge of an identity.
type purgeStartMsg struct {
	identity string
}

func newListModel(ids []string, current string) listModel {
	return listModel{identities: ids, current: current}
}

func (m listModel) Init() tea.Cmd {
	return nil
}

func (m listModel) Update(msg tea.Msg) (listModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case flashMsg:
		m.flash = ""
		return m, nil
	}

	return m, nil
}

func (m listModel) handleKey(msg tea.KeyMsg) (listModel, tea.Cmd) {
	if key.Matches(msg, zstyle.KeyQuit) {
		return m, tea.Quit
	}

	if key.Matches(msg, zstyle.KeyBack) {
		return m, func() tea.Msg { return navigateMsg{view: viewMenu} }
	}

	if len(m.identities) == 0 {
		return m, nil
	}

	if key.Matches(msg, zstyle.KeyUp) {
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	}

	if key.Matches(msg, zstyle.KeyDown) {
		if m.cursor < len(m.identities)-1 {
			m.cursor++
		}
		return m, nil
	}

	id := m.identities[m.cursor]

	if key.Matches(msg, zstyle.KeyEnter) {
		return m, func() tea.Msg { return viewFieldsMsg{identity: id} }
	}

	switch msg.String() {
	case "s":
		return m, func() tea.Msg { return viewStatsMsg{identity: id} }
	case "d":
		return m, func() tea.Msg { return purgeStartMsg{identity: id} }
	}

	return m, nil
}

func (m listModel) View() string {
	accentStyle := lipgloss.NewStyle().Foreground(accent).Bold(true)

	s := "\n"

	if len(m.identities) == 0 {
		s += "  " + zstyle.MutedText.Render("no stored identities") + "\n"
		s += "\n"
		// reserved flash line (empty for empty state)
		s += "\n"
		return s
	}

	for i, id := range m.identities {
		line := truncate(id, 40)
		switch {
		case id == m.current:
			line += "  " + zstyle.StatusOK.Render("signed in")
		case id == userdata.Visitor:
			line += "  " + zstyle.MutedText.Render("visitor")
		}

		if i == m.cursor {
			s += "  " + accentStyle.Render("▸") + " " + line + "\n"
		} else {
			s += "    " + line + "\n"
		}
	}

	s += "\n"

	// always reserve a line for flash to prevent layout shift
	if m.flash != "" {
		s += "  " + zstyle.StatusErr.Render(m.flash) + "\n"
	} else {
		s += "\n"
	}

	return s
}
