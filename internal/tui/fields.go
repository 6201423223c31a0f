package tui

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/zarlcorp/core/pkg/zstyle"
	"github.com/zarlcorp/zplaces/internal/userdata"
)

const masked = "********"

type fieldRow struct {
	name  string
	value string
}

// fieldsModel lists the stored fields of one identity.
type fieldsModel struct {
	identity string
	rows     []fieldRow
	cursor   int
	flash    string
}

func newFieldsModel(identity string, rec userdata.Record) fieldsModel {
	rows := make([]fieldRow, 0, len(rec))
	for f, v := range rec {
		rows = append(rows, fieldRow{name: f, value: v.String()})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	return fieldsModel{identity: identity, rows: rows}
}

func (m fieldsModel) Init() tea.Cmd {
	return nil
}

func (m fieldsModel) Update(msg tea.Msg) (fieldsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case flashMsg:
		m.flash = ""
		return m, nil
	}

	return m, nil
}

func (m fieldsModel) handleKey(msg tea.KeyMsg) (fieldsModel, tea.Cmd) {
	if key.Matches(msg, zstyle.KeyQuit) {
		return m, tea.Quit
	}

	if key.Matches(msg, zstyle.KeyBack) {
		return m, func() tea.Msg { return navigateMsg{view: viewList} }
	}

	id := m.identity
	switch msg.String() {
	case "s":
		return m, func() tea.Msg { return viewStatsMsg{identity: id} }
	case "d":
		return m, func() tea.Msg { return purgeStartMsg{identity: id} }
	}

	if len(m.rows) == 0 {
		return m, nil
	}

	if key.Matches(msg, zstyle.KeyUp) {
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	}

	if key.Matches(msg, zstyle.KeyDown) {
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
		return m, nil
	}

	if key.Matches(msg, zstyle.KeyEnter) {
		return m.copyField()
	}

	return m, nil
}

func (m fieldsModel) copyField() (fieldsModel, tea.Cmd) {
	r := m.rows[m.cursor]
	if r.name == userdata.FieldPassword {
		m.flash = "credentials are not copied"
		return m, clearFlashAfter()
	}

	if err := copyToClipboard(r.value); err != nil {
		m.flash = err.Error()
	} else {
		m.flash = "copied " + r.name
	}
	return m, clearFlashAfter()
}

func (m fieldsModel) View() string {
	accentStyle := lipgloss.NewStyle().Foreground(accent).Bold(true)

	s := "\n  " + zstyle.Subtitle.Render(m.identity) + "\n\n"

	if len(m.rows) == 0 {
		s += "  " + zstyle.MutedText.Render("no stored fields") + "\n\n\n"
		return s
	}

	for i, r := range m.rows {
		v := r.value
		if r.name == userdata.FieldPassword {
			v = masked
		}
		line := fmt.Sprintf("%-22s %s", r.name, truncate(v, 50))

		if i == m.cursor {
			s += "  " + accentStyle.Render("▸") + " " + line + "\n"
		} else {
			s += "    " + line + "\n"
		}
	}

	s += "\n"
	if m.flash != "" {
		s += "  " + zstyle.StatusOK.Render(m.flash) + "\n"
	} else {
		s += "\n"
	}
	return s
}
