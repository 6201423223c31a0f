package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zstyle"
	"github.com/zarlcorp/zplaces/internal/auth"
)

type menuChoice int

const (
	menuIdentities menuChoice = iota
	menuMyData
	menuUsage
	menuSignOut
	menuQuit
)

var menuItems = []string{
	"Browse identities",
	"My data",
	"Usage and badge",
	"Sign out",
	"Quit",
}

// menuModel is the main menu view.
type menuModel struct {
	cursor        int
	version       string
	profile       auth.Profile
	identityCount int
}

// logoutMsg asks the root to end the session.
type logoutMsg struct{}

func newMenuModel(version string) menuModel {
	return menuModel{version: version}
}

func (m menuModel) Init() tea.Cmd {
	return nil
}

func (m menuModel) Update(msg tea.Msg) (menuModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, zstyle.KeyQuit) {
			return m, tea.Quit
		}

		if key.Matches(msg, zstyle.KeyUp) {
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		}

		if key.Matches(msg, zstyle.KeyDown) {
			if m.cursor < len(menuItems)-1 {
				m.cursor++
			}
			return m, nil
		}

		if key.Matches(msg, zstyle.KeyEnter) {
			return m, m.selectItem()
		}
	}

	return m, nil
}

func (m menuModel) selectItem() tea.Cmd {
	id := m.profile.Email
	switch menuChoice(m.cursor) {
	case menuIdentities:
		return func() tea.Msg { return navigateMsg{view: viewList} }
	case menuMyData:
		return func() tea.Msg { return viewFieldsMsg{identity: id} }
	case menuUsage:
		return func() tea.Msg { return viewStatsMsg{identity: id} }
	case menuSignOut:
		return func() tea.Msg { return logoutMsg{} }
	case menuQuit:
		return tea.Quit
	}
	return nil
}

func (m menuModel) View() string {
	title := zstyle.Title.Render("zplaces")
	ver := zstyle.MutedText.Render(m.version)

	s := fmt.Sprintf("\n  %s %s\n", title, ver)

	who := m.profile.Name + " <" + m.profile.Email + ">"
	if m.profile.IsVisitor {
		who = "visitor"
	}
	s += "  " + zstyle.Subtitle.Render("signed in as "+who) + "\n"
	s += "  " + zstyle.MutedText.Render(fmt.Sprintf("%d identities on this device", m.identityCount)) + "\n\n"

	for i, item := range menuItems {
		if m.cursor == i {
			s += zstyle.Highlight.Render(fmt.Sprintf("  > %s", item)) + "\n"
		} else {
			s += fmt.Sprintf("    %s\n", item)
		}
	}

	s += "\n  " + zstyle.MutedText.Render("j/k navigate  enter select  q quit") + "\n\n"
	return s
}
