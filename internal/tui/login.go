package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/zarlcorp/core/pkg/zstyle"
)

const (
	loginEmail = iota
	loginPassword
)

var keyVisitor = key.NewBinding(key.WithKeys("ctrl+g"), key.WithHelp("ctrl+g", "visitor"))

// loginModel is the sign-in form.
type loginModel struct {
	inputs  []textinput.Model
	focused int
	errMsg  string
}

// loginSubmitMsg is sent when the user submits credentials.
type loginSubmitMsg struct {
	email    string
	password string
}

// loginErrMsg is sent when sign-in fails.
type loginErrMsg struct {
	err error
}

// visitorMsg asks the root to continue as the visitor.
type visitorMsg struct{}

func newLoginModel() loginModel {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.CharLimit = 254
	email.Width = 40
	email.Focus()

	pw := textinput.New()
	pw.EchoMode = textinput.EchoPassword
	pw.EchoCharacter = '*'
	pw.CharLimit = 128
	pw.Width = 40

	return loginModel{inputs: []textinput.Model{email, pw}}
}

func (m loginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}

		if key.Matches(msg, keyVisitor) {
			return m, func() tea.Msg { return visitorMsg{} }
		}

		if key.Matches(msg, zstyle.KeyTab) {
			return m.focus((m.focused + 1) % len(m.inputs)), nil
		}

		if key.Matches(msg, zstyle.KeyEnter) {
			return m.handleSubmit()
		}

	case loginErrMsg:
		m.errMsg = msg.err.Error()
		m.inputs[loginPassword].SetValue("")
		return m.focus(loginPassword), nil
	}

	var cmd tea.Cmd
	m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
	return m, cmd
}

func (m loginModel) focus(i int) loginModel {
	for j := range m.inputs {
		if j == i {
			m.inputs[j].Focus()
		} else {
			m.inputs[j].Blur()
		}
	}
	m.focused = i
	return m
}

func (m loginModel) handleSubmit() (loginModel, tea.Cmd) {
	email := strings.TrimSpace(m.inputs[loginEmail].Value())
	if email == "" {
		return m.focus(loginEmail), nil
	}

	// enter on the email field moves on to the password
	if m.focused == loginEmail {
		return m.focus(loginPassword), nil
	}

	pw := m.inputs[loginPassword].Value()
	if pw == "" {
		return m, nil
	}

	m.errMsg = ""
	return m, func() tea.Msg {
		return loginSubmitMsg{email: email, password: pw}
	}
}

func (m loginModel) View() string {
	indent := lipgloss.NewStyle().MarginLeft(2)
	logo := indent.Render(
		zstyle.StyledLogo(lipgloss.NewStyle().Foreground(accent)),
	)
	toolName := indent.Render(zstyle.MutedText.Render("zplaces"))

	s := fmt.Sprintf("\n%s\n%s\n\n  %s\n  %s\n\n  %s\n  %s\n",
		logo, toolName,
		"email:", m.inputs[loginEmail].View(),
		"password:", m.inputs[loginPassword].View(),
	)

	if m.errMsg != "" {
		s += "\n  " + zstyle.StatusErr.Render(m.errMsg)
	}

	s += "\n\n  " + zstyle.MutedText.Render("tab switch  enter sign in  ctrl+g continue as visitor") + "\n"
	return s
}
