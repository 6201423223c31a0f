// Package tui implements the zplaces admin console as a Bubble Tea program.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zstyle"
	"github.com/zarlcorp/zplaces/internal/auth"
	"github.com/zarlcorp/zplaces/internal/purge"
	"github.com/zarlcorp/zplaces/internal/stats"
	"github.com/zarlcorp/zplaces/internal/userdata"
)

type viewID int

const (
	viewLogin viewID = iota
	viewMenu
	viewList
	viewFields
	viewStats
	viewPurge
)

var accent = zstyle.ZburnAccent

// Services are the stores the console reads and mutates.
type Services struct {
	Auth  *auth.Resolver
	Data  *userdata.Store
	Stats *stats.Tracker
}

// Model is the root TUI model.
type Model struct {
	ctx     context.Context
	version string
	svc     Services

	active viewID
	login  loginModel
	menu   menuModel
	list   listModel
	fields fieldsModel
	stats  statsModel
	purge  purgeModel

	// terminal dimensions
	width  int
	height int
}

// flashMsg clears the flash after a timeout.
type flashMsg struct{}

// navigateMsg tells the root model to switch views.
type navigateMsg struct {
	view viewID
}

// New creates the root model. An existing session skips the login view.
func New(ctx context.Context, version string, svc Services) Model {
	m := Model{
		ctx:     ctx,
		version: version,
		svc:     svc,
		active:  viewLogin,
		login:   newLoginModel(),
	}
	if svc.Auth.IsAuthenticated(ctx) {
		m.active = viewMenu
		m.menu = m.newMenu()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	if m.active == viewLogin {
		return m.login.Init()
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loginSubmitMsg:
		return m.handleLogin(msg)

	case visitorMsg:
		return m.handleVisitor()

	case logoutMsg:
		return m.handleLogout()

	case navigateMsg:
		return m.navigate(msg.view)

	case viewFieldsMsg:
		return m.loadFields(msg.identity)

	case viewStatsMsg:
		return m.loadStats(msg.identity)

	case purgeStartMsg:
		return m.startPurge(msg.identity)

	case purgeIdentityMsg:
		return m.executePurge(msg.identity)

	case purgeResultMsg:
		m.purge, _ = m.purge.Update(msg)
		return m, clearFlashAfter3s()
	}

	return m.updateActive(msg)
}

func (m Model) View() string {
	// login and menu render their own title
	switch m.active {
	case viewLogin:
		return m.login.View()
	case viewMenu:
		return m.menu.View()
	}

	var content string
	switch m.active {
	case viewList:
		content = m.list.View()
	case viewFields:
		content = m.fields.View()
	case viewStats:
		content = m.stats.View()
	case viewPurge:
		content = m.purge.View()
	}

	header := zstyle.RenderHeader("zplaces", viewTitle(m.active), accent)
	sep := zstyle.RenderSeparator(m.width)
	footer := zstyle.RenderFooter(helpFor(m.active))

	return "\n" + header + "\n" + sep + "\n" + content + "\n" + footer + "\n"
}

// viewTitle returns the display title for each view.
func viewTitle(id viewID) string {
	switch id {
	case viewList:
		return "Identities"
	case viewFields:
		return "Stored Fields"
	case viewStats:
		return "Usage"
	case viewPurge:
		return "Purge"
	}
	return ""
}

// helpFor returns keybinding pairs for each view's footer.
func helpFor(id viewID) []zstyle.HelpPair {
	switch id {
	case viewList:
		return []zstyle.HelpPair{
			{Key: "j/k", Desc: "navigate"},
			{Key: "enter", Desc: "fields"},
			{Key: "s", Desc: "stats"},
			{Key: "d", Desc: "purge"},
			{Key: "esc", Desc: "back"},
			{Key: "q", Desc: "quit"},
		}
	case viewFields:
		return []zstyle.HelpPair{
			{Key: "j/k", Desc: "navigate"},
			{Key: "enter", Desc: "copy value"},
			{Key: "s", Desc: "stats"},
			{Key: "d", Desc: "purge"},
			{Key: "esc", Desc: "back"},
			{Key: "q", Desc: "quit"},
		}
	case viewStats:
		return []zstyle.HelpPair{
			{Key: "r", Desc: "recheck"},
			{Key: "esc", Desc: "back"},
			{Key: "q", Desc: "quit"},
		}
	case viewPurge:
		return []zstyle.HelpPair{
			{Key: "y", Desc: "confirm"},
			{Key: "n", Desc: "cancel"},
			{Key: "q", Desc: "quit"},
		}
	}
	return nil
}

func (m Model) updateActive(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.active {
	case viewLogin:
		m.login, cmd = m.login.Update(msg)
	case viewMenu:
		m.menu, cmd = m.menu.Update(msg)
	case viewList:
		m.list, cmd = m.list.Update(msg)
	case viewFields:
		m.fields, cmd = m.fields.Update(msg)
	case viewStats:
		m.stats, cmd = m.stats.Update(msg)
	case viewPurge:
		m.purge, cmd = m.purge.Update(msg)
	}

	return m, cmd
}

func (m Model) handleLogin(msg loginSubmitMsg) (tea.Model, tea.Cmd) {
	if _, err := m.svc.Auth.Login(m.ctx, msg.email, msg.password); err != nil {
		m.login, _ = m.login.Update(loginErrMsg{err: err})
		return m, nil
	}
	return m.navigate(viewMenu)
}

func (m Model) handleVisitor() (tea.Model, tea.Cmd) {
	if _, err := m.svc.Auth.ContinueAsVisitor(m.ctx); err != nil {
		m.login, _ = m.login.Update(loginErrMsg{err: err})
		return m, nil
	}
	return m.navigate(viewMenu)
}

func (m Model) handleLogout() (tea.Model, tea.Cmd) {
	report := m.svc.Auth.Logout(m.ctx)

	m.login = newLoginModel()
	if report.HasErrors() {
		m.login.errMsg = report.Err().Error()
	}
	m.active = viewLogin
	return m, tea.Batch(m.login.Init(), tea.ClearScreen)
}

func (m Model) navigate(view viewID) (tea.Model, tea.Cmd) {
	// every view past login needs a session
	if view != viewLogin && !m.svc.Auth.IsAuthenticated(m.ctx) {
		m.login = newLoginModel()
		m.active = viewLogin
		return m, tea.Batch(m.login.Init(), tea.ClearScreen)
	}

	switch view {
	case viewLogin:
		m.login = newLoginModel()
		m.active = viewLogin
		return m, tea.Batch(m.login.Init(), tea.ClearScreen)

	case viewMenu:
		m.menu = m.newMenu()
		m.active = viewMenu
		return m, tea.ClearScreen

	case viewList:
		m, cmd := m.loadList()
		return m, tea.Batch(cmd, tea.ClearScreen)

	case viewFields:
		m.active = viewFields
		return m, tea.ClearScreen
	}

	return m, nil
}

func (m Model) newMenu() menuModel {
	mm := newMenuModel(m.version)
	if p, ok := m.svc.Auth.CurrentUser(m.ctx); ok {
		mm.profile = p
	}
	if ids, err := m.svc.Data.Identities(m.ctx); err == nil {
		mm.identityCount = len(ids)
	}
	return mm
}

func (m Model) loadList() (tea.Model, tea.Cmd) {
	cur, _ := m.svc.Auth.CurrentIdentity(m.ctx)

	ids, err := m.svc.Data.Identities(m.ctx)
	if err != nil {
		m.list = newListModel(nil, cur)
		m.list.flash = "load: " + err.Error()
		m.active = viewList
		return m, clearFlashAfter()
	}

	m.list = newListModel(ids, cur)
	m.active = viewList
	return m, nil
}

func (m Model) loadFields(identity string) (tea.Model, tea.Cmd) {
	rec, err := m.svc.Data.GetAll(m.ctx, identity)
	m.fields = newFieldsModel(identity, rec)
	m.active = viewFields
	if err != nil {
		m.fields.flash = "load: " + err.Error()
		return m, clearFlashAfter()
	}
	return m, nil
}

func (m Model) loadStats(identity string) (tea.Model, tea.Cmd) {
	back := viewMenu
	if m.active == viewList || m.active == viewFields {
		back = m.active
	}

	usage, err := m.svc.Stats.Get(m.ctx, identity)
	if err != nil {
		m.stats = newStatsModel(identity, back)
		m.stats.err = err
		m.active = viewStats
		return m, nil
	}

	status, err := m.svc.Stats.CheckVerificationStatus(m.ctx, identity)
	m.stats = newStatsModel(identity, back)
	m.stats.usage = usage
	m.stats.status = status
	m.stats.err = err
	m.active = viewStats
	return m, nil
}

func (m Model) startPurge(identity string) (tea.Model, tea.Cmd) {
	req := m.purgeRequest(identity)
	back := viewList
	if m.active == viewFields {
		back = viewFields
	}
	m.purge = newPurgeModel(identity, purge.Plan(m.ctx, req), back)
	m.active = viewPurge
	return m, nil
}

func (m Model) executePurge(identity string) (tea.Model, tea.Cmd) {
	req := m.purgeRequest(identity)
	ctx := m.ctx
	return m, func() tea.Msg {
		return purgeResultMsg{report: purge.Execute(ctx, req)}
	}
}

// purgeRequest destroys the namespace and flat record of identity. Remote
// reviews are kept. Purging the signed-in identity also ends the session.
func (m Model) purgeRequest(identity string) purge.Request {
	cur, _ := m.svc.Auth.CurrentIdentity(m.ctx)
	return purge.Request{
		Identity:  identity,
		Data:      m.svc.Data,
		Namespace: purge.ScopeAll,
		Legacy:    purge.LegacyRecord,
		Global:    identity == cur,
	}
}

func clearFlashAfter() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return flashMsg{}
	})
}

// clearFlashAfter3s returns to the list after 3 seconds.
func clearFlashAfter3s() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return navigateMsg{view: viewList}
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
