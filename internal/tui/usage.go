package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zstyle"
	"github.com/zarlcorp/zplaces/internal/stats"
)

// statsModel shows an identity's counters and verified badge.
type statsModel struct {
	identity string
	usage    stats.UsageStats
	status   stats.Status
	err      error
	back     viewID
}

func newStatsModel(identity string, back viewID) statsModel {
	return statsModel{identity: identity, back: back}
}

func (m statsModel) Init() tea.Cmd {
	return nil
}

func (m statsModel) Update(msg tea.Msg) (statsModel, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if key.Matches(km, zstyle.KeyQuit) {
		return m, tea.Quit
	}

	if key.Matches(km, zstyle.KeyBack) {
		back := m.back
		id := m.identity
		if back == viewFields {
			return m, func() tea.Msg { return viewFieldsMsg{identity: id} }
		}
		return m, func() tea.Msg { return navigateMsg{view: back} }
	}

	if km.String() == "r" {
		id := m.identity
		return m, func() tea.Msg { return viewStatsMsg{identity: id} }
	}

	return m, nil
}

func (m statsModel) View() string {
	s := "\n  " + zstyle.Subtitle.Render(m.identity) + "\n\n"

	if m.err != nil {
		s += "  " + zstyle.StatusErr.Render(m.err.Error()) + "\n"
		return s
	}

	u := m.usage
	s += fmt.Sprintf("  %-14s %d\n", "places added", u.PlacesAdded)
	s += fmt.Sprintf("  %-14s %d\n", "reviews added", u.ReviewsAdded)
	if !u.JoinDate.IsZero() {
		s += fmt.Sprintf("  %-14s %s\n", "joined", u.JoinDate.Format("2006-01-02"))
	}
	if !u.LastActivity.IsZero() {
		s += fmt.Sprintf("  %-14s %s\n", "last active", u.LastActivity.Format("2006-01-02 15:04"))
	}
	s += "\n"

	st := m.status
	switch {
	case st.Criteria.IsVisitor:
		s += "  " + zstyle.MutedText.Render("visitors cannot earn the verified badge") + "\n"
	case st.IsVerified:
		badge := "verified"
		if st.VerifiedAt != nil {
			badge += " since " + st.VerifiedAt.Format("2006-01-02")
		}
		s += "  " + zstyle.StatusOK.Render(badge) + "\n"
	default:
		s += "  " + zstyle.StatusWarn.Render(fmt.Sprintf("not verified: %d/%d reviews",
			st.Criteria.ReviewsAdded, st.Criteria.ReviewsRequired)) + "\n"
	}

	return s
}
