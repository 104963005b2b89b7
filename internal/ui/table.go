package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/candrapwr/meet-datasiber/internal/meeting"
	"github.com/candrapwr/meet-datasiber/internal/negotiation"
)

// RosterView renders the room's participants with their role, handshake
// state and whether they are sharing a screen.
func RosterView(st meeting.State) string {
	if len(st.Roster) == 0 {
		return MutedStyle.Render("No participants yet")
	}

	pairs := make(map[string]negotiation.Pair, len(st.Pairs))
	for _, p := range st.Pairs {
		pairs[p.Remote] = p
	}

	rows := make([][]string, 0, len(st.Roster))
	for i, m := range st.Roster {
		name := m.Name
		if name == "" {
			name = shortID(m.SessionID)
		}

		role := ""
		switch {
		case m.SessionID == st.HostID && m.SessionID == st.SelfID:
			role = IconHost + " you"
		case m.SessionID == st.HostID:
			role = IconHost + " host"
		case m.SessionID == st.SelfID:
			role = "you"
		}

		link := "-"
		if p, ok := pairs[m.SessionID]; ok {
			link = p.State.String()
			if p.MakingOffer {
				link = "offering…"
			}
		}

		screen := ""
		for _, id := range st.Sharers {
			if id == m.SessionID {
				screen = IconScreen
				if id == st.Presenter {
					screen += " on stage"
				}
			}
		}

		rows = append(rows, []string{fmt.Sprintf("%d", i+1), truncateString(name, 24), role, link, screen})
	}

	return newTable("#", "Name", "Role", "Link", "Screen").Rows(rows...).Render()
}

// PendingView lists entrants waiting for the host.
func PendingView(st meeting.State) string {
	if len(st.Pending) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(st.Pending))
	for i, m := range st.Pending {
		name := m.Name
		if name == "" {
			name = shortID(m.SessionID)
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), truncateString(name, 24)})
	}
	return newTable("#", IconWaiting+" Waiting").Rows(rows...).Render()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// RoomInfoView is shown once the room id is known, so it can be shared.
func RoomInfoView(roomID, joinCommand string) string {
	content := fmt.Sprintf("%s Room ready\n\n%s Room ID:  %s\n%s Join:     %s",
		IconRoom,
		IconCopy, BoldStyle.Foreground(Primary).Render(roomID),
		IconPeer, MutedStyle.Render(joinCommand),
	)
	return StageBoxStyle.Render(content)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
