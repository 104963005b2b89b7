package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/candrapwr/meet-datasiber/internal/meeting"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
)

// Meeting is what the conference view drives.
type Meeting interface {
	State() meeting.State
	Events() <-chan meeting.Event
	SendChat(text string) error
	ApproveNext() error
	SetSharing(on bool) error
	Leave()
}

type meetingEventMsg meeting.Event

type sessionEndedMsg struct{ err error }

// ConferenceModel is the bubbletea model of the conference view.
type ConferenceModel struct {
	m     Meeting
	ended <-chan error

	state   meeting.State
	input   textinput.Model
	chat    viewport.Model
	spinner spinner.Model
	width   int
	notice  string
	err     error
	done    bool
}

// NewConferenceModel creates the view. ended delivers the session's exit error.
func NewConferenceModel(m Meeting, ended <-chan error) *ConferenceModel {
	in := textinput.New()
	in.Placeholder = "message, or /approve /share /unshare /leave"
	in.CharLimit = 1000
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &ConferenceModel{
		m:       m,
		ended:   ended,
		state:   m.State(),
		input:   in,
		chat:    viewport.New(60, 10),
		spinner: s,
		width:   80,
	}
}

// Err returns why the session ended, if it failed.
func (c *ConferenceModel) Err() error { return c.err }

func (c *ConferenceModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, c.spinner.Tick, c.waitForEvent(), c.waitForEnd())
}

func (c *ConferenceModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return meetingEventMsg(<-c.m.Events())
	}
}

func (c *ConferenceModel) waitForEnd() tea.Cmd {
	if c.ended == nil {
		return nil
	}
	return func() tea.Msg {
		return sessionEndedMsg{err: <-c.ended}
	}
}

func (c *ConferenceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			c.m.Leave()
			c.done = true
			return c, tea.Quit
		case tea.KeyCtrlA:
			c.approve()
			return c, nil
		case tea.KeyCtrlS:
			c.toggleShare()
			return c, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			c.chat, cmd = c.chat.Update(msg)
			return c, cmd
		case tea.KeyEnter:
			if quit := c.submit(strings.TrimSpace(c.input.Value())); quit {
				c.done = true
				return c, tea.Quit
			}
			c.input.Reset()
			c.refresh()
			return c, nil
		}

	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.chat.Width = max(20, msg.Width-4)
		c.chat.Height = max(5, msg.Height/3)
		c.input.Width = max(20, msg.Width-6)
		c.refresh()

	case meetingEventMsg:
		c.refresh()
		if msg.Type == protocol.TypeLeaveRoom {
			c.done = true
			return c, tea.Quit
		}
		return c, c.waitForEvent()

	case sessionEndedMsg:
		c.err = msg.err
		c.done = true
		return c, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		c.spinner, cmd = c.spinner.Update(msg)
		return c, cmd
	}

	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	cmds = append(cmds, cmd)
	if _, ok := msg.(tea.MouseMsg); ok {
		c.chat, cmd = c.chat.Update(msg)
		cmds = append(cmds, cmd)
	}
	return c, tea.Batch(cmds...)
}

// submit runs a command line or sends chat. It reports whether to quit.
func (c *ConferenceModel) submit(line string) bool {
	c.notice = ""
	switch line {
	case "":
		return false
	case "/approve":
		c.approve()
	case "/share":
		c.setSharing(true)
	case "/unshare":
		c.setSharing(false)
	case "/leave", "/quit":
		c.m.Leave()
		return true
	default:
		if err := c.m.SendChat(line); err != nil {
			c.notice = err.Error()
		}
	}
	return false
}

func (c *ConferenceModel) approve() {
	if err := c.m.ApproveNext(); err != nil {
		c.notice = err.Error()
	}
}

func (c *ConferenceModel) toggleShare() {
	c.setSharing(!c.state.Sharing)
}

func (c *ConferenceModel) setSharing(on bool) {
	if err := c.m.SetSharing(on); err != nil {
		c.notice = err.Error()
		return
	}
	c.refresh()
}

func (c *ConferenceModel) refresh() {
	c.state = c.m.State()
	c.chat.SetContent(chatLog(c.state.Chat, c.state.SelfID))
	c.chat.GotoBottom()
}

func chatLog(lines []meeting.ChatLine, selfID string) string {
	if len(lines) == 0 {
		return MutedStyle.Render(IconChat + " No messages yet")
	}
	var b strings.Builder
	for _, l := range lines {
		name := l.Name
		if l.SessionID == selfID {
			name += " (you)"
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			MutedStyle.Render(l.At.Format("15:04")),
			NameStyle.Render(name+":"),
			l.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *ConferenceModel) View() string {
	if c.done {
		return ""
	}

	st := c.state
	var b strings.Builder

	header := HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, st.RoomID)) + " " +
		StatusStyle.Render(st.Status.String())
	b.WriteString(header + "\n\n")

	switch st.Status {
	case meeting.Connecting, meeting.Joining:
		fmt.Fprintf(&b, "%s Connecting…\n", c.spinner.View())
	case meeting.Waiting:
		fmt.Fprintf(&b, "%s Waiting for the host to let you in…\n", c.spinner.View())
	default:
		if st.Layout == meeting.Stage {
			b.WriteString(StageBoxStyle.Render(fmt.Sprintf("%s %s is presenting",
				IconScreen, c.nameOf(st.Presenter))) + "\n")
		}
		roster := RosterView(st)
		if pending := PendingView(st); pending != "" && st.IsHost() {
			roster = lipgloss.JoinHorizontal(lipgloss.Top, roster, "  ", pending)
		}
		b.WriteString(roster + "\n\n")
		b.WriteString(BoxStyle.Width(max(20, c.width-2)).Render(c.chat.View()) + "\n")
	}

	b.WriteString(c.input.View() + "\n")
	if c.notice != "" {
		b.WriteString(ErrorStyle.Render(c.notice) + "\n")
	}
	help := "enter send • ctrl+s share • esc leave"
	if st.IsHost() {
		help = "enter send • ctrl+a approve • ctrl+s share • esc leave"
	}
	b.WriteString(FooterStyle.Render(help))
	return b.String()
}

func (c *ConferenceModel) nameOf(sessionID string) string {
	if sessionID == c.state.SelfID {
		return "You"
	}
	for _, m := range c.state.Roster {
		if m.SessionID == sessionID && m.Name != "" {
			return m.Name
		}
	}
	return shortID(sessionID)
}

// RunConference shows the conference view until the user leaves or the
// session ends, and returns the session's error.
func RunConference(ctx context.Context, m Meeting, ended <-chan error) error {
	model := NewConferenceModel(m, ended)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ui: %w", err)
	}
	return model.Err()
}
