package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/candrapwr/meet-datasiber/internal/meeting"
	"github.com/candrapwr/meet-datasiber/internal/negotiation"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
)

type fakeMeeting struct {
	state    meeting.State
	events   chan meeting.Event
	chats    []string
	approved int
	sharing  []bool
	left     bool
}

func newFakeMeeting() *fakeMeeting {
	return &fakeMeeting{
		events: make(chan meeting.Event, 4),
		state: meeting.State{
			SelfID: "self",
			RoomID: "happy-otter-ramen-comet",
			Name:   "Mallory",
			Status: meeting.InRoom,
			HostID: "self",
			Roster: []protocol.Member{
				{SessionID: "self", Name: "Mallory"},
				{SessionID: "bob-session", Name: "Bob"},
			},
			Pending: []protocol.Member{{SessionID: "carol", Name: "Carol"}},
			Pairs:   []negotiation.Pair{{Remote: "bob-session", State: negotiation.Stable}},
		},
	}
}

func (f *fakeMeeting) State() meeting.State          { return f.state }
func (f *fakeMeeting) Events() <-chan meeting.Event { return f.events }
func (f *fakeMeeting) SendChat(text string) error {
	f.chats = append(f.chats, text)
	f.state.Chat = append(f.state.Chat, meeting.ChatLine{SessionID: "self", Name: "Mallory", Text: text, At: time.Now()})
	return nil
}
func (f *fakeMeeting) ApproveNext() error {
	if len(f.state.Pending) == 0 {
		return meeting.ErrNoPending
	}
	f.approved++
	f.state.Pending = nil
	return nil
}
func (f *fakeMeeting) SetSharing(on bool) error {
	f.sharing = append(f.sharing, on)
	f.state.Sharing = on
	return nil
}
func (f *fakeMeeting) Leave() { f.left = true }

func typeLine(t *testing.T, c *ConferenceModel, line string) tea.Cmd {
	t.Helper()
	c.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})
	_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestConferenceSendsChat(t *testing.T) {
	f := newFakeMeeting()
	c := NewConferenceModel(f, nil)

	typeLine(t, c, "hello there")
	if len(f.chats) != 1 || f.chats[0] != "hello there" {
		t.Fatalf("chats=%v", f.chats)
	}
	if c.input.Value() != "" {
		t.Fatalf("input=%q, want cleared", c.input.Value())
	}
	if !strings.Contains(c.chat.View(), "hello there") {
		t.Fatalf("chat view missing message:\n%s", c.chat.View())
	}
}

func TestConferenceCommands(t *testing.T) {
	f := newFakeMeeting()
	c := NewConferenceModel(f, nil)

	typeLine(t, c, "/approve")
	if f.approved != 1 {
		t.Fatalf("approved=%d, want 1", f.approved)
	}
	typeLine(t, c, "/approve")
	if c.notice == "" {
		t.Fatal("approving with nobody waiting showed no notice")
	}

	c.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	c.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if len(f.sharing) != 2 || !f.sharing[0] || f.sharing[1] {
		t.Fatalf("sharing calls=%v, want [true false]", f.sharing)
	}

	if cmd := typeLine(t, c, "/leave"); cmd == nil {
		t.Fatal("leave did not quit")
	}
	if !f.left {
		t.Fatal("leave did not leave the meeting")
	}
}

func TestConferenceEscLeaves(t *testing.T) {
	f := newFakeMeeting()
	c := NewConferenceModel(f, nil)
	if _, cmd := c.Update(tea.KeyMsg{Type: tea.KeyEsc}); cmd == nil {
		t.Fatal("esc did not quit")
	}
	if !f.left {
		t.Fatal("esc did not leave the meeting")
	}
}

func TestConferenceSessionEnded(t *testing.T) {
	f := newFakeMeeting()
	c := NewConferenceModel(f, nil)
	want := errors.New("boom")
	if _, cmd := c.Update(sessionEndedMsg{err: want}); cmd == nil {
		t.Fatal("session end did not quit")
	}
	if !errors.Is(c.Err(), want) {
		t.Fatalf("Err=%v, want %v", c.Err(), want)
	}
}

func TestConferenceView(t *testing.T) {
	f := newFakeMeeting()
	f.state.Sharers = []string{"bob-session"}
	f.state.Presenter = "bob-session"
	f.state.Layout = meeting.Stage
	c := NewConferenceModel(f, nil)
	c.Update(meetingEventMsg{Type: protocol.TypeScreenShare})

	view := c.View()
	for _, want := range []string{"happy-otter-ramen-comet", "Bob is presenting", "Carol", "ctrl+a approve"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	f.state.Status = meeting.Waiting
	c.Update(meetingEventMsg{Type: protocol.TypeWaiting})
	if !strings.Contains(c.View(), "Waiting for the host") {
		t.Fatalf("waiting view:\n%s", c.View())
	}
}

func TestRosterView(t *testing.T) {
	f := newFakeMeeting()
	view := RosterView(f.state)
	for _, want := range []string{"Mallory", "Bob", "you", "stable"} {
		if !strings.Contains(view, want) {
			t.Fatalf("roster missing %q:\n%s", want, view)
		}
	}
	if got := RosterView(meeting.State{}); !strings.Contains(got, "No participants") {
		t.Fatalf("empty roster=%q", got)
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("abcdefghij", 6); got != "abc..." {
		t.Fatalf("truncateString=%q", got)
	}
	if got := truncateString("abc", 6); got != "abc" {
		t.Fatalf("truncateString=%q", got)
	}
}
