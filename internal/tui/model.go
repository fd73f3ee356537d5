// Package tui renders the terminal client. It drives the realtime core
// through its public API only: open a room, send, watch unread badges.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/chat"
)

type view int

const (
	viewRooms view = iota
	viewChat
)

// Bridged events from the realtime core into the bubbletea loop.
type (
	roomMessageMsg struct {
		room string
		msg  v1.Message
	}
	roomStateMsg struct {
		room  string
		state chat.State
		err   error
	}
	globalEventMsg struct{ event v1.GlobalEvent }
)

// Model is the bubbletea model for the chat client.
type Model struct {
	sess   *chat.Session
	userID string
	rooms  []v1.RoomSummary

	view    view
	cursor  int
	channel *chat.Channel
	active  string
	lines   []string
	status  string

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int

	events chan tea.Msg
	unsub  func()
}

// New constructs the model. The session must already be started.
func New(sess *chat.Session, userID string, rooms []v1.RoomSummary) *Model {
	ti := textinput.New()
	ti.Placeholder = "write a message"
	ti.CharLimit = 4000

	m := &Model{
		sess:     sess,
		userID:   userID,
		rooms:    rooms,
		input:    ti,
		viewport: viewport.New(0, 0),
		events:   make(chan tea.Msg, 64),
	}

	// Cross-room events repaint the badges even while a room is open.
	// The replay catches up on anything published before this model
	// subscribed, such as the durable fallback drained at session start.
	bridge := func(e v1.GlobalEvent) {
		m.push(globalEventMsg{event: e})
	}
	m.unsub = sess.Events().Subscribe(v1.EventNewMessage, bridge)
	sess.Events().Replay(v1.EventNewMessage, bridge)

	return m
}

// push hands an event to the bubbletea loop without ever blocking the
// read goroutines that produce it.
func (m *Model) push(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

func (m *Model) waitEvent() tea.Cmd {
	return func() tea.Msg { return <-m.events }
}

// Init is part of the tea.Model interface.
func (m *Model) Init() tea.Cmd {
	return m.waitEvent()
}

// Update handles user input and bridged core events.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = ev.Width
		m.height = ev.Height
		m.viewport.Width = ev.Width
		m.viewport.Height = maxInt(ev.Height-6, 3)
		m.input.Width = maxInt(ev.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(ev)

	case roomMessageMsg:
		if ev.room == m.active {
			m.lines = append(m.lines, m.renderMessage(ev.msg))
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
		}
		return m, m.waitEvent()

	case roomStateMsg:
		if ev.room == m.active {
			if ev.err != nil {
				m.status = errorStyle.Render(fmt.Sprintf("connection lost: %v", ev.err))
			} else {
				m.status = mutedStyle.Render(ev.state.String())
			}
		}
		return m, m.waitEvent()

	case globalEventMsg:
		// Badge counters live in the session store; receiving the event
		// is enough to trigger a repaint.
		return m, m.waitEvent()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.close()
		return m, tea.Quit
	}

	if m.view == viewRooms {
		return m.handleRoomsKey(msg)
	}
	return m.handleChatKey(msg)
}

func (m *Model) handleRoomsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.close()
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rooms)-1 {
			m.cursor++
		}
	case "r":
		m.sess.Rearm()
	case "enter":
		if len(m.rooms) > 0 {
			m.openRoom(m.rooms[m.cursor])
		}
	}
	return m, nil
}

func (m *Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.leaveRoom()
		return m, nil
	case "enter":
		m.send()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) openRoom(room v1.RoomSummary) {
	roomID := room.ID
	cb := chat.Callbacks{
		OnMessage: func(msg v1.Message) {
			m.push(roomMessageMsg{room: roomID, msg: msg})
		},
		OnState: func(state chat.State, err error) {
			m.push(roomStateMsg{room: roomID, state: state, err: err})
		},
	}

	ch, err := m.sess.OpenRoom(roomID, cb)
	if err != nil {
		m.status = errorStyle.Render(err.Error())
		return
	}

	m.channel = ch
	m.active = roomID
	m.view = viewChat
	m.lines = nil
	m.status = mutedStyle.Render("connecting")
	m.viewport.SetContent("")
	m.input.Focus()

	if err := m.sess.SetActiveRoom(context.Background(), roomID); err != nil {
		m.status = errorStyle.Render(err.Error())
	}
}

func (m *Model) leaveRoom() {
	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}
	m.sess.ClearActiveRoom()
	m.active = ""
	m.view = viewRooms
	m.input.Blur()
	m.input.Reset()
	m.status = ""
}

func (m *Model) send() {
	content := strings.TrimSpace(m.input.Value())
	if content == "" || m.channel == nil {
		return
	}

	// The frame comes back on the room broadcast, so nothing is
	// appended locally here.
	if !m.channel.SendMessage(context.Background(), content) {
		m.status = errorStyle.Render("send failed: room socket not open")
		return
	}
	m.input.Reset()
}

func (m *Model) close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}
	m.sess.Close()
}

// View is part of the tea.Model interface.
func (m *Model) View() string {
	if m.view == viewChat {
		return m.chatView()
	}
	return m.roomsView()
}

func (m *Model) roomsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("skillly"))
	b.WriteString("  ")
	b.WriteString(mutedStyle.Render("global: " + m.sess.GlobalState().String()))
	b.WriteString("\n\n")

	if len(m.rooms) == 0 {
		b.WriteString(mutedStyle.Render("no conversations yet"))
		b.WriteString("\n")
	}

	for i, room := range m.rooms {
		line := room.Name
		if line == "" {
			line = room.ID
		}
		if count := m.sess.Unread().Count(room.ID); count > 0 {
			line += " " + badgeStyle.Render(fmt.Sprintf("%d", count))
		}
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter open · j/k move · r reconnect · q quit"))
	return b.String()
}

func (m *Model) chatView() string {
	name := m.active
	for _, room := range m.rooms {
		if room.ID == m.active && room.Name != "" {
			name = room.Name
		}
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(name))
	if m.status != "" {
		b.WriteString("  ")
		b.WriteString(m.status)
	}
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send · esc back · ctrl+c quit"))
	return b.String()
}

func (m *Model) renderMessage(msg v1.Message) string {
	stamp := msg.SentAt
	if ts, err := time.Parse(time.RFC3339Nano, msg.SentAt); err == nil {
		stamp = ts.Local().Format("15:04")
	}

	who := otherMessageStyle.Render(msg.Sender)
	if msg.Sender == m.userID {
		who = ownMessageStyle.Render("you")
	}
	return fmt.Sprintf("%s %s %s", mutedStyle.Render(stamp), who, msg.Content)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
