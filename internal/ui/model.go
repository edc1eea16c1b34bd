package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/shuffle/internal/chat"
	"github.com/BioHazard786/shuffle/internal/negotiation"
	"github.com/BioHazard786/shuffle/internal/protocol"
)

const maxLines = 200

// Actions are what the chat screen can ask of the session behind it.
type Actions interface {
	Find()
	Skip()
	End()
	ToggleMute() bool
	SendChat(text string) (*protocol.ChatMessage, error)
	Keystroke()
}

// Messages fed to the model from outside the program.
type (
	StateMsg        negotiation.Snapshot
	NoticeMsg       negotiation.Notice
	ChatMsg         struct{ Message *protocol.ChatMessage }
	UsersMsg        []string
	ServerErrorMsg  string
	DisconnectedMsg struct{}
)

// TypingMsg reports the partner's typing indicator.
type TypingMsg struct {
	From   string
	Active bool
}

type lineKind int

const (
	lineSelf lineKind = iota
	linePartner
	lineNotice
	lineBlock
)

type line struct {
	kind lineKind
	who  string
	text string
	at   time.Time
}

// Model is the chat screen.
type Model struct {
	self    string
	actions Actions
	updates chan tea.Msg
	now     func() time.Time

	input   textinput.Model
	spinner spinner.Model

	snap          negotiation.Snapshot
	lines         []line
	partnerTyping bool
	idle          []string
	muted         bool
	sent          int
	received      int

	width    int
	height   int
	quitting bool
}

// NewModel creates the chat screen for the user with handle self.
func NewModel(self string, actions Actions) *Model {
	in := textinput.New()
	in.Placeholder = IconChat + " Type a message or /help"
	in.CharLimit = chat.MaxLength
	in.Prompt = "› "
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &Model{
		self:    self,
		actions: actions,
		updates: make(chan tea.Msg, 256),
		now:     time.Now,
		input:   in,
		spinner: s,
		width:   80,
	}
}

// Post queues msg for the model from any goroutine. It reports false when
// the queue is full.
func (m *Model) Post(msg tea.Msg) bool {
	select {
	case m.updates <- msg:
		return true
	default:
		return false
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForUpdates())
}

// waitForUpdates delivers the next message posted from outside the program.
func (m *Model) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, m.quit()
		case tea.KeyEnter:
			cmd := m.submit(m.input.Value())
			m.input.Reset()
			return m, cmd
		}
		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if after := m.input.Value(); after != before && !strings.HasPrefix(after, "/") && m.snap.State == negotiation.Connected {
			m.actions.Keystroke()
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(10, msg.Width-4)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case StateMsg:
		m.onState(negotiation.Snapshot(msg))
		cmds = append(cmds, m.waitForUpdates())

	case NoticeMsg:
		m.addLine(lineNotice, negotiation.Notice(msg).Text)
		cmds = append(cmds, m.waitForUpdates())

	case ChatMsg:
		if msg.Message != nil && (m.snap.Partner == "" || msg.Message.SenderID == m.snap.Partner) {
			m.received++
			m.partnerTyping = false
			m.lines = append(m.lines, line{kind: linePartner, who: msg.Message.SenderID, text: msg.Message.Text, at: chat.Time(msg.Message)})
			m.trim()
		}
		cmds = append(cmds, m.waitForUpdates())

	case TypingMsg:
		m.partnerTyping = msg.Active && m.snap.State == negotiation.Connected && msg.From == m.snap.Partner
		cmds = append(cmds, m.waitForUpdates())

	case UsersMsg:
		m.idle = []string(msg)
		cmds = append(cmds, m.waitForUpdates())

	case ServerErrorMsg:
		m.addLine(lineNotice, "Server: "+string(msg))
		cmds = append(cmds, m.waitForUpdates())

	case DisconnectedMsg:
		m.addLine(lineNotice, "Lost connection to the signaling server")
		m.quitting = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) onState(s negotiation.Snapshot) {
	prev := m.snap
	m.snap = s

	switch s.State {
	case negotiation.Requesting:
		if prev.State != negotiation.Requesting {
			m.addLine(lineNotice, IconShuffle+" Looking for someone...")
		}
	case negotiation.Matched:
		m.sent, m.received = 0, 0
		m.addLine(lineNotice, fmt.Sprintf("%s Matched with %s", IconPeer, s.Partner))
	case negotiation.Connected:
		if prev.State != negotiation.Connected {
			m.addLine(lineNotice, fmt.Sprintf("%s Connected with %s. Say hi!", IconCall, s.Partner))
		}
	case negotiation.Ended:
		m.partnerTyping = false
		if !s.ConnectedAt.IsZero() {
			m.addLine(lineBlock, CallSummaryView(m.summary(s)))
		}
	case negotiation.Failed:
		m.partnerTyping = false
	}
}

func (m *Model) summary(s negotiation.Snapshot) CallSummary {
	return CallSummary{
		Partner:  s.Partner,
		Duration: FormatDuration(m.now().Sub(s.ConnectedAt)),
		Attempts: s.Attempt,
		Sent:     m.sent,
		Received: m.received,
	}
}

func (m *Model) submit(value string) tea.Cmd {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "/") {
		return m.command(strings.ToLower(strings.Fields(value)[0]))
	}

	if m.snap.State != negotiation.Connected {
		m.addLine(lineNotice, "You are not in a call. Use /find to meet someone")
		return nil
	}
	msg, err := m.actions.SendChat(value)
	if err != nil {
		m.addLine(lineNotice, "Message not sent: "+err.Error())
		return nil
	}
	m.sent++
	m.lines = append(m.lines, line{kind: lineSelf, text: msg.Text, at: chat.Time(msg)})
	m.trim()
	return nil
}

func (m *Model) command(name string) tea.Cmd {
	switch name {
	case "/find", "/start":
		m.actions.Find()
	case "/skip", "/next":
		m.actions.Skip()
	case "/end", "/stop", "/hangup":
		m.actions.End()
	case "/mute":
		m.muted = m.actions.ToggleMute()
		if m.muted {
			m.addLine(lineNotice, IconMuted+" Microphone muted")
		} else {
			m.addLine(lineNotice, IconMic+" Microphone live")
		}
	case "/users":
		m.addLine(lineBlock, UsersView(m.self, m.idle))
	case "/quit", "/exit":
		return m.quit()
	case "/help":
		m.addLine(lineBlock, helpText)
	default:
		m.addLine(lineNotice, "Unknown command "+name+". Try /help")
	}
	return nil
}

func (m *Model) quit() tea.Cmd {
	m.actions.End()
	m.quitting = true
	return tea.Quit
}

func (m *Model) addLine(kind lineKind, text string) {
	m.lines = append(m.lines, line{kind: kind, text: text, at: m.now()})
	m.trim()
}

func (m *Model) trim() {
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

const helpText = `/find   look for a partner
/skip   leave this partner and find another
/end    hang up or cancel the search
/mute   toggle your microphone
/users  list people waiting
/quit   leave Shuffle`

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n\n")

	for _, l := range m.visibleLines() {
		b.WriteString(m.viewLine(l))
		b.WriteString("\n")
	}

	switch {
	case m.partnerTyping:
		b.WriteString(MutedStyle.Render(m.snap.Partner+" is typing..."))
		b.WriteString("\n")
	case m.snap.State == negotiation.Requesting:
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), MutedStyle.Render("Searching")))
	case m.snap.State == negotiation.Initiating, m.snap.State == negotiation.Retrying, m.snap.State == negotiation.Answering:
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), MutedStyle.Render(fmt.Sprintf("Connecting to %s (attempt %d)", m.snap.Partner, max(1, m.snap.Attempt)))))
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render("/find  /skip  /end  /mute  /users  /quit"))
	return b.String()
}

func (m *Model) visibleLines() []line {
	// header, blank, typing row, blank, input, footer margin and footer
	room := m.height - 8
	if m.height == 0 || room >= len(m.lines) {
		return m.lines
	}
	if room < 1 {
		room = 1
	}
	return m.lines[len(m.lines)-room:]
}

func (m *Model) viewHeader() string {
	status := StatusStyle.Render(strings.ToUpper(m.snap.State.String()))
	parts := []string{
		HeaderStyle.Render(IconShuffle + " Shuffle"),
		status,
		MutedStyle.Render("you: " + m.self),
	}
	if m.snap.Partner != "" {
		parts = append(parts, PartnerNameStyle.Render(IconPeer+" "+m.snap.Partner))
	}
	parts = append(parts, MutedStyle.Render(fmt.Sprintf("%d waiting", len(m.idle))))
	if m.muted {
		parts = append(parts, IconMuted)
	}
	return strings.Join(parts, " ")
}

func (m *Model) viewLine(l line) string {
	ts := TimestampStyle.Render(Clock(l.at))
	switch l.kind {
	case lineSelf:
		return fmt.Sprintf("%s %s %s", ts, SelfNameStyle.Render("you:"), l.text)
	case linePartner:
		return fmt.Sprintf("%s %s %s", ts, PartnerNameStyle.Render(l.who+":"), l.text)
	case lineBlock:
		return l.text
	default:
		return fmt.Sprintf("%s %s", ts, NoticeStyle.Render(l.text))
	}
}
