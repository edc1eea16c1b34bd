package ui

import (
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/shuffle/internal/negotiation"
	"github.com/BioHazard786/shuffle/internal/signalclient"
)

// CallUI runs the chat screen and feeds it from the negotiation machine and
// the signaling handler.
type CallUI struct {
	program *tea.Program
	model   *Model
	logger  *slog.Logger
}

var _ negotiation.Observer = (*CallUI)(nil)

// NewCallUI creates the program for model. It does not take over the
// terminal until Run.
func NewCallUI(model *Model, logger *slog.Logger, opts ...tea.ProgramOption) *CallUI {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
		logger:  logger,
	}
}

// Run blocks until the user quits or the connection drops.
func (ui *CallUI) Run() error {
	_, err := ui.program.Run()
	return err
}

// Quit stops the program from any goroutine.
func (ui *CallUI) Quit() {
	ui.program.Quit()
}

func (ui *CallUI) StateChanged(s negotiation.Snapshot) {
	ui.post(StateMsg(s))
}

func (ui *CallUI) Notice(n negotiation.Notice) {
	ui.post(NoticeMsg(n))
}

// Forward relays the handler's chat surface channels until the handler
// stops, then tells the screen the connection is gone.
func (ui *CallUI) Forward(h *signalclient.Handler) {
	for {
		select {
		case msg := <-h.Chat:
			ui.post(ChatMsg{Message: msg})
		case ev := <-h.Typing:
			ui.post(TypingMsg{From: ev.From, Active: ev.Active})
		case users := <-h.Users:
			ui.post(UsersMsg(users))
		case text := <-h.Error:
			ui.post(ServerErrorMsg(text))
		case <-h.Done():
			ui.post(DisconnectedMsg{})
			return
		}
	}
}

func (ui *CallUI) post(msg tea.Msg) {
	if !ui.model.Post(msg) {
		ui.logger.Warn("chat screen backlog full, dropping update")
	}
}
