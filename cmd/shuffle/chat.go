package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/shuffle/internal/chat"
	"github.com/BioHazard786/shuffle/internal/config"
	"github.com/BioHazard786/shuffle/internal/media"
	"github.com/BioHazard786/shuffle/internal/negotiation"
	"github.com/BioHazard786/shuffle/internal/protocol"
	"github.com/BioHazard786/shuffle/internal/ui"
)

const hangupWait = time.Second

var errNotInCall = errors.New("not in a call")

var chatCmd = &cobra.Command{
	Use:     "chat",
	Aliases: []string{"c", "start"},
	Short:   "Meet a random stranger",
	Long: `Connect to the signaling server and open the chat screen.

Type /find to be matched, /skip for someone new and /end to hang up.

Examples:
  shuffle chat
  shuffle chat --server shuffle.example.com --secure
  shuffle chat --turn turn.example.com --turn-user me --turn-pass secret --relay`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runChat(ctx, cfg)
	},
}

func runChat(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	mediaOpts := media.OptionsFromConfig(cfg)
	mediaOpts.Logger = logger
	engine, err := media.NewEngine(mediaOpts)
	if err != nil {
		return negotiation.WrapError("start media", negotiation.ErrMediaAccess, err.Error())
	}
	defer engine.Close()

	conn, err := Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	s := newChatSession(conn, engine, logger)
	model := ui.NewModel(conn.Self, s)
	screen := ui.NewCallUI(model, logger)

	s.machine = negotiation.New(conn.Self, conn.Client, engine,
		negotiation.WithLogger(logger),
		negotiation.WithObserver(screen),
		negotiation.WithRetry(cfg.RetryTimeout, cfg.MaxAttempts),
	)
	conn.Handler.Attach(s.machine)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	machineDone := make(chan error, 1)
	go func() { machineDone <- s.machine.Run(runCtx) }()
	go screen.Forward(conn.Handler)
	go func() {
		<-runCtx.Done()
		screen.Quit()
	}()

	uiErr := screen.Run()

	// Hang up politely before the connection goes away.
	s.machine.End()
	waitIdle(s.machine, hangupWait)
	cancel()
	<-machineDone

	if uiErr != nil && !errors.Is(uiErr, context.Canceled) {
		return uiErr
	}
	ui.PrintSuccess("See you next time")
	return nil
}

// waitIdle gives the machine a moment to send call-ended.
func waitIdle(m *negotiation.Machine, wait time.Duration) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if m.Snapshot().State == negotiation.Idle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// chatSession glues the chat screen to the machine, the signaling
// connection and the local media.
type chatSession struct {
	conn    *Connection
	engine  *media.Engine
	machine *negotiation.Machine
	typist  *chat.Typist
	logger  *slog.Logger
}

var _ ui.Actions = (*chatSession)(nil)

func newChatSession(conn *Connection, engine *media.Engine, logger *slog.Logger) *chatSession {
	s := &chatSession{
		conn:   conn,
		engine: engine,
		logger: logger,
	}
	s.typist = chat.NewTypist(s.sendTyping)
	return s
}

func (s *chatSession) partner() (string, bool) {
	snap := s.machine.Snapshot()
	return snap.Partner, snap.State == negotiation.Connected && snap.Partner != ""
}

func (s *chatSession) sendTyping(active bool) {
	partner, ok := s.partner()
	if !ok {
		return
	}
	if err := s.conn.Client.Typing(partner, active); err != nil {
		s.logger.Debug("send typing indicator", "err", err)
	}
}

func (s *chatSession) Find() {
	s.machine.Start()
}

func (s *chatSession) Skip() {
	s.typist.Stop()
	s.machine.Skip()
}

func (s *chatSession) End() {
	s.typist.Stop()
	s.machine.End()
}

func (s *chatSession) ToggleMute() bool {
	muted := !s.engine.Muted()
	s.engine.SetMuted(muted)
	return muted
}

func (s *chatSession) Keystroke() {
	s.typist.Keystroke()
}

func (s *chatSession) SendChat(text string) (*protocol.ChatMessage, error) {
	partner, ok := s.partner()
	if !ok {
		return nil, errNotInCall
	}
	msg, ok := chat.NewMessage(s.conn.Self, text, time.Now())
	if !ok {
		return nil, errors.New("empty message")
	}
	s.typist.Stop()
	if err := s.conn.Client.SendChat(partner, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
