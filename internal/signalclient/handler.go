package signalclient

import (
	"log/slog"
	"sync"

	"github.com/BioHazard786/shuffle/internal/negotiation"
	"github.com/BioHazard786/shuffle/internal/protocol"
)

// Source yields decoded server messages until the connection ends.
type Source interface {
	Incoming() <-chan *protocol.Message
}

// Poster accepts negotiation events. *negotiation.Machine implements it.
type Poster interface {
	Post(ev negotiation.Event) bool
}

// TypingEvent reports that From started or stopped typing.
type TypingEvent struct {
	From   string
	Active bool
}

// Handler routes incoming signaling messages to the negotiation machine and
// to channels for the chat surface.
//
// The UI channels never block the router: when one is full the message is
// dropped, except Users which always holds the latest list.
type Handler struct {
	source Source
	logger *slog.Logger

	Welcome chan string
	Users   chan []string
	Chat    chan *protocol.ChatMessage
	Typing  chan TypingEvent
	Error   chan string

	mu      sync.Mutex
	machine Poster
	pending []negotiation.Event

	done chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(source Source, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		source:  source,
		logger:  logger,
		Welcome: make(chan string, 1),
		Users:   make(chan []string, 1),
		Chat:    make(chan *protocol.ChatMessage, 32),
		Typing:  make(chan TypingEvent, 8),
		Error:   make(chan string, 8),
		done:    make(chan struct{}),
	}
}

// Attach starts delivering events to p. Events that arrived before the
// machine existed are delivered first, in order.
func (h *Handler) Attach(p Poster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.machine = p
	for _, ev := range h.pending {
		p.Post(ev)
	}
	h.pending = nil
}

// Done is closed when the source has been drained.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Start begins listening to incoming messages and routing them. It returns
// when the source closes.
func (h *Handler) Start() {
	defer close(h.done)

	for msg := range h.source.Incoming() {
		switch msg.Type {

		case protocol.TypeWelcome:
			select {
			case h.Welcome <- msg.UserID:
			default:
			}

		case protocol.TypeActiveUsers:
			h.handleActiveUsers(msg)

		case protocol.TypeRandomUserFound:
			h.post(negotiation.Event{Kind: negotiation.EventPartnerFound, From: msg.UserID})

		case protocol.TypeNoUserAvailable:
			h.post(negotiation.Event{Kind: negotiation.EventNoPartner})

		case protocol.TypeCallReceived:
			h.post(negotiation.Event{Kind: negotiation.EventOfferReceived, From: msg.From, Payload: msg.Offer, Attempt: msg.Attempt})

		case protocol.TypeCallAccepted:
			h.post(negotiation.Event{Kind: negotiation.EventAnswerReceived, From: msg.From, Payload: msg.Answer, Attempt: msg.Attempt})

		case protocol.TypeICECandidate:
			h.post(negotiation.Event{Kind: negotiation.EventCandidateReceived, From: msg.From, Payload: msg.Candidate, Attempt: msg.Attempt})

		case protocol.TypeCallEnded:
			h.post(negotiation.Event{Kind: negotiation.EventRemoteEnded, From: msg.From})

		case protocol.TypePartnerLeft:
			h.post(negotiation.Event{Kind: negotiation.EventPartnerLeft, From: msg.From})

		case protocol.TypeUserBusy:
			h.post(negotiation.Event{Kind: negotiation.EventPartnerBusy, From: msg.From})

		case protocol.TypeChatMessage:
			h.handleChat(msg)

		case protocol.TypeTypingStart, protocol.TypeTypingStop:
			deliver(h, h.Typing, TypingEvent{From: msg.From, Active: msg.Type == protocol.TypeTypingStart}, msg.Type)

		case protocol.TypeError:
			deliver(h, h.Error, msg.Error, msg.Type)

		default:
			h.logger.Debug("ignoring unknown server message", "type", msg.Type)
		}
	}
}

func (h *Handler) post(ev negotiation.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.machine == nil {
		h.pending = append(h.pending, ev)
		return
	}
	if !h.machine.Post(ev) {
		h.logger.Warn("negotiation event dropped", "event", ev.Kind.String())
	}
}

// handleActiveUsers replaces any unread list with the newest one.
func (h *Handler) handleActiveUsers(msg *protocol.Message) {
	ids := make([]string, 0, len(msg.Users))
	for _, u := range msg.Users {
		ids = append(ids, u.ID)
	}
	for {
		select {
		case h.Users <- ids:
			return
		default:
		}
		select {
		case <-h.Users:
		default:
		}
	}
}

func (h *Handler) handleChat(msg *protocol.Message) {
	if msg.Chat == nil {
		h.logger.Debug("chat message without body", "from", msg.From)
		return
	}
	chat := *msg.Chat
	if chat.SenderID == "" {
		chat.SenderID = msg.From
	}
	deliver(h, h.Chat, &chat, msg.Type)
}

// deliver hands v to ch unless ch is full.
func deliver[T any](h *Handler, ch chan T, v T, msgType string) {
	select {
	case ch <- v:
	default:
		h.logger.Warn("UI channel full, dropping message", "type", msgType)
	}
}
