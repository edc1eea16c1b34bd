package signaling

import (
	"github.com/BioHazard786/shuffle/internal/metrics"
	"github.com/BioHazard786/shuffle/internal/presence"
	"github.com/BioHazard786/shuffle/internal/protocol"
)

// dispatch routes one inbound message. It runs on the hub goroutine only.
func (h *Hub) dispatch(c *Client, msg *protocol.Message) {
	if cur, ok := h.clients[c.ID]; !ok || cur != c {
		// Already removed; late frames from its read pump are dropped.
		return
	}

	h.logger.Debug("received message", "user", c.ID, "type", msg.Type)

	switch msg.Type {
	case protocol.TypeFindRandomUser:
		h.handleFindRandomUser(c)

	case protocol.TypeNextPartner:
		h.handleNextPartner(c, msg.CurrentPartnerID)

	case protocol.TypeCallUser:
		h.handleCallUser(c, msg)

	case protocol.TypeCallEnded:
		h.handleCallEnded(c, msg.TargetID)

	case protocol.TypeCallAccepted:
		h.relay(c, msg.TargetID, &protocol.Message{
			Type:    protocol.TypeCallAccepted,
			From:    c.ID,
			Answer:  msg.Answer,
			Attempt: msg.Attempt,
		})

	case protocol.TypeICECandidate:
		h.relay(c, msg.TargetID, &protocol.Message{
			Type:      protocol.TypeICECandidate,
			From:      c.ID,
			Candidate: msg.Candidate,
			Attempt:   msg.Attempt,
		})

	case protocol.TypeSendMessage:
		h.relay(c, msg.TargetID, &protocol.Message{
			Type: protocol.TypeChatMessage,
			From: c.ID,
			Chat: msg.Chat,
		})

	case protocol.TypeTypingStart, protocol.TypeTypingStop:
		h.relay(c, msg.TargetID, &protocol.Message{
			Type: msg.Type,
			From: c.ID,
		})

	default:
		h.metrics.Inc(metrics.EventUnknownMessage)
		h.logger.Warn("unknown message type", "user", c.ID, "type", msg.Type)
		h.send(c, &protocol.Message{
			Type:  protocol.TypeError,
			Error: "unknown message type: " + msg.Type,
		})
	}
}

// relay forwards msg to target. The content is never inspected.
func (h *Hub) relay(c *Client, target string, msg *protocol.Message) {
	if h.sendTo(target, msg) {
		h.metrics.Relayed(msg.Type)
	}
}

func (h *Hub) handleFindRandomUser(c *Client) {
	if sess, ok := h.registry.SessionOf(c.ID); ok {
		if sess.State == presence.SessionReserved && sess.Requester != c.ID {
			// Both sides asked at once and the other request won.
			h.send(c, &protocol.Message{Type: protocol.TypeRandomUserFound, UserID: sess.Other(c.ID)})
			return
		}
		h.releaseWithNotice(c.ID, sess)
	}
	h.match(c)
}

func (h *Hub) handleNextPartner(c *Client, current string) {
	if current == "" {
		current, _ = h.registry.PartnerOf(c.ID)
	}
	if sess, ok := h.registry.SessionOf(c.ID); ok {
		if sess.Has(current) {
			h.metrics.Inc(metrics.EventPartnerSkipped)
			h.logger.Info("partner skipped", "user", c.ID, "partner", current)
		}
		h.releaseWithNotice(c.ID, sess)
	}
	h.match(c, current)
}

// releaseWithNotice ends sess on behalf of handle and tells the other side.
func (h *Hub) releaseWithNotice(handle string, sess *presence.Session) {
	h.registry.ReleaseSession(sess.ID)
	h.sendTo(sess.Other(handle), &protocol.Message{Type: protocol.TypePartnerLeft})
	h.presenceChanged = true
}

// match finds and reserves a partner for c within the current event, so no
// other request can be paired with the same idle user.
func (h *Hub) match(c *Client, exclude ...string) {
	partner, ok := h.matcher.FindPartner(c.ID, exclude...)
	if !ok {
		h.metrics.Inc(metrics.EventNoUserAvailable)
		h.logger.Debug("no partner available", "user", c.ID)
		h.send(c, &protocol.Message{Type: protocol.TypeNoUserAvailable})
		return
	}

	sess, err := h.registry.Pair(c.ID, partner, presence.SessionReserved)
	if err != nil {
		h.logger.Error("reserve partner", "user", c.ID, "partner", partner, "err", err)
		h.send(c, &protocol.Message{Type: protocol.TypeNoUserAvailable})
		return
	}
	h.scheduleExpiry(sess.ID)
	h.metrics.Inc(metrics.EventMatchFound)
	h.logger.Info("match found", "user", c.ID, "partner", partner, "session", sess.ID)

	h.send(c, &protocol.Message{Type: protocol.TypeRandomUserFound, UserID: partner})
	h.sendTo(partner, &protocol.Message{Type: protocol.TypeRandomUserFound, UserID: c.ID})
	h.presenceChanged = true
}

func (h *Hub) handleCallUser(c *Client, msg *protocol.Message) {
	target := msg.TargetID
	if target == c.ID || !h.registry.Has(target) {
		h.metrics.Inc(metrics.EventTargetUnreachable)
		return
	}

	switch {
	case h.registry.Paired(c.ID, target):
		sess, _ := h.registry.Activate(c.ID, target)
		h.logger.Debug("session active", "session", sess.ID)

	default:
		if _, err := h.registry.Pair(c.ID, target, presence.SessionActive); err != nil {
			h.metrics.Inc(metrics.EventTargetBusy)
			h.logger.Debug("call target busy", "user", c.ID, "target", target, "err", err)
			h.send(c, &protocol.Message{Type: protocol.TypeUserBusy, From: target})
			return
		}
		h.presenceChanged = true
	}

	h.metrics.Inc(metrics.EventCallStarted)
	h.relay(c, target, &protocol.Message{
		Type:    protocol.TypeCallReceived,
		From:    c.ID,
		Offer:   msg.Offer,
		Attempt: msg.Attempt,
	})
}

func (h *Hub) handleCallEnded(c *Client, target string) {
	if !h.registry.Paired(c.ID, target) {
		return
	}
	sess, _ := h.registry.Release(c.ID)
	h.metrics.Inc(metrics.EventCallEnded)
	h.logger.Info("call ended", "user", c.ID, "partner", target, "session", sess.ID)

	h.relay(c, target, &protocol.Message{Type: protocol.TypeCallEnded, From: c.ID})
	h.presenceChanged = true
}
