package protocol

import "encoding/json"

// Message is the envelope for every websocket frame exchanged between the
// signaling server and its clients. Which fields are set depends on Type.
type Message struct {
	Type string `json:"type" msgpack:"type"`

	// UserID carries a handle in welcome and random-user-found.
	UserID string `json:"userId,omitempty" msgpack:"userId,omitempty"`

	// TargetID is set by clients on every addressed request.
	TargetID string `json:"targetId,omitempty" msgpack:"targetId,omitempty"`

	// From is set by the server on every relayed message.
	From string `json:"from,omitempty" msgpack:"from,omitempty"`

	CurrentPartnerID string `json:"currentPartnerId,omitempty" msgpack:"currentPartnerId,omitempty"`

	// Handshake payloads are opaque to the relay.
	Offer     json.RawMessage `json:"offer,omitempty" msgpack:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty" msgpack:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty" msgpack:"candidate,omitempty"`

	// Attempt numbers the offer cycle a handshake payload belongs to. Zero
	// means unnumbered.
	Attempt int `json:"attempt,omitempty" msgpack:"attempt,omitempty"`

	Chat  *ChatMessage `json:"message,omitempty" msgpack:"message,omitempty"`
	Users []User       `json:"users,omitempty" msgpack:"users,omitempty"`
	Error string       `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Message type constants.
const (
	// Client to server
	TypeFindRandomUser = "find-random-user"
	TypeCallUser       = "call-user"
	TypeNextPartner    = "next-partner"
	TypeSendMessage    = "send-message"

	// Server to client
	TypeWelcome         = "welcome"
	TypeRandomUserFound = "random-user-found"
	TypeNoUserAvailable = "no-user-available"
	TypeCallReceived    = "call-received"
	TypePartnerLeft     = "partner-left"
	TypeUserBusy        = "user-busy"
	TypeActiveUsers     = "active-users"
	TypeChatMessage     = "chat-message"
	TypeError           = "error"

	// Both directions
	TypeCallAccepted = "call-accepted"
	TypeICECandidate = "ice-candidate"
	TypeCallEnded    = "call-ended"
	TypeTypingStart  = "typing-start"
	TypeTypingStop   = "typing-stop"
)

// User is one entry of the active-users broadcast.
type User struct {
	ID string `json:"id" msgpack:"id"`
}

// ChatMessage is relayed between partners untouched.
type ChatMessage struct {
	ID        string `json:"id" msgpack:"id"`
	SenderID  string `json:"senderId" msgpack:"senderId"`
	Text      string `json:"text" msgpack:"text"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp"`
}
