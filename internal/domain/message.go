package domain

import "encoding/json"

// Inbound message types.
const (
	TypeAuthToken    = "auth_token"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypePing         = "ping"
)

// Outbound message types.
const (
	TypeAuthRequired = "auth_required"
	TypeAuthSuccess  = "auth_success"
	TypeUsersInRoom  = "users_in_room"
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypePong         = "pong"
	TypeError        = "error"
)

// Envelope is the union of every client->server field. Unknown fields are
// ignored; negotiation payloads stay raw.
type Envelope struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	ClientID  ClientID        `json:"client_id,omitempty"`
	LegacyID  ClientID        `json:"clientId,omitempty"`
	To        ClientID        `json:"to,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// RequestedClientID returns the client-supplied id, accepting both spellings.
func (e *Envelope) RequestedClientID() ClientID {
	if e.ClientID != "" {
		return e.ClientID
	}
	return e.LegacyID
}

// Payload returns the negotiation payload carried under the field named by Type.
func (e *Envelope) Payload() json.RawMessage {
	switch e.Type {
	case TypeOffer:
		return e.Offer
	case TypeAnswer:
		return e.Answer
	case TypeICECandidate:
		return e.Candidate
	}
	return nil
}

type AuthRequired struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AuthSuccess struct {
	Type     string   `json:"type"`
	User     string   `json:"user"`
	ClientID ClientID `json:"client_id"`
	Message  string   `json:"message"`
}

type UsersInRoom struct {
	Type   string   `json:"type"`
	RoomID RoomID   `json:"room_id"`
	Users  []Member `json:"users"`
}

// Presence is used for both user_joined and user_left.
type Presence struct {
	Type           string   `json:"type"`
	RoomID         RoomID   `json:"room_id"`
	ClientID       ClientID `json:"client_id"`
	Username       string   `json:"username"`
	ConnectedUsers int      `json:"connected_users"`
}

// Relay is an offer, answer or ice_candidate re-tagged with its sender.
// Exactly one of the payload fields is set.
type Relay struct {
	Type      string          `json:"type"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      ClientID        `json:"from"`
	Username  string          `json:"username"`
}

// NewRelay places payload under the field named by typ.
func NewRelay(typ string, payload json.RawMessage, from ClientID, username string) Relay {
	r := Relay{Type: typ, From: from, Username: username}
	switch typ {
	case TypeOffer:
		r.Offer = payload
	case TypeAnswer:
		r.Answer = payload
	case TypeICECandidate:
		r.Candidate = payload
	}
	return r
}

type Pong struct {
	Type string `json:"type"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
