// Package protocol defines the websocket message envelope shared by the
// signaling server and clients. The parser fails closed: frames with an
// unrecognized type are rejected, never passed through.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/huddlemesh/huddle/internal/domain"
)

type Type string

// Client to server.
const (
	TypeJoin              Type = "join"
	TypeOffer             Type = "offer"
	TypeAnswer            Type = "answer"
	TypeICECandidate      Type = "ice-candidate"
	TypeLeave             Type = "leave"
	TypeUpdateDisplayName Type = "update-display-name"
)

// Server to client. Offer/answer/ice-candidate are forwarded verbatim and
// keep their inbound type tags.
const (
	TypeJoined             Type = "joined"
	TypeParticipantJoined  Type = "participant-joined"
	TypeParticipantLeft    Type = "participant-left"
	TypeDisplayNameUpdated Type = "display-name-updated"
	TypeError              Type = "error"
)

var (
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Message is the parsed inbound envelope. Only the fields relevant to its
// Type are populated; Raw holds the original frame so relayed messages are
// forwarded untouched.
type Message struct {
	Type        Type                       `json:"type"`
	RoomID      domain.RoomID              `json:"roomId,omitempty"`
	DisplayName string                     `json:"displayName,omitempty"`
	From        domain.ParticipantID       `json:"from,omitempty"`
	To          domain.ParticipantID       `json:"to,omitempty"`
	SDP         *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Relayable reports whether t is one of the three kinds the server is
// allowed to route between peers.
func Relayable(t Type) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Parse decodes an inbound frame into a typed Message. Unknown type tags are
// rejected with ErrUnknownMessageType, undecodable JSON and kind-specific
// missing fields with ErrMalformedFrame.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrMalformedFrame
	}
	msg.Raw = append(json.RawMessage(nil), data...)

	switch msg.Type {
	case TypeJoin:
		if msg.RoomID == "" {
			return nil, ErrMalformedFrame
		}
	case TypeOffer, TypeAnswer:
		if msg.From == "" || msg.To == "" || msg.SDP == nil {
			return nil, ErrMalformedFrame
		}
	case TypeICECandidate:
		if msg.From == "" || msg.To == "" || msg.Candidate == nil {
			return nil, ErrMalformedFrame
		}
	case TypeLeave:
		// from is advisory; the connection identity is authoritative.
	case TypeUpdateDisplayName:
		if msg.DisplayName == "" {
			return nil, ErrMalformedFrame
		}
	default:
		return nil, ErrUnknownMessageType
	}
	return &msg, nil
}

// ICEServer is the STUN/TURN descriptor handed to joining clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ToWebRTC converts the wire descriptor into the pion configuration type.
func (s ICEServer) ToWebRTC() webrtc.ICEServer {
	out := webrtc.ICEServer{
		URLs:     s.URLs,
		Username: s.Username,
	}
	if s.Credential != "" {
		out.Credential = s.Credential
	}
	return out
}

// Joined confirms a join to the requesting client.
type Joined struct {
	Type         Type                 `json:"type"`
	YouID        domain.ParticipantID `json:"youId"`
	Participants []domain.Participant `json:"participants"`
	ICEServers   []ICEServer          `json:"iceServers"`
}

func NewJoined(you domain.ParticipantID, existing []domain.Participant, ice []ICEServer) Joined {
	if existing == nil {
		existing = []domain.Participant{}
	}
	if ice == nil {
		ice = []ICEServer{}
	}
	return Joined{Type: TypeJoined, YouID: you, Participants: existing, ICEServers: ice}
}

// ParticipantJoined notifies existing members of the newcomer.
type ParticipantJoined struct {
	Type        Type               `json:"type"`
	Participant domain.Participant `json:"participant"`
}

func NewParticipantJoined(p domain.Participant) ParticipantJoined {
	return ParticipantJoined{Type: TypeParticipantJoined, Participant: p}
}

// ParticipantLeft notifies remaining members of a departure.
type ParticipantLeft struct {
	Type Type                 `json:"type"`
	ID   domain.ParticipantID `json:"id"`
}

func NewParticipantLeft(id domain.ParticipantID) ParticipantLeft {
	return ParticipantLeft{Type: TypeParticipantLeft, ID: id}
}

// DisplayNameUpdated broadcasts the canonical renamed value to the room.
type DisplayNameUpdated struct {
	Type          Type                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	DisplayName   string               `json:"displayName"`
}

func NewDisplayNameUpdated(id domain.ParticipantID, name string) DisplayNameUpdated {
	return DisplayNameUpdated{Type: TypeDisplayNameUpdated, ParticipantID: id, DisplayName: name}
}

// Error is the structured failure reply sent to the originating connection.
type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Message: message, Code: code}
}
