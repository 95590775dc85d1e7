package app

import (
	"github.com/rs/zerolog/log"

	"github.com/huddlemesh/huddle/internal/domain"
	"github.com/huddlemesh/huddle/internal/protocol"
)

// Outbound targets one recipient with one payload. Relayed messages carry
// the sender's original frame; everything else a typed protocol struct.
type Outbound struct {
	To      domain.ParticipantID
	Payload any
}

// Result is what the gateway must deliver and remember after one inbound
// message. RoomChanged signals that the sender's room association moved to
// RoomID ("" clears it).
type Result struct {
	Outbound    []Outbound
	RoomID      domain.RoomID
	RoomChanged bool
}

// Controller maps inbound protocol messages onto room operations and
// computes the outbound messages per recipient. It holds no state of its
// own beyond the configured ICE server list.
type Controller struct {
	ops        *Ops
	iceServers []protocol.ICEServer
}

func NewController(ops *Ops, iceServers []protocol.ICEServer) *Controller {
	return &Controller{ops: ops, iceServers: iceServers}
}

// Handle processes one parsed message from sender. room is the sender's
// current room association ("" when not in a room). Validation failures
// produce exactly one error reply to the sender and no state change.
func (c *Controller) Handle(sender domain.ParticipantID, room domain.RoomID, msg *protocol.Message) Result {
	switch msg.Type {
	case protocol.TypeJoin:
		return c.handleJoin(sender, room, msg)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		return c.handleRelay(sender, room, msg)
	case protocol.TypeLeave:
		return c.handleLeave(sender, room)
	case protocol.TypeUpdateDisplayName:
		return c.handleRename(sender, room, msg)
	default:
		log.Warn().Str("module", "app.controller").Str("type", string(msg.Type)).Msg("unknown signal")
		return errorTo(sender, "unknown_message_type", "unknown message type")
	}
}

func (c *Controller) handleJoin(sender domain.ParticipantID, room domain.RoomID, msg *protocol.Message) Result {
	var out []Outbound
	left := false
	if room != "" && room != msg.RoomID {
		// A participant belongs to exactly one room. Joining another one
		// implies leaving the current one first, remaining members included
		// in the fan-out.
		log.Info().Str("module", "app.controller").Str("sender", string(sender)).Str("from_room", string(room)).Str("to_room", string(msg.RoomID)).Msg("room switch")
		out = append(out, c.Disconnect(sender, room)...)
		left = true
	}

	res, err := c.ops.Join(msg.RoomID, sender, msg.DisplayName)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.controller").Str("sender", string(sender)).Str("room", string(msg.RoomID)).Msg("join rejected")
		out = append(out, Outbound{To: sender, Payload: protocol.NewError(domain.ErrorCode(err), err.Error())})
		// The old room is already left even when the new join fails.
		return Result{Outbound: out, RoomID: "", RoomChanged: left}
	}
	log.Info().Str("module", "app.controller").Str("sender", string(sender)).Str("room", string(msg.RoomID)).Int("existing", len(res.Existing)).Msg("join")

	out = append(out, Outbound{
		To:      sender,
		Payload: protocol.NewJoined(sender, res.Existing, c.iceServers),
	})
	notice := protocol.NewParticipantJoined(res.Participant)
	for _, p := range res.Existing {
		out = append(out, Outbound{To: p.ID, Payload: notice})
	}
	return Result{Outbound: out, RoomID: msg.RoomID, RoomChanged: true}
}

func (c *Controller) handleRelay(sender domain.ParticipantID, room domain.RoomID, msg *protocol.Message) Result {
	if room == "" {
		return errorTo(sender, domain.ErrorCode(domain.ErrNotInRoom), domain.ErrNotInRoom.Error())
	}
	res, err := c.ops.Relay(room, msg)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.controller").Str("sender", string(sender)).Str("type", string(msg.Type)).Msg("relay rejected")
		return errorTo(sender, domain.ErrorCode(err), err.Error())
	}
	log.Debug().Str("module", "app.controller").Str("from", string(sender)).Str("to", string(res.RecipientID)).Str("type", string(msg.Type)).Msg("relay")
	return Result{Outbound: []Outbound{{To: res.RecipientID, Payload: res.Message.Raw}}}
}

func (c *Controller) handleLeave(sender domain.ParticipantID, room domain.RoomID) Result {
	out := c.Disconnect(sender, room)
	return Result{Outbound: out, RoomID: "", RoomChanged: room != ""}
}

func (c *Controller) handleRename(sender domain.ParticipantID, room domain.RoomID, msg *protocol.Message) Result {
	if room == "" {
		return errorTo(sender, domain.ErrorCode(domain.ErrNotInRoom), domain.ErrNotInRoom.Error())
	}
	res, err := c.ops.Rename(room, sender, msg.DisplayName)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.controller").Str("sender", string(sender)).Msg("rename rejected")
		return errorTo(sender, domain.ErrorCode(err), err.Error())
	}
	roomHandle, ok := c.ops.Store.Find(room)
	if !ok {
		return errorTo(sender, domain.ErrorCode(domain.ErrRoomNotFound), domain.ErrRoomNotFound.Error())
	}
	notice := protocol.NewDisplayNameUpdated(sender, res.DisplayName)
	members := roomHandle.Snapshot()
	out := make([]Outbound, 0, len(members))
	// Everyone hears the rename, the requester included.
	for _, p := range members {
		out = append(out, Outbound{To: p.ID, Payload: notice})
	}
	return Result{Outbound: out}
}

// Disconnect handles a transport-level departure: remove the sender from its
// last-known room and notify the remaining members. Room deletion is silent.
func (c *Controller) Disconnect(sender domain.ParticipantID, room domain.RoomID) []Outbound {
	if room == "" {
		return nil
	}
	res, err := c.ops.Leave(room, sender)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.controller").Str("sender", string(sender)).Str("room", string(room)).Msg("disconnect cleanup")
		return nil
	}
	notice := protocol.NewParticipantLeft(sender)
	out := make([]Outbound, 0, len(res.Remaining))
	for _, p := range res.Remaining {
		out = append(out, Outbound{To: p.ID, Payload: notice})
	}
	return out
}

func errorTo(sender domain.ParticipantID, code, message string) Result {
	return Result{Outbound: []Outbound{{To: sender, Payload: protocol.NewError(code, message)}}}
}
