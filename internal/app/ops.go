// Package app holds the room use-case logic: join/leave/relay/rename
// operations over the room store, and the controller that maps protocol
// messages onto them. Nothing here knows about transports.
package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/huddlemesh/huddle/internal/core"
	"github.com/huddlemesh/huddle/internal/domain"
	"github.com/huddlemesh/huddle/internal/protocol"
)

type Ops struct {
	Store *core.RoomStore
}

func NewOps(store *core.RoomStore) *Ops {
	return &Ops{Store: store}
}

type JoinResult struct {
	Room        *core.Room
	Participant domain.Participant
	// Existing is the membership captured strictly before insertion, in
	// join order. It only says who to notify.
	Existing []domain.Participant
}

// Join gets-or-creates the room and inserts the participant. The room is
// left untouched on any failure.
func (o *Ops) Join(roomID domain.RoomID, id domain.ParticipantID, displayName string) (*JoinResult, error) {
	p, err := domain.NewParticipant(id, displayName)
	if err != nil {
		return nil, err
	}
	for {
		room := o.Store.GetOrCreate(roomID)
		existing, err := room.AddParticipant(p)
		if errors.Is(err, core.ErrRoomClosed) {
			// Lost the race with the last leaver; the next lookup
			// resurrects the id with a fresh room.
			continue
		}
		if err != nil {
			// A freshly created empty room is not retained.
			if room.CloseIfEmpty() {
				o.Store.Remove(roomID, room)
			}
			return nil, err
		}
		return &JoinResult{Room: room, Participant: *p, Existing: existing}, nil
	}
}

type LeaveResult struct {
	Remaining   []domain.Participant
	RoomDeleted bool
}

// Leave removes the participant (idempotently) and deletes the room the
// instant it becomes empty. When the room exists, callers always receive the
// remaining snapshot, even if id was never a member.
func (o *Ops) Leave(roomID domain.RoomID, id domain.ParticipantID) (*LeaveResult, error) {
	room, ok := o.Store.Find(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	remaining := room.RemoveParticipant(id)
	res := &LeaveResult{Remaining: remaining}
	// Close-then-remove: the close happens under the room lock, so a join
	// that slips in after the removal keeps the room alive and the empty
	// check here comes back false.
	if len(remaining) == 0 && room.CloseIfEmpty() {
		o.Store.Remove(roomID, room)
		res.RoomDeleted = true
		log.Info().Str("module", "app.ops").Str("room", string(roomID)).Msg("room deleted")
	}
	return res, nil
}

type RelayResult struct {
	RecipientID domain.ParticipantID
	Message     *protocol.Message
}

// Relay authorizes routing of a negotiation message. The payload itself is
// never inspected or rewritten.
func (o *Ops) Relay(roomID domain.RoomID, msg *protocol.Message) (*RelayResult, error) {
	if !protocol.Relayable(msg.Type) {
		return nil, domain.ErrInvalidMessageType
	}
	room, ok := o.Store.Find(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if !room.Member(msg.From) {
		return nil, domain.ErrSenderNotInRoom
	}
	if !room.Member(msg.To) {
		return nil, domain.ErrRecipientNotInRoom
	}
	return &RelayResult{RecipientID: msg.To, Message: msg}, nil
}

type RenameResult struct {
	DisplayName string
}

// Rename trims and validates the new name, then mutates the member in place.
// The returned value is the canonical one to broadcast.
func (o *Ops) Rename(roomID domain.RoomID, id domain.ParticipantID, name string) (*RenameResult, error) {
	canonical, err := domain.ValidateDisplayName(name)
	if err != nil {
		return nil, err
	}
	room, ok := o.Store.Find(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if err := room.SetDisplayName(id, canonical); err != nil {
		return nil, err
	}
	return &RenameResult{DisplayName: canonical}, nil
}
