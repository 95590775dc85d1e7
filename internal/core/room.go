// Package core owns room state: a threadsafe membership set per room and the
// single authoritative store of live rooms. It never touches transport
// resources.
package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlemesh/huddle/internal/domain"
)

// ErrRoomClosed reports an add against a room already torn down by its last
// leaver. Callers retry through the store, which resurrects the id with a
// fresh room.
var ErrRoomClosed = errors.New("room closed")

// Room is a threadsafe in-memory room. Membership add is a single atomic
// step: capacity check, uniqueness check and insert happen under one lock so
// two simultaneous joins to a full room cannot both succeed. Once the last
// member leaves the room is closed under the same lock, so a racing add can
// never land in a room the store is about to drop.
type Room struct {
	id domain.RoomID

	mu      sync.RWMutex
	byID    map[domain.ParticipantID]*domain.Participant
	ordered []domain.ParticipantID // join order, for membership snapshots
	closed  bool
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		id:   id,
		byID: make(map[domain.ParticipantID]*domain.Participant),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Room) Member(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// AddParticipant inserts p and returns the membership snapshot captured
// strictly before insertion. On ErrRoomFull or ErrDuplicateParticipant the
// room is left untouched.
func (r *Room) AddParticipant(p *domain.Participant) ([]domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	if len(r.byID) >= domain.RoomCapacity {
		return nil, domain.ErrRoomFull
	}
	if _, ok := r.byID[p.ID]; ok {
		return nil, domain.ErrDuplicateParticipant
	}
	existing := r.snapshotLocked()
	r.byID[p.ID] = p
	r.ordered = append(r.ordered, p.ID)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(p.ID)).Msg("participant added")
	return existing, nil
}

// RemoveParticipant deletes id (a no-op when absent) and returns the
// remaining membership.
func (r *Room) RemoveParticipant(id domain.ParticipantID) []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		delete(r.byID, id)
		for i, pid := range r.ordered {
			if pid == id {
				r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
				break
			}
		}
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Msg("participant removed")
	}
	return r.snapshotLocked()
}

// SetDisplayName mutates the member's display name in place. The name must
// already be canonical.
func (r *Room) SetDisplayName(id domain.ParticipantID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.DisplayName = name
	return nil
}

func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// CloseIfEmpty closes the room when it has no members, returning whether this
// call performed the close. At most one caller ever sees true, so exactly one
// leaver runs the store removal.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.byID) > 0 {
		return false
	}
	r.closed = true
	return true
}

// Snapshot returns the current membership in join order.
func (r *Room) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.ordered))
	for _, pid := range r.ordered {
		out = append(out, *r.byID[pid])
	}
	return out
}
