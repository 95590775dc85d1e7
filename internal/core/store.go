package core

import (
	"sync"

	"github.com/huddlemesh/huddle/internal/domain"
)

// RoomStore is the single authority over room existence. Creation is
// idempotent get-or-create: concurrent attempts for the same id yield the
// same room.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[domain.RoomID]*Room)}
}

// GetOrCreate never hands out a closed room: an id whose room was just torn
// down by its last leaver gets a fresh one.
func (s *RoomStore) GetOrCreate(id domain.RoomID) *Room {
	s.mu.RLock()
	room, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok && !room.Closed() {
		return room
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok = s.rooms[id]; ok && !room.Closed() {
		return room
	}
	room = NewRoom(id)
	s.rooms[id] = room
	return room
}

func (s *RoomStore) Find(id domain.RoomID) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

// Delete removes the room, a no-op when absent.
func (s *RoomStore) Delete(id domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

// Remove deletes id only while it still maps to room. A closed room whose id
// has since been resurrected with a fresh room is left alone.
func (s *RoomStore) Remove(id domain.RoomID, room *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rooms[id]; ok && cur == room {
		delete(s.rooms, id)
		return true
	}
	return false
}

func (s *RoomStore) Exists(id domain.RoomID) bool {
	_, ok := s.Find(id)
	return ok
}

func (s *RoomStore) IDs() []domain.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(s.rooms))
	for id, room := range s.rooms {
		if !room.Closed() {
			out = append(out, id)
		}
	}
	return out
}

func (s *RoomStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, room := range s.rooms {
		if !room.Closed() {
			n++
		}
	}
	return n
}
