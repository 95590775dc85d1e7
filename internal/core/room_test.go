package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlemesh/huddle/internal/domain"
)

func mustParticipant(t *testing.T, id string) *domain.Participant {
	t.Helper()
	p, err := domain.NewParticipant(domain.ParticipantID(id), "")
	require.NoError(t, err)
	return p
}

func TestRoomCapacity(t *testing.T) {
	room := NewRoom("R1")

	for i := 0; i < domain.RoomCapacity; i++ {
		_, err := room.AddParticipant(mustParticipant(t, fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
	}
	require.Equal(t, domain.RoomCapacity, room.Size())

	_, err := room.AddParticipant(mustParticipant(t, "u-overflow"))
	assert.ErrorIs(t, err, domain.ErrRoomFull)
	assert.Equal(t, domain.RoomCapacity, room.Size())
	assert.False(t, room.Member("u-overflow"))
}

func TestRoomDuplicateParticipant(t *testing.T) {
	room := NewRoom("R1")

	_, err := room.AddParticipant(mustParticipant(t, "u1"))
	require.NoError(t, err)

	_, err = room.AddParticipant(mustParticipant(t, "u1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateParticipant)
	assert.Equal(t, 1, room.Size())
}

func TestRoomAddReturnsPreInsertSnapshot(t *testing.T) {
	room := NewRoom("R1")

	existing, err := room.AddParticipant(mustParticipant(t, "u1"))
	require.NoError(t, err)
	assert.Empty(t, existing)

	existing, err = room.AddParticipant(mustParticipant(t, "u2"))
	require.NoError(t, err)
	require.Len(t, existing, 1)
	assert.Equal(t, domain.ParticipantID("u1"), existing[0].ID)

	existing, err = room.AddParticipant(mustParticipant(t, "u3"))
	require.NoError(t, err)
	require.Len(t, existing, 2)
	// Snapshot keeps join order.
	assert.Equal(t, domain.ParticipantID("u1"), existing[0].ID)
	assert.Equal(t, domain.ParticipantID("u2"), existing[1].ID)
}

func TestRoomRemoveIdempotent(t *testing.T) {
	room := NewRoom("R1")
	_, err := room.AddParticipant(mustParticipant(t, "u1"))
	require.NoError(t, err)
	_, err = room.AddParticipant(mustParticipant(t, "u2"))
	require.NoError(t, err)

	remaining := room.RemoveParticipant("u1")
	require.Len(t, remaining, 1)
	assert.Equal(t, domain.ParticipantID("u2"), remaining[0].ID)

	// Removing an absent member is a no-op that still reports the snapshot.
	remaining = room.RemoveParticipant("u1")
	require.Len(t, remaining, 1)
	assert.Equal(t, domain.ParticipantID("u2"), remaining[0].ID)
}

func TestRoomCloseIfEmpty(t *testing.T) {
	room := NewRoom("R1")
	_, err := room.AddParticipant(mustParticipant(t, "u1"))
	require.NoError(t, err)

	// A populated room never closes.
	assert.False(t, room.CloseIfEmpty())
	assert.False(t, room.Closed())

	room.RemoveParticipant("u1")
	assert.True(t, room.CloseIfEmpty())
	assert.True(t, room.Closed())

	// Only the first caller performs the close.
	assert.False(t, room.CloseIfEmpty())
}

func TestRoomAddAfterCloseRejected(t *testing.T) {
	room := NewRoom("R1")
	require.True(t, room.CloseIfEmpty())

	_, err := room.AddParticipant(mustParticipant(t, "u1"))
	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.Equal(t, 0, room.Size())
}

func TestRoomSetDisplayName(t *testing.T) {
	room := NewRoom("R1")
	_, err := room.AddParticipant(mustParticipant(t, "u1"))
	require.NoError(t, err)

	require.NoError(t, room.SetDisplayName("u1", "Alice"))
	snap := room.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "Alice", snap[0].DisplayName)

	err = room.SetDisplayName("ghost", "Bob")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}
