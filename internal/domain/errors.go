package domain

import "errors"

var (
	ErrRoomFull             = errors.New("room is full")
	ErrDuplicateParticipant = errors.New("participant already in room")
	ErrRoomNotFound         = errors.New("room not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrSenderNotInRoom      = errors.New("sender not in room")
	ErrRecipientNotInRoom   = errors.New("recipient not in room")
	ErrInvalidMessageType   = errors.New("invalid message type")
	ErrNotInRoom            = errors.New("not in a room")
	ErrEmptyName            = errors.New("display name empty")
	ErrNameTooLong          = errors.New("display name too long")
	ErrEmptyParticipantID   = errors.New("participant id empty")
)

// ErrorCode returns the stable wire code for err, or "internal" when the
// error is not part of the protocol taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrDuplicateParticipant):
		return "duplicate_participant"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrParticipantNotFound):
		return "participant_not_found"
	case errors.Is(err, ErrSenderNotInRoom):
		return "sender_not_in_room"
	case errors.Is(err, ErrRecipientNotInRoom):
		return "recipient_not_in_room"
	case errors.Is(err, ErrInvalidMessageType):
		return "invalid_message_type"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrEmptyName):
		return "empty_name"
	case errors.Is(err, ErrNameTooLong):
		return "name_too_long"
	default:
		return "internal"
	}
}
