// Package domain contains entities without logic, just meta-data
package domain

import "strings"

const MaxDisplayNameLen = 50

type ParticipantID string

// Participant is one connected user identity within a room.
type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName,omitempty"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
// The id is assigned by the gateway at connection time; the display name is
// optional and normalized through ValidateDisplayName when present.
func NewParticipant(id ParticipantID, displayName string) (*Participant, error) {
	if id == "" {
		return nil, ErrEmptyParticipantID
	}
	p := &Participant{ID: id}
	if displayName != "" {
		name, err := ValidateDisplayName(displayName)
		if err != nil {
			return nil, err
		}
		p.DisplayName = name
	}
	return p, nil
}

func (p *Participant) SetDisplayName(name string) error {
	canonical, err := ValidateDisplayName(name)
	if err != nil {
		return err
	}
	p.DisplayName = canonical
	return nil
}

// ValidateDisplayName trims the name and returns the canonical value.
func ValidateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if len(name) > MaxDisplayNameLen {
		return "", ErrNameTooLong
	}
	return name, nil
}

// Polite reports whether the local participant yields during negotiation
// glare against peer. The lexicographic order over ids is part of the
// protocol contract: both sides must compute the same winner independently.
func Polite(local, peer ParticipantID) bool {
	return local < peer
}
