// Package peer implements the client-side negotiation engine: one state
// machine per remote peer that creates and accepts offers, applies answers
// and ICE candidates, and resolves simultaneous-offer glare deterministically.
package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddlemesh/huddle/internal/domain"
)

// Conn is the slice of the webrtc.PeerConnection surface the engine drives.
// *webrtc.PeerConnection satisfies it as is.
type Conn interface {
	SignalingState() webrtc.SignalingState
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	Close() error
}

// ConnFactory builds the underlying connection when a peer id first needs
// one.
type ConnFactory func(peerID domain.ParticipantID) (Conn, error)

var ErrNoOutstandingOffer = errors.New("no outstanding local offer")

// session holds one peer's negotiation state. The three flags and the
// connection handle are one unit: everything is mutated under one mutex so
// cross-peer operations never observe a session mid-negotiation.
type session struct {
	peerID domain.ParticipantID

	mu          sync.Mutex
	pc          Conn
	makingOffer bool
	ignoreOffer bool
	negotiating bool
	closed      bool
}

type Engine struct {
	localID domain.ParticipantID
	factory ConnFactory

	mu       sync.Mutex
	sessions map[domain.ParticipantID]*session
}

func NewEngine(localID domain.ParticipantID, factory ConnFactory) *Engine {
	return &Engine{
		localID:  localID,
		factory:  factory,
		sessions: make(map[domain.ParticipantID]*session),
	}
}

// Ensure materializes the session for peerID, creating the underlying
// connection on first use.
func (e *Engine) Ensure(peerID domain.ParticipantID) error {
	_, err := e.ensure(peerID)
	return err
}

func (e *Engine) ensure(peerID domain.ParticipantID) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[peerID]; ok {
		return s, nil
	}
	pc, err := e.factory(peerID)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	s := &session{peerID: peerID, pc: pc}
	e.sessions[peerID] = s
	log.Info().Str("module", "peer").Str("peer", string(peerID)).Msg("session created")
	return s, nil
}

func (e *Engine) get(peerID domain.ParticipantID) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[peerID]
	return s, ok
}

// CreateOffer produces a local offer for peerID, or nil when an offer
// attempt is already in flight or the connection is not stable. The
// negotiating flag stays set until the answer lands or the offer is rolled
// over by an incoming one.
func (e *Engine) CreateOffer(peerID domain.ParticipantID) (*webrtc.SessionDescription, error) {
	s, err := e.ensure(peerID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil
	}
	if s.negotiating || s.pc.SignalingState() != webrtc.SignalingStateStable {
		log.Debug().Str("module", "peer").Str("peer", string(peerID)).Msg("offer suppressed, negotiation in flight")
		return nil, nil
	}
	s.negotiating = true
	s.makingOffer = true
	defer func() { s.makingOffer = false }()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		s.negotiating = false
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		s.negotiating = false
		return nil, fmt.Errorf("apply local offer: %w", err)
	}
	return &offer, nil
}

// HandleOffer applies an incoming offer and returns the answer to send
// back, or nil when the offer loses glare resolution. The peer with the
// lexicographically smaller id is polite and rolls its own offer over; the
// other side ignores the incoming offer and keeps its own.
func (e *Engine) HandleOffer(peerID domain.ParticipantID, sdp webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s, err := e.ensure(peerID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil
	}

	collision := s.makingOffer || s.pc.SignalingState() != webrtc.SignalingStateStable
	polite := domain.Polite(e.localID, peerID)
	s.ignoreOffer = collision && !polite
	if s.ignoreOffer {
		log.Info().Str("module", "peer").Str("peer", string(peerID)).Msg("glare: ignoring incoming offer")
		return nil, nil
	}

	// Applying the remote offer rolls back any half-completed local one.
	if err := s.pc.SetRemoteDescription(sdp); err != nil {
		return nil, fmt.Errorf("apply remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("apply local answer: %w", err)
	}
	s.negotiating = false
	return &answer, nil
}

// HandleAnswer applies a remote answer to the outstanding local offer.
// Without one it reports ErrNoOutstandingOffer; callers log, nothing is
// torn down.
func (e *Engine) HandleAnswer(peerID domain.ParticipantID, sdp webrtc.SessionDescription) error {
	s, ok := e.get(peerID)
	if !ok {
		return ErrNoOutstandingOffer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return ErrNoOutstandingOffer
	}
	if err := s.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("apply remote answer: %w", err)
	}
	s.negotiating = false
	s.ignoreOffer = false
	return nil
}

// HandleCandidate applies a remote ICE candidate. Failures while the last
// offer from this peer was ignored are the expected consequence of glare
// and are swallowed.
func (e *Engine) HandleCandidate(peerID domain.ParticipantID, candidate webrtc.ICECandidateInit) error {
	s, ok := e.get(peerID)
	if !ok {
		// Candidate raced ahead of its peer connection.
		log.Warn().Str("module", "peer").Str("peer", string(peerID)).Msg("candidate before session, dropping")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.pc.AddICECandidate(candidate); err != nil {
		if s.ignoreOffer {
			log.Debug().Str("module", "peer").Str("peer", string(peerID)).Msg("candidate for ignored offer")
			return nil
		}
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Close tears down the session for peerID. Idempotent.
func (e *Engine) Close(peerID domain.ParticipantID) {
	e.mu.Lock()
	s, ok := e.sessions[peerID]
	delete(e.sessions, peerID)
	e.mu.Unlock()
	if !ok {
		return
	}
	s.close()
}

// CloseAll tears down every session. Idempotent.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	all := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.sessions = make(map[domain.ParticipantID]*session)
	e.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}

// Peers lists the peer ids with live sessions.
func (e *Engine) Peers() []domain.ParticipantID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(e.sessions))
	for id := range e.sessions {
		out = append(out, id)
	}
	return out
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.makingOffer = false
	s.ignoreOffer = false
	s.negotiating = false
	if err := s.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("peer", string(s.peerID)).Msg("close error")
	} else {
		log.Info().Str("module", "peer").Str("peer", string(s.peerID)).Msg("session closed")
	}
}
