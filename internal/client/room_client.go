package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddlemesh/huddle/internal/domain"
	"github.com/huddlemesh/huddle/internal/peer"
	"github.com/huddlemesh/huddle/internal/protocol"
)

const maxReconnectAttempts = 5

// serverMessage unions every server-to-client payload; only the fields for
// its Type are populated.
type serverMessage struct {
	Type          protocol.Type              `json:"type"`
	YouID         domain.ParticipantID       `json:"youId,omitempty"`
	Participants  []domain.Participant       `json:"participants,omitempty"`
	ICEServers    []protocol.ICEServer       `json:"iceServers,omitempty"`
	Participant   *domain.Participant        `json:"participant,omitempty"`
	ID            domain.ParticipantID       `json:"id,omitempty"`
	ParticipantID domain.ParticipantID       `json:"participantId,omitempty"`
	DisplayName   string                     `json:"displayName,omitempty"`
	From          domain.ParticipantID       `json:"from,omitempty"`
	To            domain.ParticipantID       `json:"to,omitempty"`
	SDP           *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate     *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Message       string                     `json:"message,omitempty"`
	Code          string                     `json:"code,omitempty"`
}

// RoomState is the read-only view handed to the UI.
type RoomState struct {
	RoomID             domain.RoomID
	LocalParticipantID domain.ParticipantID
	Participants       []domain.Participant
	Connected          bool
	Muted              bool
	LocalAudioLevel    float64
	InputDeviceID      string
}

// RoomClient drives a full-mesh audio session: it joins a room over the
// transport, maintains the room state and feeds signaling into the peer
// negotiation engine.
type RoomClient struct {
	serverURL string

	mu          sync.Mutex
	transport   *Transport
	engine      *peer.Engine
	state       RoomState
	displayName string
	subscribers map[int]func(RoomState)
	nextSubID   int
}

func NewRoomClient(serverURL string) *RoomClient {
	return &RoomClient{
		serverURL:   serverURL,
		subscribers: make(map[int]func(RoomState)),
	}
}

// Subscribe registers a state-change callback and returns its unsubscribe
// function.
func (rc *RoomClient) Subscribe(fn func(RoomState)) func() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	id := rc.nextSubID
	rc.nextSubID++
	rc.subscribers[id] = fn
	return func() {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		delete(rc.subscribers, id)
	}
}

// State returns the current room state snapshot.
func (rc *RoomClient) State() RoomState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stateLocked()
}

func (rc *RoomClient) stateLocked() RoomState {
	out := rc.state
	out.Participants = append([]domain.Participant(nil), rc.state.Participants...)
	return out
}

func (rc *RoomClient) notify() {
	rc.mu.Lock()
	state := rc.stateLocked()
	subs := make([]func(RoomState), 0, len(rc.subscribers))
	for _, fn := range rc.subscribers {
		subs = append(subs, fn)
	}
	rc.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}

// JoinRoom connects to the signaling server and requests membership in
// roomID. The joined confirmation arrives asynchronously on the read loop.
func (rc *RoomClient) JoinRoom(roomID domain.RoomID, displayName string) error {
	t := NewTransport(rc.serverURL)
	if err := t.Connect(); err != nil {
		return err
	}

	rc.mu.Lock()
	rc.transport = t
	rc.displayName = displayName
	rc.state = RoomState{RoomID: roomID, Connected: true, Muted: rc.state.Muted, InputDeviceID: rc.state.InputDeviceID}
	rc.mu.Unlock()

	rc.sendJSON(map[string]any{
		"type":        protocol.TypeJoin,
		"roomId":      roomID,
		"displayName": displayName,
	})

	go rc.readLoop(t)
	rc.notify()
	return nil
}

// LeaveRoom tears down every peer session and the transport.
func (rc *RoomClient) LeaveRoom() {
	rc.mu.Lock()
	t := rc.transport
	engine := rc.engine
	rc.transport = nil
	rc.engine = nil
	rc.state = RoomState{Muted: rc.state.Muted, InputDeviceID: rc.state.InputDeviceID}
	rc.mu.Unlock()

	if t != nil {
		b, _ := json.Marshal(map[string]any{"type": protocol.TypeLeave})
		t.Send(b)
		t.Close()
	}
	if engine != nil {
		engine.CloseAll()
	}
	rc.notify()
}

// ToggleMute flips the local mute flag. Audio capture honors it in the UI
// layer.
func (rc *RoomClient) ToggleMute() bool {
	rc.mu.Lock()
	rc.state.Muted = !rc.state.Muted
	muted := rc.state.Muted
	rc.mu.Unlock()
	rc.notify()
	return muted
}

// SwitchInputDevice records the selected capture device.
func (rc *RoomClient) SwitchInputDevice(deviceID string) {
	rc.mu.Lock()
	rc.state.InputDeviceID = deviceID
	rc.mu.Unlock()
	rc.notify()
}

func (rc *RoomClient) readLoop(t *Transport) {
	for data := range t.Incoming() {
		rc.handleMessage(data)
	}
	rc.onDisconnected(t)
}

// onDisconnected retries the connection with backoff; exhausting the
// attempts surfaces a persistent disconnected state rather than an error.
func (rc *RoomClient) onDisconnected(t *Transport) {
	rc.mu.Lock()
	current := rc.transport
	roomID := rc.state.RoomID
	name := rc.displayName
	engine := rc.engine
	rc.mu.Unlock()
	if current != t || roomID == "" {
		// Deliberate leave already cleaned up.
		return
	}

	rc.mu.Lock()
	rc.state.Connected = false
	rc.mu.Unlock()
	rc.notify()
	if engine != nil {
		engine.CloseAll()
	}

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		time.Sleep(time.Duration(attempt) * time.Second)
		log.Info().Str("module", "client").Int("attempt", attempt).Msg("reconnecting")
		if err := rc.JoinRoom(roomID, name); err == nil {
			return
		}
	}
	log.Warn().Str("module", "client").Msg("reconnect attempts exhausted")
}

func (rc *RoomClient) handleMessage(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad server frame")
		return
	}

	switch msg.Type {
	case protocol.TypeJoined:
		rc.handleJoined(&msg)
	case protocol.TypeParticipantJoined:
		rc.handleParticipantJoined(&msg)
	case protocol.TypeParticipantLeft:
		rc.handleParticipantLeft(&msg)
	case protocol.TypeDisplayNameUpdated:
		rc.handleDisplayNameUpdated(&msg)
	case protocol.TypeOffer:
		rc.handleOffer(&msg)
	case protocol.TypeAnswer:
		rc.handleAnswer(&msg)
	case protocol.TypeICECandidate:
		rc.handleCandidate(&msg)
	case protocol.TypeError:
		log.Warn().Str("module", "client").Str("code", msg.Code).Str("error", msg.Message).Msg("server error")
	default:
		log.Warn().Str("module", "client").Str("type", string(msg.Type)).Msg("unknown server message")
	}
}

// handleJoined seeds the engine and opens an offer toward every participant
// that was already in the room.
func (rc *RoomClient) handleJoined(msg *serverMessage) {
	factory := peer.NewPionFactory(msg.ICEServers, peer.PionEvents{
		OnICECandidate: rc.sendLocalCandidate,
		OnFailed:       rc.onPeerFailed,
	})
	engine := peer.NewEngine(msg.YouID, factory)

	rc.mu.Lock()
	rc.engine = engine
	rc.state.LocalParticipantID = msg.YouID
	rc.state.Participants = append([]domain.Participant(nil), msg.Participants...)
	rc.state.Connected = true
	rc.mu.Unlock()
	rc.notify()

	for _, p := range msg.Participants {
		rc.offerTo(p.ID)
	}
}

func (rc *RoomClient) handleParticipantJoined(msg *serverMessage) {
	if msg.Participant == nil {
		return
	}
	rc.mu.Lock()
	rc.state.Participants = append(rc.state.Participants, *msg.Participant)
	engine := rc.engine
	rc.mu.Unlock()
	rc.notify()

	// The newcomer initiates; we just make sure the session exists so early
	// candidates have somewhere to land.
	if engine != nil {
		if err := engine.Ensure(msg.Participant.ID); err != nil {
			log.Error().Err(err).Str("module", "client").Str("peer", string(msg.Participant.ID)).Msg("ensure session")
		}
	}
}

func (rc *RoomClient) handleParticipantLeft(msg *serverMessage) {
	rc.mu.Lock()
	engine := rc.engine
	out := rc.state.Participants[:0]
	for _, p := range rc.state.Participants {
		if p.ID != msg.ID {
			out = append(out, p)
		}
	}
	rc.state.Participants = out
	rc.mu.Unlock()
	rc.notify()

	if engine != nil {
		engine.Close(msg.ID)
	}
}

func (rc *RoomClient) handleDisplayNameUpdated(msg *serverMessage) {
	rc.mu.Lock()
	for i := range rc.state.Participants {
		if rc.state.Participants[i].ID == msg.ParticipantID {
			rc.state.Participants[i].DisplayName = msg.DisplayName
		}
	}
	rc.mu.Unlock()
	rc.notify()
}

func (rc *RoomClient) handleOffer(msg *serverMessage) {
	engine := rc.currentEngine()
	if engine == nil || msg.SDP == nil {
		return
	}
	answer, err := engine.HandleOffer(msg.From, *msg.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("peer", string(msg.From)).Msg("handle offer")
		return
	}
	if answer == nil {
		return
	}
	rc.sendJSON(map[string]any{
		"type": protocol.TypeAnswer,
		"to":   msg.From,
		"from": rc.localID(),
		"sdp":  answer,
	})
}

func (rc *RoomClient) handleAnswer(msg *serverMessage) {
	engine := rc.currentEngine()
	if engine == nil || msg.SDP == nil {
		return
	}
	if err := engine.HandleAnswer(msg.From, *msg.SDP); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("peer", string(msg.From)).Msg("handle answer")
	}
}

func (rc *RoomClient) handleCandidate(msg *serverMessage) {
	engine := rc.currentEngine()
	if engine == nil || msg.Candidate == nil {
		return
	}
	if err := engine.HandleCandidate(msg.From, *msg.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("peer", string(msg.From)).Msg("handle candidate")
	}
}

func (rc *RoomClient) offerTo(peerID domain.ParticipantID) {
	engine := rc.currentEngine()
	if engine == nil {
		return
	}
	offer, err := engine.CreateOffer(peerID)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("peer", string(peerID)).Msg("create offer")
		return
	}
	if offer == nil {
		return
	}
	rc.sendJSON(map[string]any{
		"type": protocol.TypeOffer,
		"to":   peerID,
		"from": rc.localID(),
		"sdp":  offer,
	})
}

func (rc *RoomClient) sendLocalCandidate(peerID domain.ParticipantID, candidate webrtc.ICECandidateInit) {
	rc.sendJSON(map[string]any{
		"type":      protocol.TypeICECandidate,
		"to":        peerID,
		"from":      rc.localID(),
		"candidate": candidate,
	})
}

func (rc *RoomClient) onPeerFailed(peerID domain.ParticipantID) {
	engine := rc.currentEngine()
	if engine != nil {
		engine.Close(peerID)
	}
}

func (rc *RoomClient) currentEngine() *peer.Engine {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.engine
}

func (rc *RoomClient) localID() domain.ParticipantID {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state.LocalParticipantID
}

func (rc *RoomClient) sendJSON(v any) {
	rc.mu.Lock()
	t := rc.transport
	rc.mu.Unlock()
	if t == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("marshal")
		return
	}
	t.Send(b)
}
