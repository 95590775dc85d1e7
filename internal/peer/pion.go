package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddlemesh/huddle/internal/domain"
	"github.com/huddlemesh/huddle/internal/protocol"
)

// PionEvents are the callbacks the factory wires onto every new peer
// connection. All are optional.
type PionEvents struct {
	// OnICECandidate fires for each locally gathered candidate, for
	// transmission to the remote peer.
	OnICECandidate func(peerID domain.ParticipantID, candidate webrtc.ICECandidateInit)
	// OnFailed fires on a terminal connection state, so the session can be
	// torn down.
	OnFailed func(peerID domain.ParticipantID)
	// OnTrack fires when remote audio arrives. Media handling itself lives
	// with the collaborator UI.
	OnTrack func(peerID domain.ParticipantID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// NewPionFactory returns a ConnFactory producing real pion peer connections
// configured with the given ICE servers.
func NewPionFactory(iceServers []protocol.ICEServer, events PionEvents) ConnFactory {
	cfg := webrtc.Configuration{}
	for _, s := range iceServers {
		cfg.ICEServers = append(cfg.ICEServers, s.ToWebRTC())
	}

	return func(peerID domain.ParticipantID) (Conn, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}

		pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
			if cand != nil && events.OnICECandidate != nil {
				events.OnICECandidate(peerID, cand.ToJSON())
			}
		})

		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			log.Info().Str("module", "peer").Str("peer", string(peerID)).Str("peer_connection_state", s.String()).Msg("peer state")
			if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
				if events.OnFailed != nil {
					events.OnFailed(peerID)
				}
			}
		})

		pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
			log.Info().Str("module", "peer").Str("peer", string(peerID)).Str("ice_state", s.String()).Msg("ICE state")
		})

		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			log.Info().Str("module", "peer").Str("peer", string(peerID)).Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
			if events.OnTrack != nil {
				events.OnTrack(peerID, track, receiver)
			}
		})

		return pc, nil
	}
}
