package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlemesh/huddle/internal/domain"
)

func TestParseJoin(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"join","roomId":"R1","displayName":"Alice"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, msg.Type)
	assert.Equal(t, domain.RoomID("R1"), msg.RoomID)
	assert.Equal(t, "Alice", msg.DisplayName)
}

func TestParseRelayKinds(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"offer","from":"u1","to":"u2","sdp":{"type":"offer","sdp":"v=0"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeOffer, msg.Type)
	require.NotNil(t, msg.SDP)
	assert.Equal(t, "v=0", msg.SDP.SDP)

	msg, err = Parse([]byte(`{"type":"answer","from":"u2","to":"u1","sdp":{"type":"answer","sdp":"v=0"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeAnswer, msg.Type)

	msg, err = Parse([]byte(`{"type":"ice-candidate","from":"u1","to":"u2","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Candidate)
}

func TestParseKeepsRawFrame(t *testing.T) {
	frame := `{"type":"offer","from":"u1","to":"u2","sdp":{"type":"offer","sdp":"v=0"},"extra":"kept"}`
	msg, err := Parse([]byte(frame))
	require.NoError(t, err)
	assert.JSONEq(t, frame, string(msg.Raw))
}

func TestParseFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{name: "not json", frame: `{{{`, want: ErrMalformedFrame},
		{name: "unknown type", frame: `{"type":"teleport"}`, want: ErrUnknownMessageType},
		{name: "empty type", frame: `{}`, want: ErrUnknownMessageType},
		{name: "join without room", frame: `{"type":"join"}`, want: ErrMalformedFrame},
		{name: "offer without sdp", frame: `{"type":"offer","from":"u1","to":"u2"}`, want: ErrMalformedFrame},
		{name: "offer without recipient", frame: `{"type":"offer","from":"u1","sdp":{"type":"offer","sdp":"v=0"}}`, want: ErrMalformedFrame},
		{name: "candidate without payload", frame: `{"type":"ice-candidate","from":"u1","to":"u2"}`, want: ErrMalformedFrame},
		{name: "rename without name", frame: `{"type":"update-display-name"}`, want: ErrMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRelayable(t *testing.T) {
	assert.True(t, Relayable(TypeOffer))
	assert.True(t, Relayable(TypeAnswer))
	assert.True(t, Relayable(TypeICECandidate))
	assert.False(t, Relayable(TypeJoin))
	assert.False(t, Relayable(TypeJoined))
}

func TestParticipantRoundTrip(t *testing.T) {
	in := domain.Participant{ID: "u1", DisplayName: "Alice"}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out domain.Participant
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	// Unset display name stays off the wire.
	b, err = json.Marshal(domain.Participant{ID: "u2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u2"}`, string(b))
}

func TestJoinedDefaultsToEmptySlices(t *testing.T) {
	b, err := json.Marshal(NewJoined("u1", nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"joined","youId":"u1","participants":[],"iceServers":[]}`, string(b))
}

func TestICEServerWire(t *testing.T) {
	s := ICEServer{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "c"}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"urls":["turn:turn.example.org:3478"],"username":"u","credential":"c"}`, string(b))

	rtc := s.ToWebRTC()
	assert.Equal(t, s.URLs, rtc.URLs)
	assert.Equal(t, "u", rtc.Username)
	assert.Equal(t, "c", rtc.Credential)
}
