package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlemesh/huddle/internal/app"
	"github.com/huddlemesh/huddle/internal/core"
	"github.com/huddlemesh/huddle/internal/domain"
	"github.com/huddlemesh/huddle/internal/protocol"
)

const readTimeout = 3 * time.Second

func newTestServer(t *testing.T) *httptest.Server {
	return newProbedServer(t, time.Minute)
}

// newProbedServer runs the liveness probe alongside the server so short ping
// periods terminate silent connections during the test.
func newProbedServer(t *testing.T, pingPeriod time.Duration) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctrl := app.NewController(
		app.NewOps(core.NewRoomStore()),
		[]protocol.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	)
	gw := New(ctrl, 65536, pingPeriod)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go gw.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		gw.HandleWS(c.Request.Context(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame map[string]any

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func joinRoom(t *testing.T, conn *websocket.Conn, room string) domain.ParticipantID {
	t.Helper()
	send(t, conn, frame{"type": "join", "roomId": room})
	f := read(t, conn)
	require.Equal(t, "joined", f["type"])
	return domain.ParticipantID(f["youId"].(string))
}

func TestJoinHandshake(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, frame{"type": "join", "roomId": "R1", "displayName": "Alice"})
	f := read(t, conn)
	assert.Equal(t, "joined", f["type"])
	assert.NotEmpty(t, f["youId"])
	assert.Empty(t, f["participants"])

	ice, ok := f["iceServers"].([]any)
	require.True(t, ok)
	require.Len(t, ice, 1)
}

func TestSecondJoinNotifiesExisting(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv)
	firstID := joinRoom(t, first, "R1")

	second := dial(t, srv)
	send(t, second, frame{"type": "join", "roomId": "R1", "displayName": "Bob"})

	joined := read(t, second)
	require.Equal(t, "joined", joined["type"])
	participants := joined["participants"].([]any)
	require.Len(t, participants, 1)
	assert.Equal(t, string(firstID), participants[0].(map[string]any)["id"])

	notice := read(t, first)
	assert.Equal(t, "participant-joined", notice["type"])
	participant := notice["participant"].(map[string]any)
	assert.Equal(t, "Bob", participant["displayName"])
}

func TestJoinSwitchNotifiesOldRoom(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv)
	joinRoom(t, first, "R1")

	second := dial(t, srv)
	secondID := joinRoom(t, second, "R1")
	read(t, first) // participant-joined

	// Joining another room implies leaving the current one.
	send(t, second, frame{"type": "join", "roomId": "R2"})

	joined := read(t, second)
	require.Equal(t, "joined", joined["type"])
	assert.Empty(t, joined["participants"])

	left := read(t, first)
	assert.Equal(t, "participant-left", left["type"])
	assert.Equal(t, string(secondID), left["id"])
}

func TestRelayDeliveredVerbatim(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv)
	firstID := joinRoom(t, first, "R1")

	second := dial(t, srv)
	secondID := joinRoom(t, second, "R1")
	read(t, first) // participant-joined for second

	send(t, second, frame{
		"type": "offer",
		"from": string(secondID),
		"to":   string(firstID),
		"sdp":  frame{"type": "offer", "sdp": "v=0"},
	})

	f := read(t, first)
	assert.Equal(t, "offer", f["type"])
	assert.Equal(t, string(secondID), f["from"])
	assert.Equal(t, "v=0", f["sdp"].(map[string]any)["sdp"])
}

func TestRelayBeforeJoinRejected(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, frame{
		"type": "offer",
		"from": "x",
		"to":   "y",
		"sdp":  frame{"type": "offer", "sdp": "v=0"},
	})
	f := read(t, conn)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "not_in_room", f["code"])
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := read(t, conn)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "malformed_frame", f["code"])

	send(t, conn, frame{"type": "teleport"})
	f = read(t, conn)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "unknown_message_type", f["code"])

	// The connection survives bad frames.
	joinRoom(t, conn, "R1")
}

func TestDisconnectNotifiesRemaining(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv)
	joinRoom(t, first, "R1")

	second := dial(t, srv)
	secondID := joinRoom(t, second, "R1")
	read(t, first) // participant-joined

	require.NoError(t, second.Close())

	f := read(t, first)
	assert.Equal(t, "participant-left", f["type"])
	assert.Equal(t, string(secondID), f["id"])
}

func TestLivenessProbeTerminatesSilentConnection(t *testing.T) {
	pingPeriod := 50 * time.Millisecond
	srv := newProbedServer(t, pingPeriod)

	first := dial(t, srv)
	joinRoom(t, first, "R1")

	second := dial(t, srv)
	secondID := joinRoom(t, second, "R1")
	read(t, first) // participant-joined

	// Swallow pings instead of answering them; keep reading so the missed
	// pongs, not a stalled read loop, are what the probe sees.
	second.SetPingHandler(func(string) error { return nil })
	terminated := make(chan struct{})
	go func() {
		defer close(terminated)
		for {
			if _, _, err := second.ReadMessage(); err != nil {
				return
			}
		}
	}()

	f := read(t, first)
	assert.Equal(t, "participant-left", f["type"])
	assert.Equal(t, string(secondID), f["id"])

	select {
	case <-terminated:
	case <-time.After(readTimeout):
		t.Fatal("silent connection was not terminated")
	}

	// The disconnect fan-out fires once: no duplicate participant-left.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*pingPeriod)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
}

func TestLeaveMessageNotifiesRemaining(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv)
	joinRoom(t, first, "R1")

	second := dial(t, srv)
	secondID := joinRoom(t, second, "R1")
	read(t, first) // participant-joined

	send(t, second, frame{"type": "leave"})

	f := read(t, first)
	assert.Equal(t, "participant-left", f["type"])
	assert.Equal(t, string(secondID), f["id"])
}

func TestRenameBroadcast(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv)
	firstID := joinRoom(t, first, "R1")

	second := dial(t, srv)
	joinRoom(t, second, "R1")
	read(t, first) // participant-joined

	send(t, first, frame{"type": "update-display-name", "displayName": "  Carol  "})

	for _, conn := range []*websocket.Conn{first, second} {
		f := read(t, conn)
		assert.Equal(t, "display-name-updated", f["type"])
		assert.Equal(t, string(firstID), f["participantId"])
		assert.Equal(t, "Carol", f["displayName"])
	}
}

func TestRoomFullOverWire(t *testing.T) {
	srv := newTestServer(t)
	conns := make([]*websocket.Conn, 0, domain.RoomCapacity)
	for i := 0; i < domain.RoomCapacity; i++ {
		conn := dial(t, srv)
		joinRoom(t, conn, "R1")
		conns = append(conns, conn)
	}

	extra := dial(t, srv)
	send(t, extra, frame{"type": "join", "roomId": "R1"})
	f := read(t, extra)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "room_full", f["code"])
}
