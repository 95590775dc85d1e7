// Package gateway owns live websocket connections. It assigns each one a
// fresh participant identity, feeds parsed frames to the controller,
// delivers the controller's output to the targeted connections and probes
// liveness on a fixed period.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlemesh/huddle/internal/app"
	"github.com/huddlemesh/huddle/internal/domain"
	"github.com/huddlemesh/huddle/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is the registry record for one live connection: its participant
// identity, the last room it declared via join, and the liveness flag for
// the ping round.
type session struct {
	id     domain.ParticipantID
	conn   *wsConn
	cancel context.CancelFunc
	gone   sync.Once

	mu     sync.Mutex
	roomID domain.RoomID
	alive  bool
}

func (s *session) room() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

type Gateway struct {
	ctrl       *app.Controller
	readLimit  int64
	pingPeriod time.Duration

	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*session
}

func New(ctrl *app.Controller, readLimit int64, pingPeriod time.Duration) *Gateway {
	return &Gateway{
		ctrl:       ctrl,
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
		sessions:   make(map[domain.ParticipantID]*session),
	}
}

// HandleWS upgrades the request and runs the connection until it drops.
func (g *Gateway) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("ws upgrade")
		return
	}

	pid := domain.ParticipantID(uuid.NewString())
	ctx, cancel := context.WithCancel(ctx)
	sess := &session{id: pid, conn: newWSConn(ws), cancel: cancel, alive: true}

	ws.SetReadLimit(g.readLimit)
	ws.SetPongHandler(func(string) error {
		sess.mu.Lock()
		sess.alive = true
		sess.mu.Unlock()
		return nil
	})

	g.mu.Lock()
	g.sessions[pid] = sess
	g.mu.Unlock()
	log.Info().Str("module", "gateway").Str("participant", string(pid)).Msg("connection registered")

	go sess.conn.writePump(ctx)
	g.readPump(ctx, sess)
}

func (g *Gateway) readPump(ctx context.Context, sess *session) {
	defer g.drop(sess)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := sess.conn.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "gateway").Str("participant", string(sess.id)).Msg("readPump closing")
				return
			}
			g.handleFrame(sess, data)
		}
	}
}

// handleFrame parses one inbound frame and routes it. A bad frame gets an
// error reply; the connection stays up.
func (g *Gateway) handleFrame(sess *session, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		code := "malformed_frame"
		if err == protocol.ErrUnknownMessageType {
			code = "unknown_message_type"
		}
		log.Warn().Err(err).Str("module", "gateway").Str("participant", string(sess.id)).Msg("bad frame")
		g.sendJSON(sess.conn, protocol.NewError(code, err.Error()))
		return
	}

	res := g.ctrl.Handle(sess.id, sess.room(), msg)
	if res.RoomChanged {
		sess.mu.Lock()
		sess.roomID = res.RoomID
		sess.mu.Unlock()
	}
	g.deliver(res.Outbound)
}

// deliver fans controller output out to the targeted connections. A
// recipient that has since disconnected is a warning, never an error.
func (g *Gateway) deliver(out []app.Outbound) {
	for _, ob := range out {
		g.mu.RLock()
		sess, ok := g.sessions[ob.To]
		g.mu.RUnlock()
		if !ok {
			log.Warn().Str("module", "gateway").Str("to", string(ob.To)).Msg("recipient gone, dropping message")
			continue
		}
		if raw, isRaw := ob.Payload.(json.RawMessage); isRaw {
			if err := sess.conn.TrySend(raw); err != nil {
				log.Warn().Err(err).Str("module", "gateway").Str("to", string(ob.To)).Msg("send failed")
			}
			continue
		}
		g.sendJSON(sess.conn, ob.Payload)
	}
}

func (g *Gateway) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "gateway").Msg("send failed")
	}
}

// drop runs the disconnect path exactly once per connection.
func (g *Gateway) drop(sess *session) {
	sess.gone.Do(func() {
		g.mu.Lock()
		delete(g.sessions, sess.id)
		g.mu.Unlock()

		room := sess.room()
		sess.cancel()
		sess.conn.Close()
		log.Info().Str("module", "gateway").Str("participant", string(sess.id)).Str("room", string(room)).Msg("connection dropped")

		g.deliver(g.ctrl.Disconnect(sess.id, room))
	})
}

// Run drives the liveness probe until ctx is canceled. Each tick operates
// over a snapshot of current connections: whoever failed to answer the
// previous ping is terminated before the new round, then everyone else is
// pinged without holding the registry lock.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.pingRound()
		}
	}
}

func (g *Gateway) pingRound() {
	g.mu.RLock()
	snapshot := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		snapshot = append(snapshot, sess)
	}
	g.mu.RUnlock()

	var stale []*session
	for _, sess := range snapshot {
		sess.mu.Lock()
		alive := sess.alive
		sess.alive = false
		sess.mu.Unlock()
		if !alive {
			stale = append(stale, sess)
		}
	}
	for _, sess := range stale {
		log.Warn().Str("module", "gateway").Str("participant", string(sess.id)).Msg("liveness probe failed, terminating")
		g.drop(sess)
	}
	for _, sess := range snapshot {
		if sessStale(stale, sess) {
			continue
		}
		if err := sess.conn.Ping(); err != nil {
			log.Warn().Err(err).Str("module", "gateway").Str("participant", string(sess.id)).Msg("ping failed")
		}
	}
}

func sessStale(stale []*session, s *session) bool {
	for _, c := range stale {
		if c == s {
			return true
		}
	}
	return false
}
