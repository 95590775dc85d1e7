// Package client is the collaborator-facing side of the core: a websocket
// transport to the signaling server and a room client that drives the peer
// negotiation engine from incoming signaling.
package client

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	transportWriteWait = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 64 * 1024
)

// Transport manages the websocket connection to the signaling server.
// Incoming frames are delivered on a channel; the channel closes when the
// connection drops.
type Transport struct {
	serverURL string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	incoming chan []byte
	outgoing chan []byte
	done     chan struct{}
}

func NewTransport(serverURL string) *Transport {
	return &Transport{
		serverURL: serverURL,
		incoming:  make(chan []byte, 32),
		outgoing:  make(chan []byte, 32),
		done:      make(chan struct{}),
	}
}

// Connect dials the server and starts the read/write pumps.
func (t *Transport) Connect() error {
	u, err := url.Parse(t.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.readPump(conn)
	go t.writePump(conn)
	return nil
}

func (t *Transport) readPump(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		close(t.incoming)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "client").Msg("transport read closed")
			return
		}
		t.incoming <- data
	}
}

func (t *Transport) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-t.outgoing:
			conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues one frame for transmission.
func (t *Transport) Send(data []byte) {
	select {
	case t.outgoing <- data:
	default:
		log.Warn().Str("module", "client").Msg("transport send queue full, dropping")
	}
}

// Incoming returns the channel of inbound frames.
func (t *Transport) Incoming() <-chan []byte {
	return t.incoming
}

// Close shuts the connection down and stops the pumps. Idempotent.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
}
