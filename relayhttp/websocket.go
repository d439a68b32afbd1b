package relayhttp

import (
	"net/http"
	"sync"

	"github.com/btcsuite/btcrelay/relay"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	// relayTopic is the sole topic clients can watch.
	relayTopic = "relay"

	// Client message types.
	msgTypeAuth    = "auth"
	msgTypeWatch   = "watch"
	msgTypeUnwatch = "unwatch"

	// eventTypeSatisfied is the type tag of pushed satisfied events.
	eventTypeSatisfied = "relay requests satisfied"
)

// wsRequest is a client-to-server websocket frame.
type wsRequest struct {
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// wsAck is the server's reply to a client frame.
type wsAck struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	// The API key is the access control; cross-origin browser clients
	// are allowed to present it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn serializes writes to a websocket connection between the read loop
// acking client frames and the pump pushing events.
type wsConn struct {
	sync.Mutex
	*websocket.Conn
}

// writeJSON writes a frame while holding the write lock.
func (c *wsConn) writeJSON(v interface{}) error {
	c.Lock()
	defer c.Unlock()

	return c.Conn.WriteJSON(v)
}

// writeAck sends the server's reply to a client frame. An empty errStr acks
// success.
func (c *wsConn) writeAck(msgType, errStr string) error {
	return c.writeJSON(wsAck{
		Type:  msgType,
		OK:    errStr == "",
		Error: errStr,
	})
}

// handleWebsocket serves GET /ws. A client authenticates, watches the relay
// topic, and then receives one frame per satisfying transaction until it
// unwatches or disconnects.
func (s *Server) handleWebsocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	go s.serveWebsocket(&wsConn{Conn: conn})

	return nil
}

// serveWebsocket runs the read loop of a single websocket client.
//
// NOTE: MUST be run as a goroutine.
func (s *Server) serveWebsocket(conn *wsConn) {
	defer conn.Close()

	// Auth is implicit when no key is configured.
	authed := s.cfg.APIKey == ""

	var client *relay.EventClient
	defer func() {
		if client != nil {
			client.Cancel()
		}
	}()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case msgTypeAuth:
			authed = s.cfg.APIKey == "" || s.checkKey(req.Key)
			if !authed {
				conn.writeAck(msgTypeAuth, "bad key")
				return
			}
			if err := conn.writeAck(msgTypeAuth, ""); err != nil {
				return
			}

		case msgTypeWatch:
			switch {
			case !authed:
				conn.writeAck(msgTypeWatch, "auth required")
				return

			case req.Topic != relayTopic:
				err := conn.writeAck(msgTypeWatch,
					"unknown topic")
				if err != nil {
					return
				}
				continue

			case client != nil:
				// Already watching.
				err := conn.writeAck(msgTypeWatch, "")
				if err != nil {
					return
				}
				continue
			}

			var err error
			client, err = s.cfg.Relay.Events().Subscribe()
			if err != nil {
				conn.writeAck(msgTypeWatch, err.Error())
				return
			}

			go pumpEvents(conn, client)

			if err := conn.writeAck(msgTypeWatch, ""); err != nil {
				return
			}

		case msgTypeUnwatch:
			if client != nil && req.Topic == relayTopic {
				client.Cancel()
				client = nil
			}
			if err := conn.writeAck(msgTypeUnwatch, ""); err != nil {
				return
			}

		default:
			err := conn.writeAck(req.Type, "unknown type")
			if err != nil {
				return
			}
		}
	}
}

// pumpEvents forwards satisfied events from a subscription to the websocket
// until the subscription is cancelled.
//
// NOTE: MUST be run as a goroutine.
func pumpEvents(conn *wsConn, client *relay.EventClient) {
	for {
		select {
		case update, ok := <-client.Updates():
			if !ok {
				return
			}

			event, ok := update.(*relay.SatisfiedEvent)
			if !ok {
				continue
			}

			if err := conn.writeJSON(marshalEvent(event)); err != nil {
				client.Cancel()
				return
			}

		case <-client.Quit():
			return
		}
	}
}
