package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy is enforced upstream; the service itself serves
	// first-party clients only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeMessage is what a client sends to start or change a deposit watch.
type subscribeMessage struct {
	Action       string `json:"action"` // "subscribe" | "unsubscribe"
	Currency     string `json:"currency"`
	Chain        string `json:"chain"`
	Address      string `json:"address"`
	ContractType string `json:"contract_type"`
}

// ack is the hub's reply to a client action.
type ack struct {
	Type    string `json:"type"` // "subscribed", "unsubscribed", "error"
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client is one connected websocket session.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	sessionKey string
	send       chan []byte
}

// ServeWS upgrades an HTTP request to a websocket session. The session key is
// the authenticated user id, resolved by the caller.
func ServeWS(hub *Hub, sessionKey string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "sessionKey", sessionKey, "error", err)
		return
	}

	c := &Client{
		hub:        hub,
		conn:       conn,
		sessionKey: sessionKey,
		send:       make(chan []byte, config.WSSendBuffer),
	}
	hub.register(c)

	go c.writePump()
	go c.readPump()
}

// readPump reads client messages until the connection drops, dispatching
// subscribe/unsubscribe actions to the session manager.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(config.WSMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "sessionKey", c.sessionKey, "error", err)
			}
			return
		}

		var msg subscribeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(ack{Type: "error", Code: config.ErrorInvalidChain, Message: "malformed message"})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.handleSubscribe(msg)
		case "unsubscribe":
			c.hub.sessions.Release(c.sessionKey)
			c.reply(ack{Type: "unsubscribed"})
		default:
			c.reply(ack{Type: "error", Message: "unknown action " + msg.Action})
		}
	}
}

func (c *Client) handleSubscribe(msg subscribeMessage) {
	params := models.MonitorParams{
		Chain:        models.Chain(msg.Chain),
		Currency:     msg.Currency,
		Address:      msg.Address,
		ContractType: models.ContractType(msg.ContractType),
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ProviderRequestTimeout)
	defer cancel()

	if _, err := c.hub.sessions.Acquire(ctx, c.sessionKey, params); err != nil {
		c.reply(ack{Type: "error", Code: errorCode(err), Message: err.Error()})
		slog.Warn("subscription rejected",
			"sessionKey", c.sessionKey,
			"chain", msg.Chain,
			"currency", msg.Currency,
			"error", err,
		)
		return
	}

	c.reply(ack{Type: "subscribed"})
}

// writePump pushes broadcast frames and keepalive pings to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) reply(a ack) {
	frame, err := json.Marshal(a)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// errorCode maps a registry error to a client-facing error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, config.ErrInvalidChain):
		return config.ErrorInvalidChain
	case errors.Is(err, config.ErrInvalidAddress):
		return config.ErrorInvalidAddress
	case errors.Is(err, config.ErrMissingCurrency):
		return config.ErrorMissingCurrency
	case errors.Is(err, config.ErrWalletNotFound):
		return config.ErrorWalletNotFound
	case errors.Is(err, config.ErrProviderUnavailable), errors.Is(err, config.ErrAllProvidersFailed):
		return config.ErrorProviderUnavailable
	case errors.Is(err, config.ErrProviderRateLimit):
		return config.ErrorProviderRateLimit
	default:
		return config.ErrorMonitorFailed
	}
}
