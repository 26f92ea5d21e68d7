package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Clients only ever send a join frame
	maxFrameSize = 512
	joinTimeout  = 5 * time.Second
	sendBuffer   = 64
)

// RoleAdmin asks for the admin room in a join frame
const RoleAdmin = "admin"

// ErrJoinDenied is returned by an Authorizer for bad credentials
var ErrJoinDenied = errors.New("join denied")

var errBadJoin = errors.New(`first frame must be {"type":"join",...}`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxFrameSize,
	WriteBufferSize: 4096,
	// Rooms are granted by the join frame, not by the page origin
	CheckOrigin: func(*http.Request) bool { return true },
}

// JoinRequest is what a client sends to enter rooms. Teams give their
// credentials, dashboards ask for the admin role.
type JoinRequest struct {
	Type     string `json:"type"`
	TeamName string `json:"team_name,omitempty"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role,omitempty"`
	AdminKey string `json:"admin_key,omitempty"`
}

// Authorizer decides which rooms a join request may enter
type Authorizer interface {
	Authorize(ctx context.Context, join JoinRequest) ([]string, error)
}

// Client is one push connection. Before joining it only receives events
// addressed to everyone.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ServeWs upgrades the request and starts the connection's pumps
func ServeWs(hub *Hub, auth Authorizer, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
	}
	hub.Register(c)

	go c.writePump()
	go c.listen(auth)
}

// listen handles join frames until one succeeds, then only keeps the
// read deadline fresh until the peer goes away
func (c *Client) listen(auth Authorizer) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	joined := false
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "client_id", c.id, "error", err)
			}
			return
		}
		if joined {
			continue
		}

		rooms, err := c.join(auth, data)
		switch {
		case err == nil:
			joined = true
			c.reply(MessageTypeJoined, map[string][]string{"rooms": rooms})
		case errors.Is(err, ErrJoinDenied), errors.Is(err, errBadJoin):
			c.reply(MessageTypeError, map[string]string{"error": err.Error()})
		default:
			c.logger.Error("websocket join failed", "client_id", c.id, "error", err)
			c.reply(MessageTypeError, map[string]string{"error": "join failed"})
		}
	}
}

func (c *Client) join(auth Authorizer, data []byte) ([]string, error) {
	var req JoinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Type != MessageTypeJoin {
		return nil, errBadJoin
	}

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	rooms, err := auth.Authorize(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, room := range rooms {
		c.hub.Subscribe(c, room)
	}
	c.logger.Debug("websocket client joined", "client_id", c.id, "rooms", rooms)
	return rooms, nil
}

func (c *Client) reply(kind string, data any) {
	frame, _ := json.Marshal(Message{Type: kind, Data: data, Timestamp: time.Now()})
	select {
	case c.send <- frame:
	default:
	}
}

// writePump sends one frame per event and pings the peer
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
