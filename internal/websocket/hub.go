package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/photo-hunt/internal/domain"
)

// Frame types of the join handshake. Event frames use the event name.
const (
	MessageTypeJoin   = "join"
	MessageTypeJoined = "joined"
	MessageTypeError  = "error"
)

// ChannelAdmin is the room for review and game control events
const ChannelAdmin = "admin"

const teamChannelPrefix = "team:"

// ErrBroadcastFull is returned when the hub cannot keep up
var ErrBroadcastFull = errors.New("broadcast queue full")

// TeamChannel names the room for one team
func TeamChannel(teamID string) string {
	return teamChannelPrefix + teamID
}

// Message is the frame pushed to clients. Type carries the event name for
// domain events.
type Message struct {
	Type      string    `json:"type"`
	TeamID    string    `json:"team_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// outbound is a message with the rooms it goes to. No rooms means every
// connected client.
type outbound struct {
	message  *Message
	channels []string
}

// Hub maintains the set of active clients and routes events to rooms
type Hub struct {
	// Clients by room
	rooms map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	subscribe  chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client  *Client
	channel string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		allClients: make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
		subscribe:  make(chan *subscriptionRequest, 64),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for channel, clients := range h.rooms {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.rooms, channel)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.rooms[req.channel]; !ok {
					h.rooms[req.channel] = make(map[*Client]bool)
				}
				h.rooms[req.channel][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client joined room", "client_id", req.client.id, "channel", req.channel)

		case out := <-h.broadcast:
			h.deliver(out)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// deliver sends a message once to each client in any of its rooms
func (h *Hub) deliver(out outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(out.message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	recipients := h.allClients
	if len(out.channels) > 0 {
		recipients = make(map[*Client]bool)
		for _, channel := range out.channels {
			for client := range h.rooms[channel] {
				recipients[client] = true
			}
		}
	}

	for client := range recipients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// Publish routes a domain event to the rooms its audience names
func (h *Hub) Publish(_ context.Context, event domain.Event) error {
	out := outbound{
		message: &Message{
			Type:      event.Name,
			TeamID:    event.TeamID,
			Data:      event.Payload,
			Timestamp: event.Timestamp,
		},
		channels: audienceChannels(event),
	}

	select {
	case h.broadcast <- out:
		return nil
	default:
		return ErrBroadcastFull
	}
}

func audienceChannels(event domain.Event) []string {
	switch event.Audience {
	case domain.AudienceAdmin:
		return []string{ChannelAdmin}
	case domain.AudienceTeam:
		return []string{TeamChannel(event.TeamID)}
	case domain.AudienceTeamAndAdmin:
		return []string{TeamChannel(event.TeamID), ChannelAdmin}
	default:
		return nil
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a room
func (h *Hub) Subscribe(client *Client, channel string) {
	h.subscribe <- &subscriptionRequest{client: client, channel: channel}
}

// SubscriberCount returns the number of clients in a room
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channel])
}

// TotalConnections returns the number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
