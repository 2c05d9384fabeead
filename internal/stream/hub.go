// Package stream pushes fired alerts to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
)

// ErrHubStopped is returned by Notify once the hub's run loop has exited.
var ErrHubStopped = errors.New("alert stream hub stopped")

// Message is the frame written to subscribers.
type Message struct {
	Type    string       `json:"type"`
	Payload domain.Alert `json:"payload"`
}

type broadcast struct {
	subjectID string
	data      []byte
}

// Hub tracks websocket subscribers and fans alerts out to them. Subscribers may filter on a
// single subject.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *logrus.Logger
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{
				"remote":     client.remoteAddr,
				"subject_id": client.subjectID,
			}).Info("Alert stream subscriber connected")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.subjectID != "" && client.subjectID != msg.subjectID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					h.log.WithField("remote", client.remoteAddr).Warn("Alert stream subscriber too slow, dropping")
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.log.WithField("remote", client.remoteAddr).Info("Alert stream subscriber disconnected")
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts the alert to every subscriber interested in its subject.
func (h *Hub) Notify(ctx context.Context, alert domain.Alert) error {
	data, err := json.Marshal(Message{Type: "alert", Payload: alert})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcast{subjectID: alert.SubjectID, data: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
