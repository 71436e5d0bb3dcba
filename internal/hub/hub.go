package hub

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"qms/display-service/internal/queue"

	"github.com/rs/zerolog/log"
)

const MessageSnapshot = "queue.snapshot"

type Subscription struct {
	ServiceID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
	subscribed   bool
}

// Hub fans snapshots out to realtime clients and remembers the last one per
// service so new subscribers start from a full board.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	last    map[string][]byte
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	ServiceID string `json:"service_id"`
}

type Message struct {
	Type      string         `json:"type"`
	ServiceID string         `json:"service_id"`
	Snapshot  queue.Snapshot `json:"snapshot"`
	SentAt    time.Time      `json:"sent_at"`
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		last:    make(map[string][]byte),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// UpdateSubscription replaces a client's filter and replays the last
// snapshot of every service it now matches.
func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
	client.subscribed = true
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	serviceIDs := make([]string, 0, len(h.last))
	for serviceID := range h.last {
		serviceIDs = append(serviceIDs, serviceID)
	}
	sort.Strings(serviceIDs)
	for _, serviceID := range serviceIDs {
		if match(sub, serviceID) {
			send(client, h.last[serviceID])
		}
	}
}

// Unsubscribe stops all deliveries to client until it subscribes again.
func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = Subscription{}
	client.subscribed = false
}

// Publish implements the board's publisher. It never blocks: a client whose
// buffer is full misses the message.
func (h *Hub) Publish(serviceID string, snap queue.Snapshot) {
	payload, err := json.Marshal(Message{
		Type:      MessageSnapshot,
		ServiceID: serviceID,
		Snapshot:  snap,
		SentAt:    snap.GeneratedAt,
	})
	if err != nil {
		log.Error().Err(err).Str("service_id", serviceID).Msg("encode snapshot")
		return
	}
	h.mu.Lock()
	h.last[serviceID] = payload
	h.mu.Unlock()
	h.Broadcast(payload, serviceID)
}

func (h *Hub) Broadcast(payload []byte, serviceID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.subscribed || !match(client.Subscription, serviceID) {
			continue
		}
		send(client, payload)
	}
}

// Clients reports how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func send(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		log.Warn().Str("client_id", client.ID).Msg("drop message for slow client")
	}
}

func match(sub Subscription, serviceID string) bool {
	return sub.ServiceID == "" || sub.ServiceID == serviceID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
