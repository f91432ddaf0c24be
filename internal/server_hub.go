package internal

import (
	"log"
	"sync"
)

// broadcastEnvelope pairs a payload with its originating client so fan-out
// can skip the sender. A nil sender reaches every registered connection.
type broadcastEnvelope struct {
	sender  *Client
	payload []byte
}

// Hub is the connection registry and broadcast core. A single run goroutine
// owns all membership changes and fan-out, so individual sends never race
// with registration; per-client buffered send channels keep a slow peer from
// stalling delivery to everyone else.
type Hub struct {
	mutex      sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastEnvelope
	metrics    *Metrics
}

func NewHub(metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastEnvelope, 256),
		metrics:    metrics,
	}
}

// Count returns the number of currently registered connections.
func (hub *Hub) Count() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients)
}

// IDs returns the ids of all registered connections, in no particular order.
func (hub *Hub) IDs() []string {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	ids := make([]string, 0, len(hub.clients))
	for client := range hub.clients {
		ids = append(ids, client.id)
	}
	return ids
}

// Broadcast queues a payload for delivery to every connection except sender.
// Pass a nil sender to reach everyone.
func (hub *Hub) Broadcast(sender *Client, payload []byte) {
	hub.broadcast <- broadcastEnvelope{sender: sender, payload: payload}
}

func (hub *Hub) run() {
	for {
		select {
		case client := <-hub.register:
			hub.mutex.Lock()
			hub.clients[client] = true
			count := len(hub.clients)
			hub.mutex.Unlock()
			hub.metrics.IncConn()
			log.Printf("client %s connected from %s (%d online)", client.id, client.remote, count)
			hub.announceCount()

		case client := <-hub.unregister:
			// idempotent: a disconnect may race with a slow-client drop,
			// whichever arrives second must be a no-op.
			hub.mutex.Lock()
			_, exists := hub.clients[client]
			if exists {
				delete(hub.clients, client)
				close(client.send)
			}
			count := len(hub.clients)
			hub.mutex.Unlock()
			if exists {
				hub.metrics.DecConn()
				log.Printf("client %s disconnected (%d online)", client.id, count)
				hub.announceCount()
			}

		case envelope := <-hub.broadcast:
			if hub.fanOut(envelope.sender, envelope.payload) > 0 {
				hub.announceCount()
			}
		}
	}
}

// fanOut delivers payload to every registered client except sender. A client
// whose send buffer is full cannot keep up; it is dropped on the spot so the
// remaining deliveries are not delayed. Returns how many clients were
// dropped.
func (hub *Hub) fanOut(sender *Client, payload []byte) int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	dropped := 0
	for client := range hub.clients {
		if client == sender {
			continue
		}
		select {
		case client.send <- payload:
		default:
			delete(hub.clients, client)
			close(client.send)
			dropped++
			hub.metrics.DecConn()
			hub.metrics.IncDropped()
			log.Printf("client %s dropped: send buffer full", client.id)
		}
	}
	return dropped
}

// announceCount pushes the live connection count to everyone still
// registered. Dropping a client here changes the count again, so it loops
// until a full fan-out succeeds.
func (hub *Hub) announceCount() {
	for {
		payload := mustMarshal(OnlineCountMessage{Type: TypeOnlineCount, Count: hub.Count()})
		if hub.fanOut(nil, payload) == 0 {
			return
		}
	}
}
