package hub

import (
	"sync"

	"github.com/yanun0323/logs"

	"tradepulse/pkg/exception"
)

// DefaultQueueCapacity bounds each client's delivery queue.
const DefaultQueueCapacity = 256

type client struct {
	id    string
	queue *DeliveryQueue
}

// Hub is the subscription router. It owns every client's symbol interest
// set and fans normalized tick frames out to interested clients only.
// Publish pushes into per-client bounded drop-oldest queues and therefore
// never blocks on a slow client. Per-client FIFO holds as long as Publish
// calls for one symbol come from a single dispatch goroutine, which is how
// the pipeline wires it.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*client
	subscribers map[string]map[string]*client
	clientSubs  map[string]map[string]struct{}
	capacity    int
	closed      bool
}

func New(queueCapacity int) *Hub {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Hub{
		clients:     make(map[string]*client),
		subscribers: make(map[string]map[string]*client),
		clientSubs:  make(map[string]map[string]struct{}),
		capacity:    queueCapacity,
	}
}

// Register creates the client's empty subscription and returns its delivery
// queue. Registering an existing client returns the existing queue. A closed
// hub accepts no new clients.
func (h *Hub) Register(clientID string) (*DeliveryQueue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, exception.ErrHubClosed
	}
	return h.ensureLocked(clientID).queue, nil
}

func (h *Hub) ensureLocked(clientID string) *client {
	if c, ok := h.clients[clientID]; ok {
		return c
	}
	c := &client{
		id:    clientID,
		queue: NewDeliveryQueue(h.capacity, OverflowDropOldest),
	}
	h.clients[clientID] = c
	h.clientSubs[clientID] = make(map[string]struct{})
	return c
}

// Subscribe adds symbols to the client's interest set. Idempotent; an
// unknown client gets an empty subscription created first.
func (h *Hub) Subscribe(clientID string, symbols []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	c := h.ensureLocked(clientID)
	for _, symbol := range symbols {
		if symbol == "" {
			continue
		}
		if _, ok := h.clientSubs[clientID][symbol]; ok {
			continue
		}
		h.clientSubs[clientID][symbol] = struct{}{}
		if h.subscribers[symbol] == nil {
			h.subscribers[symbol] = make(map[string]*client)
		}
		h.subscribers[symbol][clientID] = c
	}
}

// Unsubscribe removes symbols from the client's interest set. Idempotent.
func (h *Hub) Unsubscribe(clientID string, symbols []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clientSubs[clientID]
	if !ok {
		return
	}
	for _, symbol := range symbols {
		if _, ok := subs[symbol]; !ok {
			continue
		}
		delete(subs, symbol)
		delete(h.subscribers[symbol], clientID)
		if len(h.subscribers[symbol]) == 0 {
			delete(h.subscribers, symbol)
		}
	}
}

// Disconnect removes the client's subscription and releases its queue.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		for symbol := range h.clientSubs[clientID] {
			delete(h.subscribers[symbol], clientID)
			if len(h.subscribers[symbol]) == 0 {
				delete(h.subscribers, symbol)
			}
		}
		delete(h.clientSubs, clientID)
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		if dropped := c.queue.Dropped(); dropped > 0 {
			logs.Infof("client %s disconnected, %d ticks were dropped by backpressure", clientID, dropped)
		}
		c.queue.Close()
	}
}

// Publish delivers one encoded tick frame to every client subscribed to
// the symbol. The payload is shared read-only across clients.
func (h *Hub) Publish(symbol string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.subscribers[symbol] {
		c.queue.Push(payload)
	}
}

// Broadcast delivers a control frame to every connected client.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.queue.Push(payload)
	}
}

// Symbols returns a copy of the client's interest set.
func (h *Hub) Symbols(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.clientSubs[clientID]
	out := make([]string, 0, len(subs))
	for symbol := range subs {
		out = append(out, symbol)
	}
	return out
}

// SubscriberCount returns how many clients are subscribed to a symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[symbol])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedDeliveries sums backpressure drops across connected clients.
func (h *Hub) DroppedDeliveries() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var total uint64
	for _, c := range h.clients {
		total += c.queue.Dropped()
	}
	return total
}

// Close disconnects every client and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.subscribers = make(map[string]map[string]*client)
	h.clientSubs = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.queue.Close()
	}
}
