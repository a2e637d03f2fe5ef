// Package suggestionhub fans suggestion events out to the SSE streams that
// are currently watching a user. The registry is a concurrent multi-map of
// userID -> live clients; publish, subscribe and heartbeat run concurrently
// from independent goroutines.
package suggestionhub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindtrack/mindtrack-go/internal/observability/metrics"
)

// Event names that make up the stream protocol.
const (
	EventHeartbeat   = "heartbeat"
	EventSuggestions = "suggestions"
)

// Event is one named frame queued for a client.
type Event struct {
	Name string
	ID   string // resumption id, may be empty
	Data any
}

// Client is one live output stream.
type Client struct {
	ID     string
	UserID uint

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events is the stream of frames for the owning connection handler.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the hub has discarded this client.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Config tunes the hub.
type Config struct {
	HeartbeatInterval time.Duration
	ClientBuffer      int
}

// Hub holds the per-user client registry.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[uint]map[string]*Client
}

// New creates a Hub. Logger and metrics may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 64
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		clients: make(map[uint]map[string]*Client),
	}
}

// Subscribe registers a new stream for the user and queues the initial
// heartbeat so the connection is probed immediately.
func (h *Hub) Subscribe(userID uint) *Client {
	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		events: make(chan Event, h.cfg.ClientBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[string]*Client)
		h.clients[userID] = set
	}
	set[client.ID] = client
	total := h.countLocked()
	h.mu.Unlock()

	// Fresh buffer, cannot fail.
	client.events <- Event{Name: EventHeartbeat, Data: heartbeatData(time.Now())}

	if h.metrics != nil {
		h.metrics.SSEClients.Set(float64(total))
	}
	h.logger.Debug("sse client subscribed",
		"client_id", client.ID, "user_id", userID, "total", total)
	return client
}

// Unsubscribe removes a client from the registry; the user key disappears
// with its last client. Safe to call more than once.
func (h *Hub) Unsubscribe(client *Client) {
	if client == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.clients[client.UserID]; ok {
		delete(set, client.ID)
		if len(set) == 0 {
			delete(h.clients, client.UserID)
		}
	}
	total := h.countLocked()
	h.mu.Unlock()

	client.close()

	if h.metrics != nil {
		h.metrics.SSEClients.Set(float64(total))
	}
	h.logger.Debug("sse client unsubscribed",
		"client_id", client.ID, "user_id", client.UserID, "total", total)
}

// Publish queues a suggestions event for every live stream of the user.
// Publishing to a user with no streams is a no-op. A client that cannot
// accept the event is discarded; delivery to its siblings is unaffected.
func (h *Hub) Publish(userID uint, payload any, eventID string) {
	for _, client := range h.snapshot(userID) {
		h.send(client, Event{Name: EventSuggestions, ID: eventID, Data: payload})
	}
	if h.metrics != nil {
		h.metrics.SSEEventsTotal.WithLabelValues(EventSuggestions).Inc()
	}
}

// Run emits periodic heartbeats to every registered stream until the
// context is cancelled, then tears all clients down.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case now := <-ticker.C:
			h.broadcastHeartbeat(now)
		}
	}
}

// broadcastHeartbeat keeps idle connections alive through proxies and
// flushes out clients whose connections have silently died.
func (h *Hub) broadcastHeartbeat(now time.Time) {
	h.mu.RLock()
	all := make([]*Client, 0, h.countLocked())
	for _, set := range h.clients {
		for _, client := range set {
			all = append(all, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range all {
		h.send(client, Event{Name: EventHeartbeat, Data: heartbeatData(now)})
	}
	if h.metrics != nil {
		h.metrics.SSEEventsTotal.WithLabelValues(EventHeartbeat).Inc()
	}
}

// send queues an event without blocking. A full buffer means the consumer
// stopped draining, so the client is treated as dead.
func (h *Hub) send(client *Client, ev Event) {
	select {
	case client.events <- ev:
	case <-client.done:
	default:
		h.logger.Debug("sse client buffer full, dropping client",
			"client_id", client.ID, "user_id", client.UserID)
		h.Unsubscribe(client)
	}
}

// snapshot copies the user's client set so publish can iterate without
// holding the lock against concurrent removals.
func (h *Hub) snapshot(userID uint) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for _, client := range set {
		out = append(out, client)
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.clients {
		for _, client := range set {
			all = append(all, client)
		}
	}
	h.clients = make(map[uint]map[string]*Client)
	h.mu.Unlock()

	for _, client := range all {
		client.close()
	}
}

// ClientCount returns the number of live streams across all users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

// UserCount returns the number of users with at least one live stream.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) countLocked() int {
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func heartbeatData(now time.Time) map[string]int64 {
	return map[string]int64{"ts": now.UnixMilli()}
}
