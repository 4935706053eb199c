// Package dashboard pushes sync activity to a user's connected devices over
// WebSocket.
//
// When a batch from one device commits, every open connection of the same
// user receives an operation_applied message per operation and one
// batch_complete message, so the other devices know to pull the delta.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	expsync "github.com/ledgersync/expsync/internal/sync"
)

// MessageType defines the type of hub message
type MessageType string

const (
	// MessageTypeConnected is sent once when a connection is accepted
	MessageTypeConnected MessageType = "connected"

	// MessageTypeOperationApplied indicates one sync operation was committed
	MessageTypeOperationApplied MessageType = "operation_applied"

	// MessageTypeBatchComplete indicates a whole batch was reconciled
	MessageTypeBatchComplete MessageType = "batch_complete"
)

// Message is the envelope written to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ConnectedData is the payload of a connected message.
type ConnectedData struct {
	UserID string `json:"userId"`
}

// BatchCompleteData is the payload of a batch_complete message.
type BatchCompleteData struct {
	UserID  string          `json:"userId"`
	Summary expsync.Summary `json:"summary"`
}

type delivery struct {
	userID string
	msg    Message
}

// Hub tracks WebSocket connections per user and fans messages out to them.
// It implements sync.Observer.
type Hub struct {
	clients   map[string]map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	outbox chan delivery

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	originPatterns []string
	writeTimeout   time.Duration
	logger         *log.Logger
}

// Config holds hub configuration
type Config struct {
	// BufferSize is the number of undelivered messages held before new ones
	// are dropped (default: 100)
	BufferSize int

	// OriginPatterns are passed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string

	// WriteTimeout bounds each client write (default: 5s)
	WriteTimeout time.Duration

	// Logger for hub activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BufferSize:   100,
		WriteTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewHub creates a hub. Call Start before serving connections.
func NewHub(config *Config) *Hub {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:        make(map[string]map[*websocket.Conn]struct{}),
		outbox:         make(chan delivery, config.BufferSize),
		ctx:            ctx,
		cancel:         cancel,
		originPatterns: config.OriginPatterns,
		writeTimeout:   config.WriteTimeout,
		logger:         config.Logger,
	}
}

// Start launches the delivery loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.deliveryLoop()
}

// Stop closes every connection and waits for the hub's goroutines to exit.
func (h *Hub) Stop() {
	h.logger.Println("Stopping dashboard hub")
	h.cancel()

	h.clientsMu.Lock()
	for userID, conns := range h.clients {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		}
		delete(h.clients, userID)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
	h.logger.Println("Dashboard hub stopped")
}

// Send queues msg for every connection of userID. When the queue is full the
// message is dropped with a warning.
func (h *Hub) Send(userID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	select {
	case <-h.ctx.Done():
	case h.outbox <- delivery{userID: userID, msg: msg}:
	default:
		h.logger.Printf("WARNING: outbox full, dropping %s message for user %s", msg.Type, userID)
	}
}

// OnOperationApplied implements sync.Observer.
func (h *Hub) OnOperationApplied(_ context.Context, ev expsync.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}
	h.Send(ev.UserID, Message{Type: MessageTypeOperationApplied, Timestamp: ev.Timestamp, Data: data})
}

// OnBatchComplete implements sync.Observer.
func (h *Hub) OnBatchComplete(_ context.Context, userID string, summary expsync.Summary) {
	data, err := json.Marshal(BatchCompleteData{UserID: userID, Summary: summary})
	if err != nil {
		h.logger.Printf("Failed to marshal batch summary: %v", err)
		return
	}
	h.Send(userID, Message{Type: MessageTypeBatchComplete, Data: data})
}

// ServeWS upgrades the request and streams userID's messages until the
// client disconnects or the hub stops. It blocks for the connection's
// lifetime.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	if h.ctx.Err() != nil {
		http.Error(w, "hub is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	count, ok := h.addClient(userID, conn)
	if !ok {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		return
	}
	defer h.wg.Done()
	h.logger.Printf("Client connected for user %s (total: %d)", userID, count)

	hello, _ := json.Marshal(ConnectedData{UserID: userID})
	if err := h.write(conn, Message{Type: MessageTypeConnected, Timestamp: time.Now().UTC(), Data: hello}); err != nil {
		h.removeClient(userID, conn)
		return
	}

	h.readLoop(userID, conn)
}

// ClientCount returns the number of open connections for userID.
func (h *Hub) ClientCount(userID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) deliveryLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case d := <-h.outbox:
			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients[d.userID]))
			for conn := range h.clients[d.userID] {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range conns {
				if err := h.write(conn, d.msg); err != nil {
					h.logger.Printf("Failed to send to client of user %s: %v", d.userID, err)
					h.removeClient(d.userID, conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(h.ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop discards client frames; it returns when the connection drops.
func (h *Hub) readLoop(userID string, conn *websocket.Conn) {
	defer h.removeClient(userID, conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

// addClient registers conn and counts it in the wait group. It refuses once
// Stop has begun: Stop cancels before taking clientsMu, so every Add made
// under the lock happens before Stop's Wait.
func (h *Hub) addClient(userID string, conn *websocket.Conn) (int, bool) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if h.ctx.Err() != nil {
		return 0, false
	}
	h.wg.Add(1)

	conns, ok := h.clients[userID]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		h.clients[userID] = conns
	}
	conns[conn] = struct{}{}
	return len(conns), true
}

func (h *Hub) removeClient(userID string, conn *websocket.Conn) {
	h.clientsMu.Lock()
	conns := h.clients[userID]
	if _, exists := conns[conn]; !exists {
		h.clientsMu.Unlock()
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
	remaining := len(conns)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Printf("Client disconnected for user %s (remaining: %d)", userID, remaining)
}
