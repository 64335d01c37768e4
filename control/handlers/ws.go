package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
)

const (
	// Maximum number of buffered messages per client.
	wsClientBufferSize = 256
	// Maximum number of messages retained for reconnecting clients.
	wsHistorySize = 1000
	// Ping interval for keepalive.
	wsPingInterval = 30 * time.Second
	// Write deadline after which a slow client is dropped.
	wsWriteTimeout = 10 * time.Second
	// Read deadline, refreshed on every pong.
	wsPongTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: validate the Origin header against allowed hosts before
	// exposing this beyond localhost.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TaskBroadcaster mirrors the task update firehose onto WebSocket clients.
// Each message is one marshaled taskEvent; a bounded history is retained
// and replayed to connecting clients.
type TaskBroadcaster struct {
	store  *state.Store
	logger *log.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	history [][]byte
}

// wsClient represents a single WebSocket connection.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	closed bool
	mu     sync.Mutex
}

// NewTaskBroadcaster creates a broadcaster over the task state store. Call
// Run to start the feed.
func NewTaskBroadcaster(store *state.Store, logger *log.Logger) *TaskBroadcaster {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &TaskBroadcaster{
		store:   store,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		history: make([][]byte, 0, wsHistorySize),
	}
}

// Run follows the task firehose and broadcasts every update until ctx is
// cancelled.
func (tb *TaskBroadcaster) Run(ctx context.Context) {
	updates, cancel := tb.store.SubscribeAll()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			entry, ok := resolveEntry(tb.store, u)
			if !ok {
				continue
			}
			data, err := json.Marshal(taskEvent{TaskID: u.TaskID, StatusEntry: entry})
			if err != nil {
				tb.logger.Warn("marshaling task update failed", "task_id", u.TaskID, "error", err)
				continue
			}
			tb.broadcast(data)
		}
	}
}

// broadcast appends to history, evicting the oldest message at capacity,
// then fans the message out to every connected client.
func (tb *TaskBroadcaster) broadcast(data []byte) {
	tb.mu.Lock()
	if len(tb.history) >= wsHistorySize {
		tb.history = tb.history[1:]
	}
	tb.history = append(tb.history, data)
	for client := range tb.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, drop message (slow consumer).
		}
	}
	tb.mu.Unlock()
}

// History returns the buffered messages for reconnecting clients.
func (tb *TaskBroadcaster) History() [][]byte {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	result := make([][]byte, len(tb.history))
	copy(result, tb.history)
	return result
}

// ClientCount returns the number of connected WebSocket clients.
func (tb *TaskBroadcaster) ClientCount() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return len(tb.clients)
}

func (tb *TaskBroadcaster) addClient(client *wsClient) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.clients[client] = struct{}{}
}

func (tb *TaskBroadcaster) removeClient(client *wsClient) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.clients, client)
}

// TaskUpdates handles GET /api/prgs/ws - upgrade to WebSocket and stream
// task updates.
func (h *Handlers) TaskUpdates(w http.ResponseWriter, r *http.Request) {
	h.tasks.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades an HTTP connection to WebSocket and manages it.
func (tb *TaskBroadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		tb.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsClientBufferSize),
	}

	// History is written directly to the connection rather than queued into
	// the send channel: the channel buffer is sized for live throughput,
	// not for the full history. Replay happens BEFORE the client joins the
	// broadcast map so live messages cannot interleave with it.
	for _, data := range tb.History() {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			return
		}
	}

	tb.addClient(client)

	go tb.writePump(client)
	go tb.readPump(client)
}

// writePump pumps messages from the send channel to the connection, one
// text frame per message.
func (tb *TaskBroadcaster) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		tb.closeClient(client)
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			// Drain queued messages, each as a separate frame.
			n := len(client.send)
			for i := 0; i < n; i++ {
				if err := client.conn.WriteMessage(websocket.TextMessage, <-client.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the connection to detect disconnects.
func (tb *TaskBroadcaster) readPump(client *wsClient) {
	defer tb.closeClient(client)
	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				tb.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			break
		}
	}
}

// closeClient tears a client down. Removing it from the broadcast map
// before closing the channel guarantees broadcast can never send on a
// closed channel; the client.mu guard makes the close idempotent, as both
// pumps call in here.
func (tb *TaskBroadcaster) closeClient(client *wsClient) {
	tb.removeClient(client)

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		client.closed = true
		close(client.send)
		client.conn.Close()
	}
}
