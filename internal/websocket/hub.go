package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// writeWait bounds a single push to one subscriber.
const writeWait = 5 * time.Second

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	// mu serializes writes; gorilla connections allow one concurrent writer.
	mu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages the WebSocket subscribers of each watched folder.
// A folder can have several subscribers (e.g., multiple tabs).
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]map[*Client]struct{} // folder -> set of clients
	maxPerFolder int
}

// NewHub creates a new Hub with a per-folder connection limit.
func NewHub(maxPerFolder int) *Hub {
	if maxPerFolder <= 0 {
		maxPerFolder = 10
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		maxPerFolder: maxPerFolder,
	}
}

// Register subscribes a WebSocket connection to the given folder.
// If the per-folder limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(folder string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	folderClients, ok := h.clients[folder]
	if !ok {
		folderClients = make(map[*Client]struct{})
		h.clients[folder] = folderClients
	}

	if len(folderClients) >= h.maxPerFolder {
		log.Warn().Str("folder", folder).Int("max", h.maxPerFolder).Msg("websocket: too many subscribers, closing new connection")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this folder"),
			// Zero deadline: best effort.
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	folderClients[client] = struct{}{}
	return client
}

// Unregister removes a client from the folder and closes the connection.
// It reports whether that was the folder's last subscriber.
func (h *Hub) Unregister(folder string, client *Client) bool {
	if client == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	defer func() {
		_ = client.conn.Close()
	}()

	folderClients, ok := h.clients[folder]
	if !ok {
		return false
	}
	if _, subscribed := folderClients[client]; !subscribed {
		return false
	}

	delete(folderClients, client)
	if len(folderClients) == 0 {
		delete(h.clients, folder)
		return true
	}
	return false
}

// Send broadcasts a message to every subscriber of the folder.
func (h *Hub) Send(folder string, msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[folder]))
	for client := range h.clients[folder] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(msg); err != nil {
			log.Warn().Err(err).Str("folder", folder).Msg("websocket: failed to write message")
			// Unregister closes the connection, which ends the owner's read loop.
			go h.Unregister(folder, client)
		}
	}
}

// ActiveConnections returns the number of subscribers of a folder.
func (h *Hub) ActiveConnections(folder string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[folder])
}

// Folders returns the folders that currently have subscribers.
func (h *Hub) Folders() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	folders := make([]string, 0, len(h.clients))
	for folder := range h.clients {
		folders = append(folders, folder)
	}
	return folders
}
