package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/imap"
	ws "github.com/vdavid/mailingest/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for new-mail pushes.
// One IDLE listener runs per folder while the folder has subscribers.
type WebSocketHandler struct {
	mail          imap.MailService
	hub           *ws.Hub
	defaultFolder string
	mu            sync.Mutex
	idleCancels   map[string]context.CancelFunc
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(mail imap.MailService, hub *ws.Hub, defaultFolder string) *WebSocketHandler {
	if defaultFolder == "" {
		defaultFolder = imap.DefaultFolder
	}
	return &WebSocketHandler{
		mail:          mail,
		hub:           hub,
		defaultFolder: defaultFolder,
		idleCancels:   make(map[string]context.CancelFunc),
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// For now, allow all origins. This server is expected to be used
		// behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and subscribes it to the
// folder given by the "folder" query parameter.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	folder := folderParam(r, h.defaultFolder)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("folder", folder).Msg("WebSocketHandler: Failed to upgrade connection")
		return
	}

	client := h.hub.Register(folder, conn)
	if client == nil {
		log.Warn().Str("folder", folder).Msg("WebSocketHandler: Connection rejected (max connections exceeded)")
		return
	}

	log.Debug().Str("folder", folder).Msg("WebSocketHandler: Connection established")

	h.ensureIdleListener(folder)

	// Read loop to keep the connection open and detect disconnects.
	go h.readLoop(folder, client)
}

// ensureIdleListener starts an IMAP IDLE listener for the folder if one is not already running.
func (h *WebSocketHandler) ensureIdleListener(folder string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.idleCancels[folder]; exists {
		return
	}

	log.Info().Str("folder", folder).Msg("WebSocketHandler: Starting IDLE listener")
	idleCtx, cancel := context.WithCancel(context.Background())
	h.idleCancels[folder] = cancel

	go func() {
		h.mail.StartIdleListener(idleCtx, folder, h.hub)

		// A listener that ended on its own is removed; a stopped one already was.
		h.mu.Lock()
		defer h.mu.Unlock()
		if idleCtx.Err() == nil {
			cancel()
			delete(h.idleCancels, folder)
		}
	}()
}

// stopIdleListener cancels the folder's IDLE listener unless the folder has
// subscribers again. The count is read under h.mu so a client registering in
// between keeps its listener.
func (h *WebSocketHandler) stopIdleListener(folder string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.hub.ActiveConnections(folder) > 0 {
		return
	}

	if cancel, exists := h.idleCancels[folder]; exists {
		log.Info().Str("folder", folder).Msg("WebSocketHandler: No subscribers left, stopping IDLE listener")
		cancel()
		delete(h.idleCancels, folder)
	}
}

// activeListeners returns how many IDLE listeners are running.
func (h *WebSocketHandler) activeListeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.idleCancels)
}

// readLoop reads messages from the WebSocket until the connection is closed,
// then unregisters the client and stops the folder's IDLE listener when no
// subscriber is left. The hub may already have dropped the client after a
// failed push.
func (h *WebSocketHandler) readLoop(folder string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(folder, client)
	h.stopIdleListener(folder)
}

// Close stops every IDLE listener.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for folder, cancel := range h.idleCancels {
		cancel()
		delete(h.idleCancels, folder)
	}
}
