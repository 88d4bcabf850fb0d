package api

import (
	"fmt"
	"net/http"

	"github.com/vdavid/mailingest/internal/imap"
	ws "github.com/vdavid/mailingest/internal/websocket"
)

// RouterConfig holds the defaults the handlers fall back to.
type RouterConfig struct {
	Folder string
	Limit  int
	// Banner is the plain-text body of GET /.
	Banner string
}

// Router is the HTTP surface of the service. Close stops the IDLE listeners
// started for WebSocket subscribers.
type Router struct {
	http.Handler
	ws *WebSocketHandler
}

// NewRouter wires the handlers onto a mux. store may be nil, which disables
// the stored-email endpoints.
func NewRouter(mail imap.MailService, store EmailStore, hub *ws.Hub, cfg RouterConfig) *Router {
	if cfg.Banner == "" {
		cfg.Banner = "mailingest API is running"
	}

	emailsHandler := NewEmailsHandler(mail, store, cfg.Folder, cfg.Limit)
	foldersHandler := NewFoldersHandler(mail)
	wsHandler := NewWebSocketHandler(mail, hub, cfg.Folder)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprint(w, cfg.Banner)
	})

	mux.HandleFunc("GET /api/v1/emails", emailsHandler.GetEmails)
	mux.HandleFunc("GET /api/v1/emails/stored", emailsHandler.GetStoredEmails)
	mux.HandleFunc("GET /api/v1/emails/stored/{uid}", emailsHandler.GetStoredEmail)
	mux.HandleFunc("GET /api/v1/folders", foldersHandler.GetFolders)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.Handle)

	return &Router{Handler: mux, ws: wsHandler}
}

// Close stops every IDLE listener.
func (r *Router) Close() {
	r.ws.Close()
}
