package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/NxTech4021/dl-backend-sub004/realtime"
)

type WebSocketHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler строит обработчик подписок. allowedOrigins задаёт
// браузерные Origin, которым разрешён апгрейд; пустой список открывает
// доступ всем (режим разработки).
func NewWebSocketHandler(hub *realtime.Hub, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
		logger: logger,
	}
}

// originAllowed allows requests without an Origin header (non-browser
// clients) and exact matches against the configured list. "*" opens the
// endpoint up entirely.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// ServeWs subscribes the caller to one room: /ws/{scopeType}/{scopeID},
// где scopeType это division, season или match.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	scopeType := chi.URLParam(r, "scopeType")
	switch scopeType {
	case "division", "season", "match":
	default:
		http.Error(w, fmt.Sprintf("unknown scope type %q", scopeType), http.StatusBadRequest)
		return
	}
	scopeID := chi.URLParam(r, "scopeID")
	if scopeID == "" {
		http.Error(w, "missing scope id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	room := scopeType + ":" + scopeID
	h.hub.NewClient(conn, room)
	h.logger.Debug("websocket subscriber connected", "room", room)
}
