package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ipimonitor/ipi-api/internal/middleware"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/selection"
	"github.com/ipimonitor/ipi-api/internal/service"
	"github.com/ipimonitor/ipi-api/internal/ws"
)

// WSHandler handles live-view WebSocket connections
type WSHandler struct {
	hub                *ws.Hub
	authService        *service.AuthService
	measurementService *service.MeasurementService
	selections         selection.Store
	upgrader           websocket.Upgrader
}

func NewWSHandler(
	hub *ws.Hub,
	authService *service.AuthService,
	measurementService *service.MeasurementService,
	selections selection.Store,
	origins []string,
) *WSHandler {
	return &WSHandler{
		hub:                hub,
		authService:        authService,
		measurementService: measurementService,
		selections:         selections,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

// originChecker allows the configured CORS origins; "*" or none allows any
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(allowed) == 0 || origin == "" || allowed[origin]
	}
}

// HandleWebSocket upgrades an authenticated request to a live view.
// Browsers connect with the session cookie: ws://host/ws/live
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	claims := middleware.Claims(c)

	// Upgrade HTTP to WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, claims.SessionID, claims.AuthUser)
	if !h.hub.Register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	// The request context ends with the handler; the view lives as long as the connection
	view := ws.NewLiveView(context.Background(), ws.LiveConfig{
		Client:       state.Client(),
		Selection:    state.Selection(h.selections),
		Selections:   h.selections,
		AuthUser:     claims.AuthUser,
		UserID:       profile.UserID,
		Location:     h.measurementService.Location(),
		DefaultLimit: h.measurementService.DefaultLimit(),
	}, client)

	log.Printf("✅ Live view opened: session %s user %d", claims.SessionID, profile.UserID)

	go client.WritePump()
	go func() {
		defer view.Close()
		client.ReadPump(func(_ *ws.Client, cmd model.WSCommand) {
			view.Handle(cmd)
		})
	}()
}
