package ws

import (
	"context"
	"net/http"
	"net/url"

	"github.com/HerbHall/pulsechat/internal/server"
	"github.com/HerbHall/pulsechat/internal/session"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler serves the presence socket at GET /ws.
type Handler struct {
	hub        *Hub
	tokens     *session.TokenService
	cookieName string
	origins    []string
	logger     *zap.Logger
}

var _ server.SimpleRouteRegistrar = (*Handler)(nil)

// NewHandler creates the socket handler. allowedOrigins is the same list
// the CORS middleware uses.
func NewHandler(hub *Hub, tokens *session.TokenService, cookieName string, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		hub:        hub,
		tokens:     tokens,
		cookieName: cookieName,
		origins:    originPatterns(allowedOrigins),
		logger:     logger,
	}
}

// RegisterRoutes registers the socket endpoint on the operational mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleConnect)
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	// Browsers send cookies on the upgrade request, so the session cookie
	// identifies the user.
	claims, err := session.FromRequest(h.tokens, h.cookieName, r)
	if err != nil {
		server.Unauthorized(w, "no valid session", r.URL.Path)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		// Accept has already written the error response.
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(conn, claims.UserID, h.logger)
	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	cancel()
	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// originPatterns turns allowed origins into host patterns for AcceptOptions.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}

// MessagesGroup is the /api/messages route group. It only reports presence;
// message history belongs to the message service.
type MessagesGroup struct {
	hub *Hub
}

var _ server.RouteGroup = (*MessagesGroup)(nil)

// NewMessagesGroup creates the messages group backed by hub.
func NewMessagesGroup(hub *Hub) *MessagesGroup {
	return &MessagesGroup{hub: hub}
}

// Prefix implements server.RouteGroup.
func (g *MessagesGroup) Prefix() string { return "/api/messages" }

// Endpoints implements server.RouteGroup.
func (g *MessagesGroup) Endpoints() []server.Endpoint {
	return []server.Endpoint{
		{Method: http.MethodGet, Path: "/online", Handler: http.HandlerFunc(g.handleOnline)},
	}
}

// OnlineResponse is the body of GET /api/messages/online.
type OnlineResponse struct {
	UserIDs []string `json:"userIds"`
}

func (g *MessagesGroup) handleOnline(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()) == nil {
		server.Unauthorized(w, "no valid session", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, OnlineResponse{UserIDs: g.hub.OnlineUsers()})
}
