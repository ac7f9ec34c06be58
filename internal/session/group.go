package session

import (
	"net/http"
	"time"

	"github.com/HerbHall/pulsechat/internal/server"
)

// AuthGroup is the /api/auth route group owned by this process: session
// inspection and logout. Login and signup are served by the auth service.
type AuthGroup struct {
	cookieName string
	secure     bool
}

var _ server.RouteGroup = (*AuthGroup)(nil)

// NewAuthGroup creates the auth group. secure marks the cleared cookie
// Secure, which production requires.
func NewAuthGroup(cookieName string, secure bool) *AuthGroup {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &AuthGroup{cookieName: cookieName, secure: secure}
}

// Prefix implements server.RouteGroup.
func (g *AuthGroup) Prefix() string { return "/api/auth" }

// Endpoints implements server.RouteGroup.
func (g *AuthGroup) Endpoints() []server.Endpoint {
	return []server.Endpoint{
		{Method: http.MethodGet, Path: "/check", Handler: http.HandlerFunc(g.handleCheck)},
		{Method: http.MethodPost, Path: "/logout", Handler: http.HandlerFunc(g.handleLogout)},
	}
}

// CheckResponse is the body of GET /api/auth/check.
type CheckResponse struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (g *AuthGroup) handleCheck(w http.ResponseWriter, r *http.Request) {
	claims := FromContext(r.Context())
	if claims == nil {
		server.Unauthorized(w, "no valid session", r.URL.Path)
		return
	}
	resp := CheckResponse{UserID: claims.UserID, Username: claims.Username}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.UTC()
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

func (g *AuthGroup) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
	server.WriteMessage(w, http.StatusOK, "Logged out successfully")
}
