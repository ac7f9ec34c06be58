package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/pulsechat/internal/frontend"
	"github.com/HerbHall/pulsechat/internal/testutil"
	"go.uber.org/zap"
)

const shellHTML = `<!doctype html><html><body><div id="root"></div></body></html>`

// stubGroup satisfies RouteGroup for testing.
type stubGroup struct {
	prefix    string
	endpoints []Endpoint
}

func (g stubGroup) Prefix() string        { return g.prefix }
func (g stubGroup) Endpoints() []Endpoint { return g.endpoints }

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"handler": body})
	})
}

func testGroups() []RouteGroup {
	return []RouteGroup{
		stubGroup{prefix: "/api/auth", endpoints: []Endpoint{
			{Method: http.MethodGet, Path: "/check", Handler: okHandler("auth-check")},
			{Method: http.MethodPost, Path: "/logout", Handler: okHandler("auth-logout")},
		}},
		stubGroup{prefix: "/api/messages", endpoints: []Endpoint{
			{Method: http.MethodGet, Path: "/{id}", Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				WriteJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
			})},
		}},
	}
}

// buildDir creates a frontend build directory and returns its resolution.
func buildDir(t *testing.T, withShell bool) *frontend.Resolution {
	t.Helper()
	opts := []testutil.BuildOption{
		testutil.WithShell(shellHTML),
		testutil.WithFile("assets/index.css", "body{}"),
	}
	if !withShell {
		opts = append(opts, testutil.WithoutShell())
	}
	root := testutil.WriteBuild(t, filepath.Join(t.TempDir(), "frontend", "dist"), opts...)
	return (&frontend.Resolver{Candidates: []string{root}}).Resolve()
}

// missingBuild resolves candidates that do not exist.
func missingBuild(t *testing.T) *frontend.Resolution {
	t.Helper()
	base := t.TempDir()
	return (&frontend.Resolver{
		Candidates: []string{"frontend/dist", "../frontend/dist"},
		WorkDir:    base,
		ExeDir:     "/opt/pulsechat/bin",
	}).Resolve()
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Groups == nil {
		opts.Groups = testGroups()
	}
	if opts.Environment == "" {
		opts.Environment = "test"
	}
	srv, err := New(opts, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func productionServer(t *testing.T, res *frontend.Resolution) *Server {
	t.Helper()
	return newTestServer(t, Options{
		Port:        5001,
		Environment: "production",
		Production:  true,
		Frontend:    res,
		Diagnostics: true,
	})
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	servers := map[string]func(t *testing.T) *Server{
		"development": func(t *testing.T) *Server {
			return newTestServer(t, Options{Port: 5001, Environment: "development"})
		},
		"production with build": func(t *testing.T) *Server {
			return productionServer(t, buildDir(t, true))
		},
		"production without build": func(t *testing.T) *Server {
			return productionServer(t, missingBuild(t))
		},
	}

	for name, mk := range servers {
		t.Run(name, func(t *testing.T) {
			srv := mk(t)
			rec := do(srv.Handler(), http.MethodGet, "/health")

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			var body HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != "ok" {
				t.Errorf("status = %q, want %q", body.Status, "ok")
			}
			if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
				t.Errorf("timestamp %q is not ISO-8601: %v", body.Timestamp, err)
			}
			if !strings.HasSuffix(body.Timestamp, "Z") {
				t.Errorf("timestamp %q is not UTC", body.Timestamp)
			}
			if body.Port != 5001 {
				t.Errorf("port = %d, want 5001", body.Port)
			}
			if body.Environment == "" {
				t.Error("environment is empty")
			}
		})
	}
}

func TestHandleReadyz(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"nil checker", nil, http.StatusOK, "ready"},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK, "ready"},
		{"unhealthy", func(context.Context) error { return errors.New("database not connected") }, http.StatusServiceUnavailable, "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Options{Ready: tt.ready})
			rec := do(srv.Handler(), http.MethodGet, "/readyz")

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body["status"] != tt.wantBody {
				t.Errorf("status = %q, want %q", body["status"], tt.wantBody)
			}
		})
	}
}

func TestHandleMetrics(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(srv.Handler(), http.MethodGet, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected prometheus Go runtime metrics in /metrics output")
	}
}

func TestProduction_ClientRoutesServeShell(t *testing.T) {
	srv := productionServer(t, buildDir(t, true))

	for _, path := range []string{"/", "/chat/42", "/login", "/profile"} {
		t.Run(path, func(t *testing.T) {
			rec := do(srv.Handler(), http.MethodGet, path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if rec.Body.String() != shellHTML {
				t.Errorf("body = %q, want shell document", rec.Body.String())
			}
		})
	}
}

func TestProduction_StaticAsset(t *testing.T) {
	srv := productionServer(t, buildDir(t, true))

	rec := do(srv.Handler(), http.MethodGet, "/assets/index.css")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "body{}" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("Content-Type = %q, want text/css", ct)
	}
}

func TestAPIGroupsDispatch(t *testing.T) {
	for name, srv := range map[string]*Server{
		"development": newTestServer(t, Options{}),
		"production":  productionServer(t, buildDir(t, true)),
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(srv.Handler(), http.MethodGet, "/api/auth/check")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			var body map[string]string
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body["handler"] != "auth-check" {
				t.Errorf("handler = %q, want auth-check", body["handler"])
			}

			rec = do(srv.Handler(), http.MethodGet, "/api/messages/abc123")
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body["id"] != "abc123" {
				t.Errorf("id = %q, want abc123", body["id"])
			}
		})
	}
}

func TestUnmatchedAPIRoute(t *testing.T) {
	const want = `{"message":"API route not found"}`

	servers := map[string]*Server{
		"development":              newTestServer(t, Options{}),
		"production with build":    productionServer(t, buildDir(t, true)),
		"production without build": productionServer(t, missingBuild(t)),
	}
	paths := []string{
		"/api/auth/doesnotexist",
		"/api/messages",
		"/api/unknown",
		"/api",
		"/api/",
	}

	for name, srv := range servers {
		for _, path := range paths {
			t.Run(name+" "+path, func(t *testing.T) {
				rec := do(srv.Handler(), http.MethodGet, path)
				if rec.Code != http.StatusNotFound {
					t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
				}
				if got := strings.TrimSpace(rec.Body.String()); got != want {
					t.Errorf("body = %s, want %s", got, want)
				}
			})
		}
	}
}

func TestUnmatchedAPIMethod(t *testing.T) {
	srv := productionServer(t, buildDir(t, true))

	rec := do(srv.Handler(), http.MethodDelete, "/api/auth/check")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if strings.Contains(rec.Body.String(), "<html") {
		t.Error("API request fell through to the shell document")
	}
}

func TestProduction_NoBuildDiagnostics(t *testing.T) {
	res := missingBuild(t)
	srv := productionServer(t, res)

	rec := do(srv.Handler(), http.MethodGet, "/chat/42")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var body struct {
		Message string           `json:"message"`
		WorkDir string           `json:"workDir"`
		ExeDir  string           `json:"exeDir"`
		Checked []frontend.Check `json:"checked"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != frontend.MessageNoBuild {
		t.Errorf("message = %q, want %q", body.Message, frontend.MessageNoBuild)
	}
	if len(body.Checked) != len(res.Checks) {
		t.Fatalf("checked %d candidates, want %d", len(body.Checked), len(res.Checks))
	}
	for i, c := range body.Checked {
		if c.Path != res.Checks[i].Path || c.Exists {
			t.Errorf("checked[%d] = %+v, want %+v", i, c, res.Checks[i])
		}
	}
	if body.WorkDir != res.WorkDir || body.ExeDir != res.ExeDir {
		t.Errorf("workDir/exeDir = %q/%q, want %q/%q", body.WorkDir, body.ExeDir, res.WorkDir, res.ExeDir)
	}
}

func TestProduction_NoBuildQuietByDefault(t *testing.T) {
	res := missingBuild(t)
	srv := newTestServer(t, Options{Production: true, Frontend: res})

	rec := do(srv.Handler(), http.MethodGet, "/chat/42")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if strings.Contains(rec.Body.String(), res.WorkDir) {
		t.Errorf("body leaked filesystem layout: %s", rec.Body.String())
	}
}

func TestProduction_NilResolution(t *testing.T) {
	srv := newTestServer(t, Options{Production: true})

	rec := do(srv.Handler(), http.MethodGet, "/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestProduction_ShellMissing(t *testing.T) {
	srv := productionServer(t, buildDir(t, false))

	rec := do(srv.Handler(), http.MethodGet, "/chat/42")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != frontend.MessageShellMissing {
		t.Errorf("body = %q, want %q", got, frontend.MessageShellMissing)
	}
	if strings.Contains(rec.Body.String(), "checked") {
		t.Error("shell-missing response must not be the no-build diagnostics body")
	}

	// The root remains valid for assets and later requests.
	if rec := do(srv.Handler(), http.MethodGet, "/assets/index.css"); rec.Code != http.StatusOK {
		t.Errorf("asset status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestDevelopment_NoFrontendServing(t *testing.T) {
	// A build on disk is ignored outside production.
	srv := newTestServer(t, Options{Environment: "development", Frontend: buildDir(t, true)})

	rec := do(srv.Handler(), http.MethodGet, "/chat/42")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if strings.Contains(rec.Body.String(), "<html") {
		t.Error("shell document served outside production")
	}
}

func TestRouteTable_APIBeforeCatchAll(t *testing.T) {
	for name, srv := range map[string]*Server{
		"development":              newTestServer(t, Options{}),
		"production with build":    productionServer(t, buildDir(t, true)),
		"production without build": productionServer(t, missingBuild(t)),
	} {
		t.Run(name, func(t *testing.T) {
			routes := srv.Table().Routes()
			last := len(routes) - 1
			if !routes[last].CatchAll {
				t.Fatalf("last route %q is not a catch-all", routes[last].Name)
			}
			apiSeen := 0
			for i, r := range routes[:last] {
				if r.CatchAll {
					t.Errorf("route %d (%q) is a catch-all before the end", i, r.Name)
				}
				if strings.HasPrefix(r.Name, "api") {
					apiSeen++
				}
			}
			if apiSeen != 3 {
				t.Errorf("found %d API routes before the catch-all, want 3", apiSeen)
			}
			if err := srv.Table().Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

// TestRouteTable_OrderingViolationSwallowsAPI shows why Validate exists:
// with the catch-all registered first, API requests get the shell document.
func TestRouteTable_OrderingViolationSwallowsAPI(t *testing.T) {
	res := buildDir(t, true)
	auth := testGroups()[0]

	broken := &RouteTable{}
	broken.Add(CatchAllRoute("frontend", frontend.StaticHandler(res)))
	broken.Add(GroupRoute(auth))
	broken.Add(APIFallbackRoute())

	rec := do(broken, http.MethodGet, "/api/auth/check")
	if rec.Code != http.StatusOK || rec.Body.String() != shellHTML {
		t.Fatalf("expected the misordered catch-all to swallow the API request, got %d %q",
			rec.Code, rec.Body.String())
	}
	rec = do(broken, http.MethodGet, "/api/auth/doesnotexist")
	if rec.Body.String() != shellHTML {
		t.Fatalf("expected unmatched API path to be swallowed too, got %q", rec.Body.String())
	}

	if err := broken.Validate(); !errors.Is(err, ErrCatchAllNotLast) {
		t.Errorf("Validate() = %v, want %v", err, ErrCatchAllNotLast)
	}

	fixed := &RouteTable{}
	fixed.Add(GroupRoute(auth))
	fixed.Add(APIFallbackRoute())
	fixed.Add(CatchAllRoute("frontend", frontend.StaticHandler(res)))
	if err := fixed.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	rec = do(fixed, http.MethodGet, "/api/auth/check")
	if strings.Contains(rec.Body.String(), "<html") {
		t.Error("correctly ordered table still served the shell for an API path")
	}
}

func TestErrorBoundary_ServerKeepsServing(t *testing.T) {
	const secret = "dial tcp 10.0.0.5:5432: connection refused"
	groups := []RouteGroup{stubGroup{prefix: "/api/messages", endpoints: []Endpoint{
		{Method: http.MethodGet, Path: "/panic", Handler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(secret)
		})},
		{Method: http.MethodGet, Path: "/fail", Handler: HandlerFunc(func(http.ResponseWriter, *http.Request) error {
			return errors.New(secret)
		})},
	}}}
	srv := newTestServer(t, Options{Groups: groups})

	for _, path := range []string{"/api/messages/panic", "/api/messages/fail"} {
		t.Run(path, func(t *testing.T) {
			rec := do(srv.Handler(), http.MethodGet, path)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			if strings.Contains(rec.Body.String(), "10.0.0.5") {
				t.Errorf("500 body leaked error detail: %s", rec.Body.String())
			}

			dec := json.NewDecoder(rec.Body)
			var body map[string]string
			if err := dec.Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["message"] != MessageInternalError {
				t.Errorf("message = %q, want %q", body["message"], MessageInternalError)
			}
			if err := dec.Decode(&body); err != io.EOF {
				t.Errorf("expected exactly one response body, extra decode = %v", err)
			}

			if rec := do(srv.Handler(), http.MethodGet, "/health"); rec.Code != http.StatusOK {
				t.Errorf("health after failure = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestMiddlewareChain_Integration(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(srv.Handler(), http.MethodGet, "/health")

	if v := rec.Header().Get("X-PulseChat-Version"); v == "" {
		t.Error("expected X-PulseChat-Version header from middleware")
	}
	if v := rec.Header().Get("X-Request-ID"); v == "" {
		t.Error("expected X-Request-ID header from middleware")
	}
	if v := rec.Header().Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
	}
}

func TestCORS_ByMode(t *testing.T) {
	devOrigins := []string{"http://localhost:5173"}
	prodOrigins := []string{"https://pulse-chat-app.onrender.com", "https://www.pulse-chat-app.onrender.com"}

	tests := []struct {
		name      string
		origins   []string
		origin    string
		wantAllow bool
	}{
		{"dev origin in dev", devOrigins, "http://localhost:5173", true},
		{"prod origin in dev", devOrigins, "https://pulse-chat-app.onrender.com", false},
		{"prod origin in prod", prodOrigins, "https://www.pulse-chat-app.onrender.com", true},
		{"dev origin in prod", prodOrigins, "http://localhost:5173", false},
		{"unknown origin", prodOrigins, "https://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Options{AllowedOrigins: tt.origins})

			req := httptest.NewRequest(http.MethodOptions, "/api/auth/logout", http.NoBody)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			allow := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllow {
				if allow != tt.origin {
					t.Errorf("Access-Control-Allow-Origin = %q, want %q", allow, tt.origin)
				}
				if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
					t.Error("expected Access-Control-Allow-Credentials: true")
				}
			} else if allow != "" {
				t.Errorf("Access-Control-Allow-Origin = %q, want none", allow)
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	srv := newTestServer(t, Options{MaxBodyBytes: 16})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}
