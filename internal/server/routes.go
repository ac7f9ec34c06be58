package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIPrefix is the reserved path prefix for API route groups. Paths under it
// never reach the frontend catch-all.
const APIPrefix = "/api"

// MessageAPINotFound is the body message for unmatched API paths.
const MessageAPINotFound = "API route not found"

// Route table validation errors.
var (
	ErrCatchAllNotLast = errors.New("route registered after catch-all")
	ErrNoCatchAll      = errors.New("route table has no catch-all")
)

// Route is one entry of the dispatch table.
type Route struct {
	Name     string
	Match    func(*http.Request) bool
	Handler  http.Handler
	CatchAll bool
}

// RouteTable dispatches each request to the first route whose Match returns
// true, in registration order. API routes must come before the catch-all;
// Validate enforces this.
type RouteTable struct {
	routes []Route
}

// Add appends r to the table. Ordering is not checked here so that a table
// can be assembled incrementally; call Validate once it is complete.
func (t *RouteTable) Add(r Route) {
	t.routes = append(t.routes, r)
}

// Routes returns a copy of the table entries in dispatch order.
func (t *RouteTable) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// Validate checks that exactly the last route is a catch-all.
func (t *RouteTable) Validate() error {
	for i, r := range t.routes {
		if r.CatchAll && i != len(t.routes)-1 {
			return fmt.Errorf("%w: %q at position %d is followed by %q",
				ErrCatchAllNotLast, r.Name, i, t.routes[i+1].Name)
		}
	}
	if len(t.routes) == 0 || !t.routes[len(t.routes)-1].CatchAll {
		return ErrNoCatchAll
	}
	return nil
}

// ServeHTTP dispatches to the first matching route.
func (t *RouteTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, route := range t.routes {
		if route.Match(r) {
			setRouteName(r, route.Name)
			route.Handler.ServeHTTP(w, r)
			return
		}
	}
	setRouteName(r, "unmatched")
	WriteMessage(w, http.StatusNotFound, "Not found")
}

// Endpoint is a single handler inside a RouteGroup. Path is relative to the
// group prefix and may use ServeMux wildcards ("/{id}").
type Endpoint struct {
	Method  string
	Path    string
	Handler http.Handler
}

// RouteGroup is an externally supplied set of API endpoints sharing a
// prefix, such as /api/auth or /api/messages.
type RouteGroup interface {
	Prefix() string
	Endpoints() []Endpoint
}

// GroupRoute builds a table entry for g. Any path under the group prefix
// that no endpoint matches is answered with the API not-found body.
func GroupRoute(g RouteGroup) Route {
	prefix := strings.TrimSuffix(g.Prefix(), "/")
	mux := http.NewServeMux()
	for _, ep := range g.Endpoints() {
		pattern := prefix + ep.Path
		if ep.Method != "" {
			pattern = ep.Method + " " + pattern
		}
		mux.Handle(pattern, ep.Handler)
	}

	return Route{
		Name:  "api" + strings.TrimPrefix(prefix, APIPrefix),
		Match: PrefixMatcher(prefix),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, pattern := mux.Handler(r); pattern == "" {
				APINotFound(w)
				return
			}
			mux.ServeHTTP(w, r)
		}),
	}
}

// APIFallbackRoute answers every remaining path under APIPrefix with 404.
func APIFallbackRoute() Route {
	return Route{
		Name:  "api-fallback",
		Match: PrefixMatcher(APIPrefix),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			APINotFound(w)
		}),
	}
}

// MuxRoute matches requests for which mux has a registered pattern.
func MuxRoute(name string, mux *http.ServeMux) Route {
	return Route{
		Name: name,
		Match: func(r *http.Request) bool {
			_, pattern := mux.Handler(r)
			return pattern != ""
		},
		Handler: mux,
	}
}

// CatchAllRoute matches every request.
func CatchAllRoute(name string, h http.Handler) Route {
	return Route{
		Name:     name,
		Match:    func(*http.Request) bool { return true },
		Handler:  h,
		CatchAll: true,
	}
}

// PrefixMatcher matches prefix itself and anything below it, but not
// siblings sharing the same leading characters (/api vs /apiary).
func PrefixMatcher(prefix string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		p := r.URL.Path
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
}
