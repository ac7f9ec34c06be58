package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// requestState is per-request bookkeeping shared between the error boundary,
// the logging middleware and the route table.
type requestState struct {
	route string
	err   error
}

type requestStateKey struct{}

func stateFrom(r *http.Request) *requestState {
	s, _ := r.Context().Value(requestStateKey{}).(*requestState)
	return s
}

// withState returns r carrying a fresh requestState, or r unchanged if one
// is already attached.
func withState(r *http.Request) (*http.Request, *requestState) {
	if s := stateFrom(r); s != nil {
		return r, s
	}
	s := &requestState{}
	return r.WithContext(context.WithValue(r.Context(), requestStateKey{}, s)), s
}

func setRouteName(r *http.Request, name string) {
	if s := stateFrom(r); s != nil {
		s.route = name
	}
}

// RouteName returns the dispatch route chosen for r, or "" if the request
// has not been dispatched through a RouteTable yet.
func RouteName(r *http.Request) string {
	if s := stateFrom(r); s != nil {
		return s.route
	}
	return ""
}

// ReportError hands err to the enclosing ErrorBoundary. It returns false
// when no boundary is installed.
func ReportError(r *http.Request, err error) bool {
	s := stateFrom(r)
	if s == nil {
		return false
	}
	if s.err == nil {
		s.err = err
	}
	return true
}

// HandlerFunc is an HTTP handler that can fail. A returned error is passed
// to the ErrorBoundary, which logs it and answers with a generic 500.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

func (fn HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		if !ReportError(r, err) {
			InternalError(w)
		}
	}
}

// ErrorBoundary is the outermost middleware. It converts panics and errors
// reported by inner handlers into exactly one 500 response whose body never
// includes the error itself. If the handler already started the response,
// the error is logged and the partial response is left alone.
func ErrorBoundary(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, state := withState(r)
			sw := asStatusWriter(w)

			defer func() {
				rec := recover()
				if rec == nil && state.err == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("route", state.route),
					zap.String("request_id", RequestID(r.Context())),
				}
				if rec != nil {
					logger.Error("panic recovered", append(fields, zap.Any("panic", rec), zap.Stack("stack"))...)
				} else {
					logger.Error("unhandled handler error", append(fields, zap.Error(state.err))...)
				}

				if !sw.wroteHeader {
					InternalError(sw)
				}
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
