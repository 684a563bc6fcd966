package scheme

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/warpdl/warpnet/pkg/logger"
)

// Registry maps scheme names to handlers. Scheme names are case-insensitive.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      logger.Logger
}

// NewRegistry returns an empty Registry. l may be nil.
func NewRegistry(l logger.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		log:      logger.OrNop(l),
	}
}

// Register adds or replaces the handler for scheme.
func (r *Registry) Register(scheme string, h Handler) {
	scheme = strings.ToLower(scheme)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[scheme]; ok {
		r.log.Debug("Replacing handler for scheme %s", scheme)
	}
	r.handlers[scheme] = h
}

// Unregister removes the handler for scheme, reporting whether one existed.
func (r *Registry) Unregister(scheme string) bool {
	scheme = strings.ToLower(scheme)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[scheme]
	delete(r.handlers, scheme)
	return ok
}

// Lookup returns the handler registered for scheme.
func (r *Registry) Lookup(scheme string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.ToLower(scheme)]
	return h, ok
}

// Schemes returns the registered scheme names, sorted.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for s := range r.handlers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for scheme and always returns a well-formed
// response. Handler errors and panics become error responses: 404 when
// the error wraps ErrNotFound, 500 otherwise. An unregistered scheme
// yields a 404 wrapping ErrUnknownScheme.
func (r *Registry) Dispatch(ctx context.Context, scheme string, req *Request) *Response {
	h, ok := r.Lookup(scheme)
	if !ok {
		return ErrorResponse(http.StatusNotFound, fmt.Errorf("%w %q", ErrUnknownScheme, scheme))
	}
	resp, err := r.serve(ctx, scheme, h, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("%s handler returned no response", scheme)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotFound) {
			status = http.StatusNotFound
		} else {
			r.log.Warning("Handler for %s failed: %v", scheme, err)
		}
		return ErrorResponse(status, err)
	}
	return resp
}

func (r *Registry) serve(ctx context.Context, scheme string, h Handler, req *Request) (resp *Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("PANIC [%s handler]: %v\n%s", scheme, p, debug.Stack())
			resp, err = nil, fmt.Errorf("%s handler panicked: %v", scheme, p)
		}
	}()
	return h.ServeScheme(ctx, req)
}
