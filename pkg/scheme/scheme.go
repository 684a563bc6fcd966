// Package scheme maps URL schemes to in-process handlers that synthesize
// responses without touching the network.
package scheme

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

var (
	// ErrNotFound is wrapped by handlers when the requested resource does
	// not exist. Dispatch maps it to a 404 response.
	ErrNotFound = errors.New("not found")
	// ErrUnknownScheme is returned for schemes without a registered handler.
	ErrUnknownScheme = errors.New("unknown scheme")
)

// Request is what a handler receives: method, target and optional body.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest builds a Request from an http.Request, reading its body.
func NewRequest(req *http.Request) (*Request, error) {
	r := &Request{
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header.Clone(),
	}
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if req.Body != nil && req.Body != http.NoBody {
		defer req.Body.Close()
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

// Response is a complete synthetic response.
type Response struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
	// Err is set on error responses produced by Dispatch.
	Err error
}

// NewResponse returns a 200 response with the given content type and body.
func NewResponse(contentType string, body []byte) *Response {
	return &Response{Status: http.StatusOK, ContentType: contentType, Body: body}
}

// ErrorResponse returns a plain text response carrying err.
func ErrorResponse(status int, err error) *Response {
	return &Response{
		Status:      status,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(err.Error() + "\n"),
		Err:         err,
	}
}

// HTTP converts r into an *http.Response answering req.
func (r *Response) HTTP(req *http.Request) *http.Response {
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if r.ContentType != "" {
		h.Set("Content-Type", r.ContentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Handler produces responses for one scheme.
type Handler interface {
	ServeScheme(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// ServeScheme calls f(ctx, req).
func (f HandlerFunc) ServeScheme(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
