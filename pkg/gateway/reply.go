package gateway

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reply is the handle of one intercepted request. It completes exactly
// once, with either a response or an error.
type Reply struct {
	id      string
	req     *http.Request
	created time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	resp     *http.Response
	err      error
	finished bool
	hooks    []func(*Reply)
}

func newReply(req *http.Request) *Reply {
	ctx, cancel := context.WithCancel(req.Context())
	return &Reply{
		id:      uuid.NewString(),
		req:     req.WithContext(ctx),
		created: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// failedReply returns a reply that already finished with err.
func failedReply(req *http.Request, err error) *Reply {
	r := newReply(req)
	r.finish(nil, err)
	r.cancel()
	return r
}

// ID returns the unique reply id.
func (r *Reply) ID() string { return r.id }

// Request returns the request as it was submitted, after header policy.
func (r *Reply) Request() *http.Request { return r.req }

// Created returns when the reply was created.
func (r *Reply) Created() time.Time { return r.created }

// Done is closed once the reply has finished.
func (r *Reply) Done() <-chan struct{} { return r.done }

// Finished reports whether the reply has finished.
func (r *Reply) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Response returns the response, or nil if the reply failed or is
// still running.
func (r *Reply) Response() *http.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resp
}

// Err returns the failure, or nil.
func (r *Reply) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the reply finishes or ctx is done. When ctx ends
// first the reply is aborted and ctx.Err() is returned.
func (r *Reply) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-r.done:
		return r.Response(), r.Err()
	case <-ctx.Done():
		r.Abort()
		return nil, ctx.Err()
	}
}

// Abort cancels the request. If the reply has not finished yet it
// finishes with CodeOperationCanceled.
func (r *Reply) Abort() {
	r.finish(nil, newNetworkError(CodeOperationCanceled, redactedURL(r.req), "operation canceled", nil))
	r.cancel()
}

// OnFinished registers fn to run once the reply finishes. If it already
// has, fn runs immediately.
func (r *Reply) OnFinished(fn func(*Reply)) {
	r.mu.Lock()
	if !r.finished {
		r.hooks = append(r.hooks, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn(r)
}

// finish completes the reply. Only the first call has an effect; it
// reports whether this call was the one that completed the reply.
func (r *Reply) finish(resp *http.Response, err error) bool {
	won := false
	r.once.Do(func() {
		won = true
		r.mu.Lock()
		r.resp, r.err = resp, err
		r.finished = true
		hooks := r.hooks
		r.hooks = nil
		r.mu.Unlock()

		for _, h := range hooks {
			h(r)
		}
		close(r.done)
	})
	return won
}

// cancelOnClose releases the reply context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
