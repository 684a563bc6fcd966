// Package gateway is the single entry point for network access. Every
// request goes through Gateway.Intercept, which serves internal schemes
// in-process and sends everything else to the transport after applying
// the privacy header policy and attaching cookies. In-flight requests are
// tracked so Shutdown can abort them all.
package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/warpdl/warpnet/pkg/cookiestore"
	"github.com/warpdl/warpnet/pkg/logger"
	"github.com/warpdl/warpnet/pkg/scheme"
	"github.com/warpdl/warpnet/pkg/tracker"
)

// State is the gateway lifecycle state.
type State int32

const (
	StateActive State = iota
	StateShuttingDown
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateShuttingDown:
		return "shutting down"
	case StateInactive:
		return "inactive"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// msgNoSSL is the message of CodeProtocolUnknown replies.
const msgNoSSL = "SSL is not supported by the installed network stack!"

var secureSchemes = map[string]bool{
	"https": true,
	"wss":   true,
}

// Options configures a Gateway. Cookies, Schemes, Tracker and Transport
// default to fresh instances when nil.
type Options struct {
	// SSLAvailable reports whether the network stack can speak TLS.
	// Secure schemes fail with CodeProtocolUnknown when it is false.
	SSLAvailable bool
	Config       Config
	UI           UI
	Credentials  CredentialCache
	Cookies      *cookiestore.Store
	Schemes      *scheme.Registry
	Tracker      *tracker.Tracker
	Transport    Transport
	Logger       logger.Logger
}

// Gateway intercepts requests. It is safe for concurrent use.
type Gateway struct {
	mu    sync.RWMutex
	state State

	ssl       bool
	cfg       Config
	ui        UI
	creds     CredentialCache
	cookies   *cookiestore.Store
	schemes   *scheme.Registry
	tracker   *tracker.Tracker
	transport Transport
	log       logger.Logger
}

// New creates an active Gateway.
func New(opts Options) (*Gateway, error) {
	g := &Gateway{
		state:     StateActive,
		ssl:       opts.SSLAvailable,
		cfg:       opts.Config,
		ui:        opts.UI,
		creds:     opts.Credentials,
		cookies:   opts.Cookies,
		schemes:   opts.Schemes,
		tracker:   opts.Tracker,
		transport: opts.Transport,
		log:       logger.OrNop(opts.Logger),
	}
	if g.cfg == nil {
		g.cfg = StaticConfig{DNT: true, Strict: true}
	}
	if g.ui == nil {
		g.ui = logUI{log: g.log}
	}
	if g.cookies == nil {
		g.cookies = cookiestore.New(&cookiestore.Options{Logger: g.log})
	}
	if g.schemes == nil {
		g.schemes = scheme.NewRegistry(g.log)
	}
	if g.tracker == nil {
		g.tracker = tracker.New()
	}
	if g.transport == nil {
		t, err := NewHTTPTransport(TransportOptions{Logger: g.log})
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		g.transport = t
	}
	return g, nil
}

// Cookies returns the shared cookie store.
func (g *Gateway) Cookies() *cookiestore.Store { return g.cookies }

// Schemes returns the scheme registry.
func (g *Gateway) Schemes() *scheme.Registry { return g.schemes }

// State returns the lifecycle state.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Pending returns the in-flight replies, oldest first.
func (g *Gateway) Pending() []*Reply {
	hs := g.tracker.Pending()
	out := make([]*Reply, 0, len(hs))
	for _, h := range hs {
		if r, ok := h.(*Reply); ok {
			out = append(out, r)
		}
	}
	return out
}

// Intercept routes req and returns its reply. Replies for internal
// schemes and for refused requests are already finished on return;
// network replies finish asynchronously.
//
// Once the gateway is no longer active every call returns a reply failed
// with CodeNotAccessible and nothing else happens.
func (g *Gateway) Intercept(req *http.Request) *Reply {
	g.mu.RLock()
	if g.state != StateActive {
		g.mu.RUnlock()
		closeBody(req)
		return failedReply(req, newNetworkError(CodeNotAccessible, redactedURL(req), "network access is disabled", nil))
	}
	if req.URL == nil {
		g.mu.RUnlock()
		closeBody(req)
		return failedReply(req, newNetworkError(CodeProtocolUnknown, "", "request has no URL", nil))
	}
	sch := strings.ToLower(req.URL.Scheme)
	if secureSchemes[sch] && !g.ssl {
		g.mu.RUnlock()
		closeBody(req)
		return failedReply(req, newNetworkError(CodeProtocolUnknown, redactedURL(req), msgNoSSL, nil))
	}
	if _, ok := g.schemes.Lookup(sch); ok {
		g.mu.RUnlock()
		return g.serveInternal(req, sch)
	}
	defer g.mu.RUnlock()
	return g.submit(req)
}

// RoundTrip implements http.RoundTripper on top of Intercept.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	return g.Intercept(req).Wait(req.Context())
}

// Shutdown aborts every in-flight request and makes the gateway refuse
// all further requests. It returns the number of aborted requests and is
// a no-op after the first call.
func (g *Gateway) Shutdown() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateActive {
		return 0
	}
	g.state = StateShuttingDown
	n := g.tracker.AbortAll()
	g.state = StateInactive
	g.log.Info("Network gateway shut down, aborted %d requests", n)
	return n
}

func (g *Gateway) serveInternal(req *http.Request, sch string) *Reply {
	reply := newReply(req)
	defer reply.cancel()
	sreq, err := scheme.NewRequest(reply.req)
	if err != nil {
		reply.finish(nil, newNetworkError(CodeHandlerFailed, redactedURL(req), err.Error(), err))
		return reply
	}
	resp := g.schemes.Dispatch(reply.ctx, sch, sreq)
	if resp.Err != nil {
		code := CodeHandlerFailed
		if resp.Status == http.StatusNotFound {
			code = CodeContentNotFound
		}
		reply.finish(nil, newNetworkError(code, redactedURL(req), resp.Err.Error(), resp.Err))
		return reply
	}
	reply.finish(resp.HTTP(reply.req), nil)
	return reply
}

// submit must be called with g.mu read-locked and the gateway active.
func (g *Gateway) submit(req *http.Request) *Reply {
	out := req.Clone(req.Context())
	g.applyHeaderPolicy(out.Header)
	g.attachCookies(out)

	reply := newReply(out)
	reply.OnFinished(func(r *Reply) { g.tracker.Untrack(r) })
	if !g.tracker.Track(reply) {
		return reply
	}
	g.log.Debug("Starting request %s %s (%s)", out.Method, redactedURL(out), reply.id)
	go g.run(reply)
	return reply
}

func (g *Gateway) run(reply *Reply) {
	defer func() {
		if p := recover(); p != nil {
			g.log.Error("PANIC [transport]: %v\n%s", p, debug.Stack())
			reply.finish(nil, fmt.Errorf("transport panicked: %v", p))
			reply.cancel()
		}
	}()
	resp, err := g.transport.Do(reply.req, reply, g)
	if err != nil {
		reply.finish(nil, err)
		reply.cancel()
		return
	}
	g.storeCookies(reply.req.URL, resp)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: reply.cancel}
	if !reply.finish(resp, nil) {
		resp.Body.Close()
	}
}

// applyHeaderPolicy sets the privacy headers. Existing values are
// replaced, never merged.
func (g *Gateway) applyHeaderPolicy(h http.Header) {
	dnt := "0"
	if g.cfg.DoNotTrack() {
		dnt = "1"
	}
	h.Set("DNT", dnt)
	h.Set("X-Do-Not-Track", dnt)
	if lang := g.cfg.AcceptLanguage(); lang != "" {
		h.Set("Accept-Language", lang)
	}
}

func (g *Gateway) attachCookies(req *http.Request) {
	for _, c := range g.cookies.Cookies(req.URL) {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func (g *Gateway) storeCookies(u *url.URL, resp *http.Response) {
	hcs := resp.Cookies()
	if len(hcs) == 0 {
		return
	}
	now := time.Now()
	cs := make([]*cookiestore.Cookie, 0, len(hcs))
	for _, hc := range hcs {
		cs = append(cs, cookiestore.FromHTTP(hc, now))
	}
	if !g.cookies.SetCookiesFromURL(cs, u) {
		g.log.Debug("No cookies stored from %s", u.Host)
	}
}

// SSLErrors implements Events. In strict mode the errors are fatal and
// the user is not involved; otherwise each error is shown as a warning
// and the connection proceeds.
func (g *Gateway) SSLErrors(reply *Reply, errs []CertError) bool {
	if g.cfg.SSLStrict() {
		g.log.Debug("Refusing connection with %d certificate errors", len(errs))
		return false
	}
	for _, e := range errs {
		g.ui.Warn("SSL error: " + e.Error())
	}
	return true
}

// AuthenticationRequired implements Events.
func (g *Gateway) AuthenticationRequired(reply *Reply, auth *Authenticator) {
	g.askCredentials(fmt.Sprintf("Username (%s):", auth.Realm), auth)
}

// ProxyAuthenticationRequired implements Events.
func (g *Gateway) ProxyAuthenticationRequired(proxy *url.URL, auth *Authenticator) {
	g.askCredentials(fmt.Sprintf("Proxy username (%s):", auth.Realm), auth)
}

func (g *Gateway) askCredentials(prompt string, auth *Authenticator) {
	if g.creds != nil && auth.Attempt <= 1 {
		if a, ok := g.creds.Lookup(auth.Host, auth.Realm); ok {
			auth.Fill(a.User, a.Password)
			return
		}
	}
	a := g.ui.Ask(prompt, ModeUserPassword)
	if a == nil {
		return
	}
	auth.Fill(a.User, a.Password)
	if g.creds != nil {
		g.creds.Store(auth.Host, auth.Realm, a)
	}
}

// logUI is the UI used when none is configured: warnings are logged and
// prompts are cancelled.
type logUI struct {
	log logger.Logger
}

func (u logUI) Warn(text string) { u.log.Warning("%s", text) }

func (u logUI) Ask(prompt string, mode Mode) *Answer {
	u.log.Debug("No UI to answer %q", prompt)
	return nil
}

func closeBody(req *http.Request) {
	if req != nil && req.Body != nil {
		req.Body.Close()
	}
}

var _ http.RoundTripper = (*Gateway)(nil)
var _ Events = (*Gateway)(nil)
var _ tracker.Handle = (*Reply)(nil)
