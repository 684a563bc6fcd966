package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/warpdl/warpnet/pkg/cookiestore"
	"github.com/warpdl/warpnet/pkg/logger"
	"github.com/warpdl/warpnet/pkg/scheme"
	"github.com/warpdl/warpnet/pkg/tracker"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls []*http.Request
	// block, when set, holds every request until it is closed or the
	// request is cancelled.
	block   chan struct{}
	handler func(*http.Request) *http.Response
}

func (f *fakeTransport) Do(req *http.Request, reply *Reply, ev Events) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if f.handler != nil {
		return f.handler(req), nil
	}
	return textResponse(req, http.StatusOK, "ok"), nil
}

func (f *fakeTransport) Calls() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.calls...)
}

func textResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

type mockUI struct {
	mu      sync.Mutex
	warns   []string
	prompts []string
	modes   []Mode
	answer  *Answer
}

func (m *mockUI) Warn(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, text)
}

func (m *mockUI) Ask(prompt string, mode Mode) *Answer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.modes = append(m.modes, mode)
	return m.answer
}

func (m *mockUI) Warns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warns...)
}

func (m *mockUI) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

type testEnv struct {
	gw        *Gateway
	transport *fakeTransport
	ui        *mockUI
	tracker   *tracker.Tracker
	cookies   *cookiestore.Store
	schemes   *scheme.Registry
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		transport: &fakeTransport{},
		ui:        &mockUI{},
		tracker:   tracker.New(),
		cookies:   cookiestore.New(nil),
		schemes:   scheme.NewRegistry(nil),
	}
	gw, err := New(Options{
		SSLAvailable: true,
		Config:       cfg,
		UI:           env.ui,
		Cookies:      env.cookies,
		Schemes:      env.schemes,
		Tracker:      env.tracker,
		Transport:    env.transport,
		Logger:       logger.NewMockLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.gw = gw
	return env
}

func newRequest(t *testing.T, method, raw string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, raw, nil)
	if err != nil {
		t.Fatalf("NewRequest(%q): %v", raw, err)
	}
	return req
}

func waitReply(t *testing.T, r *Reply) (*http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-r.Done():
		return r.Response(), r.Err()
	case <-ctx.Done():
		t.Fatal("reply did not finish")
		return nil, nil
	}
}

func TestInterceptDoNotTrackHeaders(t *testing.T) {
	env := newTestEnv(t, StaticConfig{DNT: true})
	reply := env.gw.Intercept(newRequest(t, http.MethodGet, "https://example.com"))
	if _, err := waitReply(t, reply); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	calls := env.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("transport called %d times, want 1", len(calls))
	}
	h := calls[0].Header
	if h.Get("DNT") != "1" || h.Get("X-Do-Not-Track") != "1" {
		t.Errorf("DNT=%q X-Do-Not-Track=%q, want 1 and 1", h.Get("DNT"), h.Get("X-Do-Not-Track"))
	}
}

func TestInterceptHeaderPolicyOverwrites(t *testing.T) {
	tests := []struct {
		name     string
		cfg      StaticConfig
		wantDNT  string
		wantLang string
	}{
		{"dnt off keeps caller language", StaticConfig{DNT: false}, "0", "fr"},
		{"language overrides", StaticConfig{DNT: true, Language: "en-US,en;q=0.9"}, "1", "en-US,en;q=0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.cfg)
			req := newRequest(t, http.MethodGet, "http://example.com/")
			req.Header.Set("DNT", "1")
			req.Header.Add("X-Do-Not-Track", "maybe")
			req.Header.Set("Accept-Language", "fr")
			waitReply(t, env.gw.Intercept(req))

			h := env.transport.Calls()[0].Header
			if got := h.Values("DNT"); len(got) != 1 || got[0] != tt.wantDNT {
				t.Errorf("DNT = %v, want [%s]", got, tt.wantDNT)
			}
			if got := h.Values("X-Do-Not-Track"); len(got) != 1 || got[0] != tt.wantDNT {
				t.Errorf("X-Do-Not-Track = %v, want [%s]", got, tt.wantDNT)
			}
			if got := h.Get("Accept-Language"); got != tt.wantLang {
				t.Errorf("Accept-Language = %q, want %q", got, tt.wantLang)
			}
			if req.Header.Get("X-Do-Not-Track") != "maybe" {
				t.Error("caller's request was modified")
			}
		})
	}
}

func TestInterceptWithoutSSL(t *testing.T) {
	env := newTestEnv(t, StaticConfig{})
	env.gw.ssl = false
	reply := env.gw.Intercept(newRequest(t, http.MethodGet, "https://example.com/"))
	if !reply.Finished() {
		t.Fatal("reply should be finished on return")
	}
	err := reply.Err()
	if !errors.Is(err, ErrProtocolUnknown) || CodeOf(err) != CodeProtocolUnknown {
		t.Fatalf("err = %v, want protocol unknown", err)
	}
	if !strings.Contains(err.Error(), "SSL is not supported by the installed network stack!") {
		t.Errorf("unexpected message %q", err)
	}
	if len(env.transport.Calls()) != 0 || env.tracker.Len() != 0 {
		t.Error("request reached the transport or the tracker")
	}

	reply = env.gw.Intercept(newRequest(t, http.MethodGet, "http://example.com/"))
	if _, err := waitReply(t, reply); err != nil {
		t.Errorf("plain http should still work: %v", err)
	}
}

func TestInterceptSyntheticScheme(t *testing.T) {
	env := newTestEnv(t, StaticConfig{DNT: true})
	var trackedDuring = -1
	env.schemes.Register("warp", scheme.HandlerFunc(func(ctx context.Context, req *scheme.Request) (*scheme.Response, error) {
		trackedDuring = env.tracker.Len()
		if req.Header.Get("DNT") != "" {
			t.Error("header policy applied to a synthetic request")
		}
		switch req.URL.Opaque {
		case "version":
			return scheme.NewResponse("text/plain", []byte("warpnet")), nil
		case "broken":
			return nil, errors.New("kaput")
		}
		return nil, scheme.ErrNotFound
	}))

	reply := env.gw.Intercept(newRequest(t, http.MethodGet, "warp:version"))
	if !reply.Finished() {
		t.Fatal("synthetic reply should be finished on return")
	}
	resp, err := reply.Response(), reply.Err()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "warpnet" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
	if trackedDuring != 0 || env.tracker.Len() != 0 {
		t.Errorf("synthetic request was tracked (during=%d, after=%d)", trackedDuring, env.tracker.Len())
	}

	tests := []struct {
		target string
		code   ErrorCode
	}{
		{"warp:broken", CodeHandlerFailed},
		{"WARP:missing", CodeContentNotFound},
	}
	for _, tt := range tests {
		err := env.gw.Intercept(newRequest(t, http.MethodGet, tt.target)).Err()
		if CodeOf(err) != tt.code {
			t.Errorf("%s: code = %v, want %v (err %v)", tt.target, CodeOf(err), tt.code, err)
		}
	}
	if !errors.Is(env.gw.Intercept(newRequest(t, http.MethodGet, "warp:nothing")).Err(), scheme.ErrNotFound) {
		t.Error("not found error should wrap scheme.ErrNotFound")
	}
	if n := len(env.transport.Calls()); n != 0 {
		t.Errorf("transport called %d times for synthetic requests", n)
	}
}

func TestReplyUntrackedOnCompletion(t *testing.T) {
	env := newTestEnv(t, StaticConfig{})
	env.transport.block = make(chan struct{})
	reply := env.gw.Intercept(newRequest(t, http.MethodGet, "http://example.com/"))
	if env.tracker.Len() != 1 {
		t.Fatalf("tracker Len = %d, want 1", env.tracker.Len())
	}
	if p := env.gw.Pending(); len(p) != 1 || p[0].ID() != reply.ID() {
		t.Fatalf("Pending = %v", p)
	}
	close(env.transport.block)
	if _, err := waitReply(t, reply); err != nil {
		t.Fatal(err)
	}
	if env.tracker.Len() != 0 {
		t.Errorf("finished reply still tracked")
	}
}

func TestShutdownAbortsPending(t *testing.T) {
	env := newTestEnv(t, StaticConfig{})
	env.transport.block = make(chan struct{})
	var replies []*Reply
	for _, u := range []string{"http://a.example/", "http://b.example/", "https://c.example/"} {
		replies = append(replies, env.gw.Intercept(newRequest(t, http.MethodGet, u)))
	}
	if env.tracker.Len() != 3 {
		t.Fatalf("tracker Len = %d, want 3", env.tracker.Len())
	}
	if n := env.gw.Shutdown(); n != 3 {
		t.Errorf("Shutdown aborted %d, want 3", n)
	}
	for _, r := range replies {
		if !r.Finished() {
			t.Fatalf("reply %s not finished after shutdown", r.ID())
		}
		if !errors.Is(r.Err(), ErrOperationCanceled) {
			t.Errorf("reply error = %v, want operation canceled", r.Err())
		}
		if r.Request().Context().Err() == nil {
			t.Error("request context not cancelled")
		}
	}
	if env.tracker.Len() != 0 {
		t.Errorf("tracker Len = %d after shutdown", env.tracker.Len())
	}
	if env.gw.State() != StateInactive {
		t.Errorf("state = %v, want inactive", env.gw.State())
	}
	if n := env.gw.Shutdown(); n != 0 {
		t.Errorf("second Shutdown = %d, want 0", n)
	}
}

func TestInterceptAfterShutdownHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, StaticConfig{DNT: true})
	handled := 0
	env.schemes.Register("warp", scheme.HandlerFunc(func(ctx context.Context, req *scheme.Request) (*scheme.Response, error) {
		handled++
		return scheme.NewResponse("text/plain", nil), nil
	}))
	env.cookies.SetAllCookies([]*cookiestore.Cookie{{Name: "a", Value: "1", Domain: "example.com", Path: "/"}})
	env.transport.handler = func(req *http.Request) *http.Response {
		resp := textResponse(req, http.StatusOK, "")
		resp.Header.Add("Set-Cookie", "b=2; Path=/")
		return resp
	}
	env.gw.Shutdown()

	for _, u := range []string{"http://example.com/", "https://example.com/", "warp:version", "ftp://example.com/x", "gopher://x/"} {
		for _, m := range []string{http.MethodGet, http.MethodPost} {
			reply := env.gw.Intercept(newRequest(t, m, u))
			if !reply.Finished() {
				t.Fatalf("%s %s: reply not finished", m, u)
			}
			if !errors.Is(reply.Err(), ErrNotAccessible) || reply.Response() != nil {
				t.Errorf("%s %s: got %v, want not accessible", m, u, reply.Err())
			}
		}
	}
	if len(env.transport.Calls()) != 0 || handled != 0 || env.tracker.Len() != 0 {
		t.Errorf("side effects after shutdown: transport=%d handler=%d tracked=%d",
			len(env.transport.Calls()), handled, env.tracker.Len())
	}
	if cs := env.cookies.AllCookies(); len(cs) != 1 || cs[0].Name != "a" {
		t.Errorf("cookie store changed: %v", cs)
	}
}

func TestCookiesFlowThroughGateway(t *testing.T) {
	env := newTestEnv(t, StaticConfig{})
	env.transport.handler = func(req *http.Request) *http.Response {
		resp := textResponse(req, http.StatusOK, "")
		if _, err := req.Cookie("sid"); err != nil {
			resp.Header.Add("Set-Cookie", "sid=abc; Path=/; Max-Age=3600")
		}
		return resp
	}
	for i := 0; i < 2; i++ {
		if _, err := waitReply(t, env.gw.Intercept(newRequest(t, http.MethodGet, "http://example.com/page"))); err != nil {
			t.Fatal(err)
		}
	}
	calls := env.transport.Calls()
	if _, err := calls[0].Cookie("sid"); err == nil {
		t.Error("first request should carry no cookie")
	}
	c, err := calls[1].Cookie("sid")
	if err != nil || c.Value != "abc" {
		t.Errorf("second request cookie = %v, %v", c, err)
	}
	if env.cookies.Len() != 1 || env.cookies.AllCookies()[0].IsSession() {
		t.Errorf("cookie not stored as persistent: %v", env.cookies.AllCookies())
	}
}

func TestRoundTripper(t *testing.T) {
	env := newTestEnv(t, StaticConfig{})
	env.transport.handler = func(req *http.Request) *http.Response {
		return textResponse(req, http.StatusOK, "hello "+req.URL.Path)
	}
	client := &http.Client{Transport: env.gw}
	resp, err := client.Get("http://example.com/world")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello /world" {
		t.Errorf("body = %q", body)
	}
}

func TestWaitContextCancelAborts(t *testing.T) {
	env := newTestEnv(t, StaticConfig{})
	env.transport.block = make(chan struct{})
	reply := env.gw.Intercept(newRequest(t, http.MethodGet, "http://example.com/"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reply.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait err = %v", err)
	}
	if !errors.Is(reply.Err(), ErrOperationCanceled) {
		t.Errorf("reply err = %v", reply.Err())
	}
	if env.tracker.Len() != 0 {
		t.Error("aborted reply still tracked")
	}
}

func TestSSLErrorsEvent(t *testing.T) {
	errs := []CertError{
		{Kind: CertHostnameMismatch, Err: errors.New("x509: certificate is valid for example.com, not example.org")},
		{Kind: CertUnknownAuthority, Err: errors.New("x509: certificate signed by unknown authority")},
	}

	strict := newTestEnv(t, StaticConfig{Strict: true})
	if strict.gw.SSLErrors(nil, errs) {
		t.Error("strict mode must not proceed")
	}
	if len(strict.ui.Warns()) != 0 {
		t.Error("strict mode must not involve the UI")
	}

	lax := newTestEnv(t, StaticConfig{Strict: false})
	if !lax.gw.SSLErrors(nil, errs) {
		t.Error("non-strict mode should proceed")
	}
	warns := lax.ui.Warns()
	if len(warns) != 2 {
		t.Fatalf("got %d warnings, want 2", len(warns))
	}
	if warns[0] != "SSL error: "+errs[0].Err.Error() {
		t.Errorf("warning = %q", warns[0])
	}
}

type memCreds struct {
	m       map[string]*Answer
	lookups int
}

func (c *memCreds) Lookup(host, realm string) (*Answer, bool) {
	c.lookups++
	a, ok := c.m[host+"|"+realm]
	return a, ok
}

func (c *memCreds) Store(host, realm string, a *Answer) {
	c.m[host+"|"+realm] = a
}

func TestAuthenticationEvents(t *testing.T) {
	env := newTestEnv(t, StaticConfig{})

	auth := &Authenticator{Realm: "members", Host: "example.com", Attempt: 1}
	env.gw.AuthenticationRequired(nil, auth)
	if auth.Filled() {
		t.Error("cancelled prompt must leave the authenticator unfilled")
	}

	env.ui.answer = &Answer{User: "alice", Password: "s3cret"}
	auth = &Authenticator{Realm: "members", Host: "example.com", Attempt: 1}
	env.gw.AuthenticationRequired(nil, auth)
	if u, p := auth.Credentials(); !auth.Filled() || u != "alice" || p != "s3cret" {
		t.Errorf("authenticator = %q/%q filled=%v", u, p, auth.Filled())
	}

	proxyAuth := &Authenticator{Realm: "corp", Host: "proxy:3128", Attempt: 1}
	env.gw.ProxyAuthenticationRequired(&url.URL{Scheme: "http", Host: "proxy:3128"}, proxyAuth)

	want := []string{"Username (members):", "Username (members):", "Proxy username (corp):"}
	got := env.ui.Prompts()
	if len(got) != len(want) {
		t.Fatalf("prompts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("prompt %d = %q, want %q", i, got[i], want[i])
		}
	}
	for _, m := range env.ui.modes {
		if m != ModeUserPassword {
			t.Errorf("mode = %v, want user/password", m)
		}
	}
}

func TestAuthenticationUsesCredentialCache(t *testing.T) {
	env := newTestEnv(t, StaticConfig{})
	creds := &memCreds{m: map[string]*Answer{}}
	env.gw.creds = creds
	env.ui.answer = &Answer{User: "bob", Password: "pw"}

	env.gw.AuthenticationRequired(nil, &Authenticator{Realm: "r", Host: "h", Attempt: 1})
	if len(env.ui.Prompts()) != 1 {
		t.Fatal("first challenge should prompt")
	}
	if _, ok := creds.m["h|r"]; !ok {
		t.Fatal("answer not cached")
	}

	auth := &Authenticator{Realm: "r", Host: "h", Attempt: 1}
	env.gw.AuthenticationRequired(nil, auth)
	if len(env.ui.Prompts()) != 1 || !auth.Filled() {
		t.Error("cached answer should be used without prompting")
	}

	env.gw.AuthenticationRequired(nil, &Authenticator{Realm: "r", Host: "h", Attempt: 2})
	if len(env.ui.Prompts()) != 2 {
		t.Error("a repeated challenge should prompt again")
	}
}

func TestNetworkErrorFormatting(t *testing.T) {
	err := newNetworkError(CodeNotAccessible, "http://example.com/", "network access is disabled", nil)
	if err.Error() != "http://example.com/: network access is disabled" {
		t.Errorf("Error() = %q", err.Error())
	}
	if errors.Is(err, ErrProtocolUnknown) || !errors.Is(err, ErrNotAccessible) {
		t.Error("Is matched the wrong sentinel")
	}
	if CodeOf(errors.New("plain")) != 0 {
		t.Error("CodeOf on a plain error should be 0")
	}
	if (&NetworkError{Code: CodeHandlerFailed}).Error() != "handler failed" {
		t.Error("empty message should fall back to the code name")
	}
}
