package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpdl/warpnet/pkg/logger"
	"golang.org/x/net/proxy"
)

// DefaultMaxAuthAttempts bounds authentication retries for one request.
const DefaultMaxAuthAttempts = 3

// TransportOptions configures an HTTPTransport.
type TransportOptions struct {
	// Proxy is an http, https or socks5 proxy URL. Empty means direct.
	Proxy string
	// RootCAs verifies server certificates. nil uses the system pool.
	RootCAs *x509.CertPool
	// DialContext opens TCP connections. Defaults to a net.Dialer.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	// MaxAuthAttempts defaults to DefaultMaxAuthAttempts.
	MaxAuthAttempts     int
	TLSHandshakeTimeout time.Duration
	// Now is used for certificate validity checks. Defaults to time.Now.
	Now    func() time.Time
	Logger logger.Logger
}

// HTTPTransport is the default Transport. It verifies TLS certificates
// itself so that errors can be handed to Events.SSLErrors, answers Basic
// authentication challenges through Events and supports http, https and
// socks5 proxies.
type HTTPTransport struct {
	rt      *http.Transport
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	proxy   *url.URL
	roots   *x509.CertPool
	now     func() time.Time
	maxAuth int
	log     logger.Logger

	mu        sync.Mutex
	proxyUser *url.Userinfo
	hostAuth  map[string]*url.Userinfo
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func (f dialFunc) Dial(network, addr string) (net.Conn, error) {
	return f(context.Background(), network, addr)
}

func (f dialFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(opts TransportOptions) (*HTTPTransport, error) {
	t := &HTTPTransport{
		dial:     opts.DialContext,
		roots:    opts.RootCAs,
		now:      opts.Now,
		maxAuth:  opts.MaxAuthAttempts,
		log:      logger.OrNop(opts.Logger),
		hostAuth: make(map[string]*url.Userinfo),
	}
	if t.dial == nil {
		d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		t.dial = d.DialContext
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.maxAuth <= 0 {
		t.maxAuth = DefaultMaxAuthAttempts
	}
	if opts.Proxy != "" {
		pu, err := ParseProxyURL(opts.Proxy)
		if err != nil {
			return nil, err
		}
		t.proxyUser = pu.User
		pu.User = nil
		t.proxy = pu
		if pu.Scheme == "socks5" {
			var auth *proxy.Auth
			if t.proxyUser != nil {
				pass, _ := t.proxyUser.Password()
				auth = &proxy.Auth{User: t.proxyUser.Username(), Password: pass}
			}
			d, err := proxy.SOCKS5("tcp", proxyAddr(pu), auth, dialFunc(t.dial))
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy: %w", err)
			}
			cd, ok := d.(proxy.ContextDialer)
			if !ok {
				return nil, errors.New("socks5 proxy: dialer does not support contexts")
			}
			t.dial = cd.DialContext
		}
	}
	handshake := opts.TLSHandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	t.rt = &http.Transport{
		Proxy:               t.proxyFor,
		DialContext:         t.dial,
		DialTLSContext:      t.dialTLS,
		TLSHandshakeTimeout: handshake,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
	return t, nil
}

// CloseIdleConnections closes idle keep-alive connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.rt.CloseIdleConnections()
}

// Do sends req, retrying on authentication challenges while the event
// handler provides credentials.
func (t *HTTPTransport) Do(req *http.Request, reply *Reply, ev Events) (*http.Response, error) {
	if ev == nil {
		ev = noEvents{}
	}
	req = req.WithContext(withDialInfo(req.Context(), reply, ev))
	host := req.URL.Host

	for attempt := 1; ; attempt++ {
		r, err := t.prepare(req, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := t.rt.RoundTrip(r)
		if err != nil {
			var pae *proxyAuthError
			if errors.As(err, &pae) && attempt < t.maxAuth && t.authenticateProxy(pae.realm, attempt, ev) {
				continue
			}
			return nil, err
		}
		if attempt >= t.maxAuth || !rewindable(req) {
			return resp, nil
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			realm, ok := basicRealm(resp.Header.Values("Www-Authenticate"))
			if !ok {
				return resp, nil
			}
			auth := &Authenticator{Realm: realm, Host: host, Attempt: attempt}
			ev.AuthenticationRequired(reply, auth)
			if !auth.Filled() {
				return resp, nil
			}
			user, pass := auth.Credentials()
			t.mu.Lock()
			t.hostAuth[host] = url.UserPassword(user, pass)
			t.mu.Unlock()
		case http.StatusProxyAuthRequired:
			if t.proxy == nil {
				return resp, nil
			}
			realm, ok := basicRealm(resp.Header.Values("Proxy-Authenticate"))
			if !ok || !t.authenticateProxy(realm, attempt, ev) {
				return resp, nil
			}
		default:
			return resp, nil
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
	}
}

// prepare returns the request to send for the given attempt, with the
// body rewound and known credentials attached.
func (t *HTTPTransport) prepare(req *http.Request, attempt int) (*http.Request, error) {
	r := req.Clone(req.Context())
	if attempt > 1 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	t.mu.Lock()
	creds := t.hostAuth[req.URL.Host]
	t.mu.Unlock()
	if creds != nil && r.Header.Get("Authorization") == "" {
		pass, _ := creds.Password()
		r.SetBasicAuth(creds.Username(), pass)
	}
	return r, nil
}

func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func (t *HTTPTransport) authenticateProxy(realm string, attempt int, ev Events) bool {
	if t.proxy == nil {
		return false
	}
	auth := &Authenticator{Realm: realm, Host: t.proxy.Host, Attempt: attempt}
	pu := *t.proxy
	ev.ProxyAuthenticationRequired(&pu, auth)
	if !auth.Filled() {
		return false
	}
	user, pass := auth.Credentials()
	t.mu.Lock()
	t.proxyUser = url.UserPassword(user, pass)
	t.mu.Unlock()
	return true
}

// proxyFor routes plain HTTP requests through an HTTP proxy. HTTPS
// requests tunnel through dialTLS instead, so their certificates are
// verified there as well.
func (t *HTTPTransport) proxyFor(req *http.Request) (*url.URL, error) {
	if t.proxy == nil || t.proxy.Scheme == "socks5" || req.URL.Scheme == "https" {
		return nil, nil
	}
	pu := *t.proxy
	t.mu.Lock()
	pu.User = t.proxyUser
	t.mu.Unlock()
	return &pu, nil
}

func (t *HTTPTransport) proxyAuthorization() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proxyUser == nil {
		return ""
	}
	pass, _ := t.proxyUser.Password()
	return basicAuthorization(t.proxyUser.Username(), pass)
}

// dialTunnel opens a raw connection to addr, through a CONNECT tunnel
// when an HTTP proxy is configured.
func (t *HTTPTransport) dialTunnel(ctx context.Context, network, addr string) (net.Conn, error) {
	if t.proxy == nil || t.proxy.Scheme == "socks5" {
		return t.dial(ctx, network, addr)
	}
	conn, err := t.dial(ctx, "tcp", proxyAddr(t.proxy))
	if err != nil {
		return nil, err
	}
	if t.proxy.Scheme == "https" {
		tc := tls.Client(conn, &tls.Config{ServerName: t.proxy.Hostname(), RootCAs: t.roots})
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("proxy TLS handshake: %w", err)
		}
		conn = tc
	}
	if err := connect(ctx, conn, addr, t.proxyAuthorization()); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// dialTLS performs the TLS handshake without the standard verification
// and runs verifyPeer instead. Certificate errors go to the Events of the
// reply being served; the connection is refused unless they say proceed.
// A connection accepted despite errors is never reused.
func (t *HTTPTransport) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	raw, err := t.dialTunnel(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	conn := tls.Client(raw, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	errs := verifyPeer(conn.ConnectionState(), host, t.roots, t.now())
	if len(errs) == 0 {
		return conn, nil
	}
	di := dialInfoFrom(ctx)
	if !di.ev.SSLErrors(di.reply, errs) {
		conn.Close()
		return nil, &TLSError{Host: host, Errors: errs}
	}
	t.log.Debug("Proceeding with %d certificate errors for %s", len(errs), host)
	return &untrustedConn{Conn: conn}, nil
}

// errUntrustedReuse is returned when the pool hands out a connection that
// was accepted despite certificate errors. Nothing has been written at
// that point, so http.Transport retries on a fresh connection and the
// errors are reported again under the current configuration.
var errUntrustedReuse = errors.New("connection with certificate errors cannot be reused")

// untrustedConn carries exactly one request. Any write after the first
// response bytes arrived belongs to a later request and is refused.
type untrustedConn struct {
	*tls.Conn
	answered atomic.Bool
}

func (c *untrustedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.answered.Store(true)
	}
	return n, err
}

func (c *untrustedConn) Write(p []byte) (int, error) {
	if c.answered.Load() {
		return 0, errUntrustedReuse
	}
	return c.Conn.Write(p)
}
