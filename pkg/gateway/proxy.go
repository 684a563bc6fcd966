package gateway

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrEmptyProxyURL          = errors.New("proxy URL cannot be empty")
	ErrUnsupportedProxyScheme = errors.New("unsupported proxy scheme")
	ErrInvalidProxyURL        = errors.New("invalid proxy URL")
	// ErrProxyAuthRequired is wrapped by errors from a CONNECT the proxy
	// answered with 407.
	ErrProxyAuthRequired = errors.New("Proxy Authentication Required")
)

var supportedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// ParseProxyURL parses and validates a proxy URL. Supported schemes are
// http, https and socks5.
func ParseProxyURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrEmptyProxyURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxyURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidProxyURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if !supportedProxySchemes[u.Scheme] {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedProxyScheme, u.Scheme)
	}
	return u, nil
}

// proxyAddr returns host:port of the proxy, filling in the scheme's
// default port.
func proxyAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	switch u.Scheme {
	case "https":
		port = "443"
	case "socks5":
		port = "1080"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

type proxyAuthError struct {
	realm string
}

func (e *proxyAuthError) Error() string {
	return fmt.Sprintf("proxy CONNECT: %s (realm %q)", ErrProxyAuthRequired, e.realm)
}

func (e *proxyAuthError) Unwrap() error { return ErrProxyAuthRequired }

// connect asks the HTTP proxy on conn to open a tunnel to addr.
func connect(ctx context.Context, conn net.Conn, addr, authorization string) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if authorization != "" {
		req.Header.Set("Proxy-Authorization", authorization)
	}
	if err := req.Write(conn); err != nil {
		return fmt.Errorf("proxy CONNECT: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("proxy CONNECT: %w", err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusProxyAuthRequired:
		realm, _ := basicRealm(resp.Header.Values("Proxy-Authenticate"))
		return &proxyAuthError{realm: realm}
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("proxy CONNECT: %s", resp.Status)
	}
	return nil
}

func basicAuthorization(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// basicRealm returns the realm of the first Basic challenge.
func basicRealm(challenges []string) (string, bool) {
	for _, c := range challenges {
		sch, params, _ := strings.Cut(strings.TrimSpace(c), " ")
		if !strings.EqualFold(sch, "basic") {
			continue
		}
		return authParam(params, "realm"), true
	}
	return "", false
}

func authParam(params, name string) string {
	i := strings.Index(strings.ToLower(params), name+"=")
	if i < 0 {
		return ""
	}
	v := params[i+len(name)+1:]
	if strings.HasPrefix(v, `"`) {
		v = v[1:]
		if j := strings.IndexByte(v, '"'); j >= 0 {
			return v[:j]
		}
		return v
	}
	if j := strings.IndexAny(v, ", "); j >= 0 {
		v = v[:j]
	}
	return v
}
