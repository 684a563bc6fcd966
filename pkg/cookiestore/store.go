package cookiestore

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/warpnet/pkg/logger"
	"golang.org/x/net/publicsuffix"
)

// AcceptPolicy decides whether cookies received from the network are stored.
type AcceptPolicy string

const (
	// AcceptAlways stores every cookie that passes domain validation.
	AcceptAlways AcceptPolicy = "always"
	// AcceptNever rejects every cookie received from the network.
	AcceptNever AcceptPolicy = "never"
)

// ParseAcceptPolicy validates an accept policy name.
func ParseAcceptPolicy(s string) (AcceptPolicy, error) {
	switch p := AcceptPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case AcceptAlways, AcceptNever:
		return p, nil
	}
	return "", fmt.Errorf("invalid cookie accept policy %q (expected always or never)", s)
}

var (
	errIllegalDomain   = errors.New("cookie domain does not match request host")
	errPublicSuffix    = errors.New("cookie domain is a public suffix")
	errNoHost          = errors.New("url has no host")
	errMalformedDomain = errors.New("malformed cookie domain")
)

// Options configures a Store. The zero value is usable.
type Options struct {
	// Fs is the filesystem used by Load and Save. Defaults to the OS filesystem.
	Fs afero.Fs
	// Policy returns the current accept policy. It is consulted on every
	// SetCookiesFromURL call so configuration changes apply immediately.
	// Defaults to AcceptAlways.
	Policy func() AcceptPolicy
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger receives diagnostics. Cookie values are never logged.
	Logger logger.Logger
}

type entry struct {
	c   *Cookie
	seq uint64
}

// Store is an in-memory cookie set with optional on-disk persistence.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	seq     uint64

	fs     afero.Fs
	policy func() AcceptPolicy
	now    func() time.Time
	log    logger.Logger
}

// New returns an empty Store.
func New(opts *Options) *Store {
	if opts == nil {
		opts = &Options{}
	}
	s := &Store{
		entries: make(map[string]entry),
		fs:      opts.Fs,
		policy:  opts.Policy,
		now:     opts.Now,
		log:     logger.OrNop(opts.Logger),
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.policy == nil {
		s.policy = func() AcceptPolicy { return AcceptAlways }
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetCookiesFromURL stores cookies received in a response for u.
// It returns false without touching the store when the accept policy is
// AcceptNever. Otherwise every cookie is validated against u: a missing
// domain makes the cookie host-only, an explicit domain must domain-match
// the host and must not be a public suffix, and a missing path defaults to
// the directory of the request path. A cookie that is already expired
// removes the stored cookie with the same name, domain and path.
//
// It returns true if at least one cookie was stored.
func (s *Store) SetCookiesFromURL(cookies []*Cookie, u *url.URL) bool {
	if s.policy() == AcceptNever {
		return false
	}
	if u == nil || len(cookies) == 0 {
		return false
	}
	host, err := canonicalHost(u)
	if err != nil {
		s.log.Debug("Ignoring cookies for %s: %v", u.Redacted(), err)
		return false
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	for _, in := range cookies {
		if in == nil || in.Name == "" {
			continue
		}
		c, err := normalize(in, u, host)
		if err != nil {
			s.log.Debug("Rejecting cookie %q for %s: %v", in.Name, host, err)
			continue
		}
		if c.expiredAt(now) {
			delete(s.entries, c.key())
			continue
		}
		s.insertLocked(c)
		added = true
	}
	return added
}

// insertLocked stores c, keeping the creation sequence of a replaced cookie.
func (s *Store) insertLocked(c *Cookie) {
	k := c.key()
	if old, ok := s.entries[k]; ok {
		s.entries[k] = entry{c: c, seq: old.seq}
		return
	}
	s.seq++
	s.entries[k] = entry{c: c, seq: s.seq}
}

// SetAllCookies replaces the whole cookie set. No policy or domain checks
// are applied; this is used when restoring persisted or imported cookies.
func (s *Store) SetAllCookies(cookies []*Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		s.insertLocked(c.clone())
	}
}

// AddCookies merges cookies into the store without policy or domain
// checks. Cookies with the same name, domain and path are replaced.
func (s *Store) AddCookies(cookies []*Cookie) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		s.insertLocked(c.clone())
		n++
	}
	return n
}

// AllCookies returns a snapshot of every stored cookie in creation order.
func (s *Store) AllCookies() []*Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es := make([]entry, 0, len(s.entries))
	for _, e := range s.entries {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]*Cookie, len(es))
	for i, e := range es {
		out[i] = e.c.clone()
	}
	return out
}

// Len returns the number of stored cookies.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Delete removes the cookie identified by name, domain and path.
func (s *Store) Delete(name, domain, path string) bool {
	k := (&Cookie{Name: name, Domain: strings.ToLower(strings.TrimPrefix(domain, ".")), Path: path}).key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[k]; !ok {
		return false
	}
	delete(s.entries, k)
	return true
}

// Clear removes every cookie.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
}

// PurgeExpired removes every persistent cookie whose expiry is strictly
// before now. Session cookies are never purged. It returns the number of
// removed cookies.
func (s *Store) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.c.expiredAt(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Cookies returns the unexpired cookies to send with a request to u,
// longest path first, then oldest first.
func (s *Store) Cookies(u *url.URL) []*Cookie {
	host, err := canonicalHost(u)
	if err != nil {
		return nil
	}
	secure := u.Scheme == "https" || u.Scheme == "wss"
	reqPath := u.EscapedPath()
	if reqPath == "" {
		reqPath = "/"
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	type match struct {
		c   *Cookie
		seq uint64
	}
	var ms []match
	for _, e := range s.entries {
		c := e.c
		if c.Secure && !secure {
			continue
		}
		if !c.IsSession() && !c.Expires.After(now) {
			continue
		}
		if c.HostOnly {
			if host != c.Domain {
				continue
			}
		} else if !domainMatch(host, c.Domain) {
			continue
		}
		if !pathMatch(reqPath, c.Path) {
			continue
		}
		ms = append(ms, match{c: c, seq: e.seq})
	}
	sort.Slice(ms, func(i, j int) bool {
		if len(ms[i].c.Path) != len(ms[j].c.Path) {
			return len(ms[i].c.Path) > len(ms[j].c.Path)
		}
		return ms[i].seq < ms[j].seq
	})
	out := make([]*Cookie, len(ms))
	for i, m := range ms {
		out[i] = m.c.clone()
	}
	return out
}

// normalize validates in against the request URL and returns the cookie
// to store.
func normalize(in *Cookie, u *url.URL, host string) (*Cookie, error) {
	c := in.clone()
	domain, hostOnly, err := domainAndType(host, in.Domain)
	if err != nil {
		return nil, err
	}
	c.Domain = domain
	c.HostOnly = hostOnly
	if c.Path == "" || c.Path[0] != '/' {
		c.Path = defaultPath(u.EscapedPath())
	}
	if c.Raw == "" {
		c.Raw = c.String()
	}
	return c, nil
}

// domainAndType resolves the stored domain of a cookie and whether it is
// host-only, following RFC 6265 section 5.3 steps 4 to 6.
func domainAndType(host, domain string) (string, bool, error) {
	if domain == "" {
		return host, true, nil
	}
	if isIP(host) {
		if host != domain {
			return "", false, errIllegalDomain
		}
		return host, true, nil
	}
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if domain == "" || strings.HasSuffix(domain, ".") || strings.HasPrefix(domain, ".") {
		return "", false, errMalformedDomain
	}
	if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain {
		if host != domain {
			return "", false, errPublicSuffix
		}
		return host, true, nil
	}
	if !domainMatch(host, domain) {
		return "", false, errIllegalDomain
	}
	return domain, false, nil
}

func canonicalHost(u *url.URL) (string, error) {
	if u == nil {
		return "", errNoHost
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", errNoHost
	}
	return host, nil
}

func isIP(host string) bool {
	return net.ParseIP(host) != nil
}

// domainMatch implements RFC 6265 section 5.1.3.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return !isIP(host) && strings.HasSuffix(host, "."+domain)
}

// pathMatch implements RFC 6265 section 5.1.4.
func pathMatch(reqPath, cookiePath string) bool {
	if cookiePath == "" {
		cookiePath = "/"
	}
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

// defaultPath implements RFC 6265 section 5.1.4 default-path.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
