// Package cookiestore implements the cookie store shared by the network
// gateway and every other consumer that needs to read cookies.
//
// Cookies live in memory for the lifetime of the process. Persistent
// cookies (the ones carrying an expiry) can be written to a plain text
// file in Set-Cookie form, normally one cookie per line, and read back at
// startup.
// Session cookies are never written to disk.
package cookiestore

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedCookie is returned when a serialized cookie cannot be parsed.
var ErrMalformedCookie = errors.New("malformed cookie")

// Cookie is a single stored cookie. Stored cookies are never mutated;
// an update replaces the entry with the same name, domain and path.
//
// Value is sensitive: it must never be logged or put into error messages.
type Cookie struct {
	Name  string
	Value string
	// Domain is stored without a leading dot.
	Domain string
	Path   string
	// Expires is zero for session cookies.
	Expires  time.Time
	Secure   bool
	HttpOnly bool
	// HostOnly is set when the cookie applies to Domain exactly and not
	// to its subdomains.
	HostOnly bool
	// Raw is the serialized form the cookie was parsed from, if any.
	Raw string
}

// IsSession reports whether c is a session cookie (no expiry).
func (c *Cookie) IsSession() bool {
	return c.Expires.IsZero()
}

// expiredAt reports whether c is a persistent cookie whose expiry lies
// strictly before now.
func (c *Cookie) expiredAt(now time.Time) bool {
	return !c.IsSession() && c.Expires.Before(now)
}

// key identifies a cookie inside the store.
func (c *Cookie) key() string {
	return c.Name + "\x00" + c.Domain + "\x00" + c.Path
}

// String returns the wire serialization used for the cookie file:
//
//	name=value; secure; HttpOnly; expires=Mon, 02 Jan 2006 15:04:05 GMT; domain=.example.com; path=/
//
// Domain cookies are written with a leading dot, host-only cookies without.
func (c *Cookie) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteByte('=')
	sb.WriteString(c.Value)
	if c.Secure {
		sb.WriteString("; secure")
	}
	if c.HttpOnly {
		sb.WriteString("; HttpOnly")
	}
	if !c.IsSession() {
		sb.WriteString("; expires=")
		sb.WriteString(c.Expires.UTC().Format(http.TimeFormat))
	}
	if c.Domain != "" {
		sb.WriteString("; domain=")
		if !c.HostOnly {
			sb.WriteByte('.')
		}
		sb.WriteString(c.Domain)
	}
	if c.Path != "" {
		sb.WriteString("; path=")
		sb.WriteString(c.Path)
	}
	return sb.String()
}

func (c *Cookie) clone() *Cookie {
	cc := *c
	return &cc
}

// ParseCookies parses serialized cookies as produced by Cookie.String.
// Each line holds zero or more cookies; several cookies on one line are
// separated by commas. Cookies that cannot be parsed are skipped; an error
// is returned only when text is not blank and no cookie could be parsed.
// now resolves Max-Age attributes.
func ParseCookies(text string, now time.Time) ([]*Cookie, error) {
	var (
		cookies []*Cookie
		lastErr error
	)
	for _, line := range strings.Split(text, "\n") {
		for _, part := range splitCookieLine(line) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			c, err := parseCookie(part, now)
			if err != nil {
				lastErr = err
				continue
			}
			cookies = append(cookies, c)
		}
	}
	if len(cookies) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return cookies, nil
}

// splitCookieLine splits line at every comma that starts a new name=value
// pair. The comma after the weekday of an expires date and commas inside a
// value do not split.
func splitCookieLine(line string) []string {
	var (
		parts     []string
		start     int
		attrStart int
	)
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ';':
			attrStart = i + 1
		case ',':
			if inExpiresWeekday(line[attrStart:i]) || !startsPair(line[i+1:]) {
				continue
			}
			parts = append(parts, line[start:i])
			start, attrStart = i+1, i+1
		}
	}
	return append(parts, line[start:])
}

// inExpiresWeekday reports whether attr is an expires attribute whose value
// so far is only a day name, as in "expires=Mon".
func inExpiresWeekday(attr string) bool {
	k, v, ok := strings.Cut(attr, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(k), "expires") {
		return false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, r := range v {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// startsPair reports whether s begins with a cookie name followed by '='.
func startsPair(s string) bool {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, "=;, \t")
	return i > 0 && s[i] == '='
}

func parseCookie(line string, now time.Time) (*Cookie, error) {
	parts := strings.Split(line, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: missing name=value pair", ErrMalformedCookie)
	}
	c := &Cookie{
		Name:     name,
		Value:    strings.TrimSpace(value),
		HostOnly: true,
		Raw:      line,
	}
	var maxAgeSeen bool
	for _, attr := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(attr), "=")
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		case "domain":
			if v == "" {
				continue
			}
			if strings.HasPrefix(v, ".") {
				c.HostOnly = false
				v = v[1:]
			}
			c.Domain = strings.ToLower(v)
		case "path":
			c.Path = v
		case "expires":
			if maxAgeSeen {
				continue
			}
			t, err := http.ParseTime(v)
			if err != nil {
				return nil, fmt.Errorf("%w: bad expires attribute", ErrMalformedCookie)
			}
			c.Expires = t.UTC()
		case "max-age":
			secs, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%w: bad max-age attribute", ErrMalformedCookie)
			}
			maxAgeSeen = true
			c.Expires = maxAgeExpiry(secs, now)
		}
	}
	return c, nil
}

// maxAgeExpiry converts a Max-Age value into an absolute expiry.
// Non-positive values yield a time in the past.
func maxAgeExpiry(secs int, now time.Time) time.Time {
	if secs <= 0 {
		return time.Unix(1, 0).UTC()
	}
	return now.Add(time.Duration(secs) * time.Second).UTC()
}

// FromHTTP converts a cookie received in a response into a store cookie.
// now resolves MaxAge.
func FromHTTP(hc *http.Cookie, now time.Time) *Cookie {
	c := &Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   strings.ToLower(strings.TrimPrefix(hc.Domain, ".")),
		Path:     hc.Path,
		Secure:   hc.Secure,
		HttpOnly: hc.HttpOnly,
		Raw:      hc.Raw,
	}
	switch {
	case hc.MaxAge < 0:
		c.Expires = time.Unix(1, 0).UTC()
	case hc.MaxAge > 0:
		c.Expires = maxAgeExpiry(hc.MaxAge, now)
	case !hc.Expires.IsZero():
		c.Expires = hc.Expires.UTC()
	}
	return c
}

// HTTP converts c into a net/http cookie.
func (c *Cookie) HTTP() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	if !c.HostOnly {
		hc.Domain = c.Domain
	}
	return hc
}
