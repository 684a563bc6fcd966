package cookiestore

import (
	"net/http"
	"net/url"
)

// jar adapts a Store to http.CookieJar.
type jar struct {
	s *Store
}

// Jar returns an http.CookieJar backed by s. The store's accept policy
// applies to SetCookies.
func (s *Store) Jar() http.CookieJar {
	return jar{s: s}
}

func (j jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	now := j.s.now()
	cs := make([]*Cookie, 0, len(cookies))
	for _, hc := range cookies {
		cs = append(cs, FromHTTP(hc, now))
	}
	j.s.SetCookiesFromURL(cs, u)
}

func (j jar) Cookies(u *url.URL) []*http.Cookie {
	cs := j.s.Cookies(u)
	out := make([]*http.Cookie, len(cs))
	for i, c := range cs {
		out[i] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return out
}
