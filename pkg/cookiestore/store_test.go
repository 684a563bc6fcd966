package cookiestore

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/warpdl/warpnet/pkg/logger"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func newTestStore(policy AcceptPolicy) *Store {
	return New(&Options{
		Policy: func() AcceptPolicy { return policy },
		Now:    func() time.Time { return testNow },
		Logger: logger.NewMockLogger(),
	})
}

func TestParseAcceptPolicy(t *testing.T) {
	for in, want := range map[string]AcceptPolicy{"always": AcceptAlways, " Never ": AcceptNever} {
		got, err := ParseAcceptPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseAcceptPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAcceptPolicy("no-3rdparty"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestSetCookiesFromURLPolicyNever(t *testing.T) {
	s := newTestStore(AcceptNever)
	s.SetAllCookies([]*Cookie{{Name: "keep", Value: "1", Domain: "example.com", Path: "/", HostOnly: true}})
	before := s.AllCookies()

	inputs := [][]*Cookie{
		{{Name: "a", Value: "1"}},
		{{Name: "b", Value: "2", Domain: "example.com"}, {Name: "c", Value: "3", Expires: testNow.Add(time.Hour)}},
		{{Name: "keep", Value: "1", Path: "/", Expires: time.Unix(1, 0)}},
	}
	for _, u := range []string{"http://example.com/", "https://other.org/x/y", "ftp://10.0.0.1/"} {
		for _, cs := range inputs {
			if s.SetCookiesFromURL(cs, mustURL(t, u)) {
				t.Fatalf("SetCookiesFromURL returned true under policy never for %s", u)
			}
		}
	}
	after := s.AllCookies()
	if len(after) != len(before) || after[0].key() != before[0].key() || after[0].Value != before[0].Value {
		t.Fatalf("store changed under policy never: %+v", after)
	}
}

func TestSetCookiesFromURLDefaults(t *testing.T) {
	s := newTestStore(AcceptAlways)
	if !s.SetCookiesFromURL([]*Cookie{{Name: "session", Value: "true"}}, mustURL(t, "http://Example.com/a/b/page")) {
		t.Fatal("expected cookie to be stored")
	}
	cs := s.AllCookies()
	if len(cs) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cs))
	}
	c := cs[0]
	if c.Domain != "example.com" || !c.HostOnly {
		t.Errorf("domain = %q hostOnly = %v, want host-only example.com", c.Domain, c.HostOnly)
	}
	if c.Path != "/a/b" {
		t.Errorf("path = %q, want /a/b", c.Path)
	}
}

func TestSetCookiesFromURLEscapedPath(t *testing.T) {
	s := newTestStore(AcceptAlways)
	u := mustURL(t, "http://example.com/a%2Fb/c%20d/page")
	if !s.SetCookiesFromURL([]*Cookie{{Name: "enc", Value: "1"}}, u) {
		t.Fatal("expected cookie to be stored")
	}
	if got := s.AllCookies()[0].Path; got != "/a%2Fb/c%20d" {
		t.Errorf("path = %q, want /a%%2Fb/c%%20d", got)
	}
	cs := s.Cookies(u)
	if len(cs) != 1 || cs[0].Name != "enc" {
		t.Errorf("cookie not sent back to its own URL: %v", cs)
	}
}

func TestSetCookiesFromURLDomainRules(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		domain     string
		wantStored bool
		wantDomain string
		wantHost   bool
	}{
		{"parent domain", "http://www.example.com/", ".example.com", true, "example.com", false},
		{"same domain", "http://example.com/", "example.com", true, "example.com", false},
		{"unrelated domain", "http://example.com/", "other.com", false, "", false},
		{"subdomain of host", "http://example.com/", "a.example.com", false, "", false},
		{"public suffix", "http://example.com/", "com", false, "", false},
		{"multi-label public suffix", "http://foo.co.uk/", ".co.uk", false, "", false},
		{"ip host matching", "http://10.0.0.1/", "10.0.0.1", true, "10.0.0.1", true},
		{"ip host mismatch", "http://10.0.0.1/", "10.0.0.2", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(AcceptAlways)
			got := s.SetCookiesFromURL([]*Cookie{{Name: "n", Value: "v", Domain: tt.domain}}, mustURL(t, tt.url))
			if got != tt.wantStored {
				t.Fatalf("SetCookiesFromURL = %v, want %v", got, tt.wantStored)
			}
			if !tt.wantStored {
				if s.Len() != 0 {
					t.Fatalf("rejected cookie was stored")
				}
				return
			}
			c := s.AllCookies()[0]
			if c.Domain != tt.wantDomain || c.HostOnly != tt.wantHost {
				t.Errorf("got domain %q hostOnly %v, want %q %v", c.Domain, c.HostOnly, tt.wantDomain, tt.wantHost)
			}
		})
	}
}

func TestSetCookiesFromURLMixedBatch(t *testing.T) {
	s := newTestStore(AcceptAlways)
	ok := s.SetCookiesFromURL([]*Cookie{
		{Name: "bad", Value: "1", Domain: "evil.com"},
		{Name: "good", Value: "2"},
	}, mustURL(t, "http://example.com/"))
	if !ok || s.Len() != 1 {
		t.Fatalf("got %v with %d cookies, want true with 1", ok, s.Len())
	}
	ok = s.SetCookiesFromURL([]*Cookie{{Name: "bad", Value: "1", Domain: "evil.com"}}, mustURL(t, "http://example.com/"))
	if ok {
		t.Fatal("batch with only rejected cookies should return false")
	}
}

func TestSetCookiesFromURLReplaceKeepsOrder(t *testing.T) {
	s := newTestStore(AcceptAlways)
	u := mustURL(t, "http://example.com/")
	s.SetCookiesFromURL([]*Cookie{{Name: "first", Value: "1", Path: "/"}}, u)
	s.SetCookiesFromURL([]*Cookie{{Name: "second", Value: "2", Path: "/"}}, u)
	s.SetCookiesFromURL([]*Cookie{{Name: "first", Value: "updated", Path: "/"}}, u)

	cs := s.AllCookies()
	if len(cs) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cs))
	}
	if cs[0].Name != "first" || cs[0].Value != "updated" || cs[1].Name != "second" {
		t.Errorf("unexpected order or value: %v, %v", cs[0], cs[1])
	}
}

func TestSetCookiesFromURLExpiredDeletes(t *testing.T) {
	s := newTestStore(AcceptAlways)
	u := mustURL(t, "http://example.com/")
	s.SetCookiesFromURL([]*Cookie{{Name: "id", Value: "1", Path: "/", Expires: testNow.Add(time.Hour)}}, u)
	if s.Len() != 1 {
		t.Fatal("expected one cookie")
	}
	got := s.SetCookiesFromURL([]*Cookie{{Name: "id", Value: "", Path: "/", Expires: testNow.Add(-time.Hour)}}, u)
	if got {
		t.Error("an expired cookie should not count as stored")
	}
	if s.Len() != 0 {
		t.Errorf("expired cookie should delete the stored one, %d left", s.Len())
	}
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(AcceptAlways)
	s.SetAllCookies([]*Cookie{
		{Name: "session", Value: "1", Domain: "example.com", Path: "/"},
		{Name: "old", Value: "1", Domain: "example.com", Path: "/", Expires: testNow.Add(-time.Second)},
		{Name: "edge", Value: "1", Domain: "example.com", Path: "/", Expires: testNow},
		{Name: "fresh", Value: "1", Domain: "example.com", Path: "/", Expires: testNow.Add(time.Hour)},
	})
	if n := s.PurgeExpired(testNow); n != 1 {
		t.Errorf("PurgeExpired removed %d, want 1", n)
	}
	for _, c := range s.AllCookies() {
		if !c.IsSession() && c.Expires.Before(testNow) {
			t.Errorf("cookie %q survived purge", c.Name)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
}

func TestCookiesForURL(t *testing.T) {
	s := newTestStore(AcceptAlways)
	s.SetAllCookies([]*Cookie{
		{Name: "root", Value: "1", Domain: "example.com", Path: "/"},
		{Name: "deep", Value: "2", Domain: "example.com", Path: "/docs/api"},
		{Name: "docs", Value: "3", Domain: "example.com", Path: "/docs"},
		{Name: "secure", Value: "4", Domain: "example.com", Path: "/", Secure: true},
		{Name: "hostonly", Value: "5", Domain: "example.com", Path: "/", HostOnly: true},
		{Name: "expired", Value: "6", Domain: "example.com", Path: "/", Expires: testNow.Add(-time.Hour)},
		{Name: "other", Value: "7", Domain: "other.com", Path: "/"},
		{Name: "prefix", Value: "8", Domain: "example.com", Path: "/doc"},
	})

	names := func(cs []*Cookie) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.Name)
		}
		return out
	}
	tests := []struct {
		url  string
		want []string
	}{
		{"http://www.example.com/docs/api/x", []string{"deep", "docs", "root"}},
		{"https://example.com/docs/", []string{"docs", "root", "secure", "hostonly"}},
		{"http://example.com/documents", []string{"root", "hostonly"}},
		{"http://other.com/", []string{"other"}},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := names(s.Cookies(mustURL(t, tt.url)))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(AcceptAlways)
	s.SetAllCookies([]*Cookie{
		{Name: "a", Value: "1", Domain: "example.com", Path: "/"},
		{Name: "b", Value: "2", Domain: "example.com", Path: "/"},
	})
	if !s.Delete("a", ".example.com", "/") {
		t.Fatal("Delete should find cookie a")
	}
	if s.Delete("a", "example.com", "/") {
		t.Fatal("second Delete should report false")
	}
	if n := s.AddCookies([]*Cookie{{Name: "c", Value: "3", Domain: "example.com", Path: "/"}, nil}); n != 1 {
		t.Errorf("AddCookies = %d, want 1", n)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d", s.Len())
	}
}

func TestJarAdapter(t *testing.T) {
	s := newTestStore(AcceptAlways)
	j := s.Jar()
	u := mustURL(t, "https://example.com/login")
	j.SetCookies(u, []*http.Cookie{
		{Name: "sid", Value: "abc", Secure: true},
		{Name: "gone", Value: "x", MaxAge: -1},
	})
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	got := j.Cookies(mustURL(t, "https://example.com/"))
	if len(got) != 1 || got[0].Name != "sid" || got[0].Value != "abc" {
		t.Fatalf("Cookies(https) = %v", got)
	}
	if got := j.Cookies(mustURL(t, "http://example.com/")); len(got) != 0 {
		t.Errorf("secure cookie sent over http: %v", got)
	}
}
