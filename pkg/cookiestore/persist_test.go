package cookiestore

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/warpnet/pkg/logger"
)

const cookiePath = "/data/warpnet/cookies"

func memOptions(fs afero.Fs, now time.Time) *Options {
	return &Options{
		Fs:     fs,
		Policy: func() AcceptPolicy { return AcceptAlways },
		Now:    func() time.Time { return now },
		Logger: logger.NewMockLogger(),
	}
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestSaveSkipsSessionCookies(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(memOptions(fs, testNow))
	if !s.SetCookiesFromURL([]*Cookie{{Name: "session", Value: "true"}}, mustURL(t, "http://example.com/")) {
		t.Fatal("session cookie not stored")
	}
	if err := s.Save(cookiePath, true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := readFile(t, fs, cookiePath); got != "" {
		t.Errorf("cookie file = %q, want empty", got)
	}
	cs := s.AllCookies()
	if len(cs) != 1 || cs[0].Name != "session" || !cs[0].IsSession() {
		t.Errorf("session cookie missing from memory: %v", cs)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(memOptions(fs, testNow))
	u := mustURL(t, "https://www.example.com/app/index.html")
	s.SetCookiesFromURL([]*Cookie{
		{Name: "id", Value: "42", Expires: testNow.Add(48 * time.Hour), Secure: true},
		{Name: "pref", Value: "dark", Domain: ".example.com", Path: "/", Expires: testNow.Add(time.Hour)},
		{Name: "short", Value: "x", Path: "/", Expires: testNow.Add(30 * time.Minute)},
		{Name: "tmp", Value: "session-only"},
	}, u)
	if err := s.Save(cookiePath, true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if lines := strings.Count(readFile(t, fs, cookiePath), "\n"); lines != 3 {
		t.Fatalf("file has %d lines, want 3", lines)
	}

	later := testNow.Add(45 * time.Minute)
	loaded, err := Load(cookiePath, memOptions(fs, later))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := map[string]*Cookie{}
	for _, c := range s.AllCookies() {
		if c.IsSession() || c.Expires.Before(later) {
			continue
		}
		want[c.key()] = c
	}
	got := loaded.AllCookies()
	if len(got) != len(want) {
		t.Fatalf("loaded %d cookies, want %d", len(got), len(want))
	}
	for _, c := range got {
		w, ok := want[c.key()]
		if !ok {
			t.Errorf("unexpected cookie %s", c.key())
			continue
		}
		if c.Value != w.Value || c.HostOnly != w.HostOnly || c.Secure != w.Secure || !c.Expires.Equal(w.Expires) {
			t.Errorf("cookie %q differs after reload: got %+v, want %+v", c.Name, c, w)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(cookiePath, memOptions(afero.NewMemMapFs(), testNow))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := strings.Join([]string{
		"good=1; expires=Fri, 01 Mar 2030 12:00:00 GMT; domain=.example.com; path=/",
		"this is not a cookie",
		"",
		"bad=1; expires=yesterday-ish",
		"old=1; expires=Fri, 01 Mar 2019 12:00:00 GMT; domain=example.com; path=/",
		"also=2; expires=Fri, 01 Mar 2030 12:00:00 GMT; domain=example.org; path=/",
	}, "\n")
	if err := afero.WriteFile(fs, cookiePath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	mock := logger.NewMockLogger()
	opts := memOptions(fs, testNow)
	opts.Logger = mock
	s, err := Load(cookiePath, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cs := s.AllCookies()
	if len(cs) != 2 || cs[0].Name != "good" || cs[1].Name != "also" {
		t.Fatalf("unexpected cookies: %v", cs)
	}
	if cs[0].HostOnly || !cs[1].HostOnly {
		t.Errorf("host-only flags not restored: %v %v", cs[0].HostOnly, cs[1].HostOnly)
	}
	for _, line := range mock.DebugCalls {
		if strings.Contains(line, "yesterday-ish") {
			t.Errorf("cookie data leaked into log: %q", line)
		}
	}
}

func TestLoadSeveralCookiesPerLine(t *testing.T) {
	fs := afero.NewMemMapFs()
	line := "a=1; expires=Fri, 01 Mar 2030 12:00:00 GMT; domain=.example.com; path=/, " +
		"b=2; expires=Fri, 01 Mar 2030 12:00:00 GMT; domain=.example.com; path=/\n"
	if err := afero.WriteFile(fs, cookiePath, []byte(line), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(cookiePath, memOptions(fs, testNow))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cs := s.AllCookies()
	if len(cs) != 2 {
		t.Fatalf("loaded %d cookies, want 2: %v", len(cs), cs)
	}
	if cs[0].Name != "a" || cs[0].Value != "1" || cs[1].Name != "b" || cs[1].Value != "2" {
		t.Errorf("unexpected cookies: %+v %+v", cs[0], cs[1])
	}
}

func TestLoadOnlyMalformedWarns(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, cookiePath, []byte("garbage\n"), 0600); err != nil {
		t.Fatal(err)
	}
	mock := logger.NewMockLogger()
	opts := memOptions(fs, testNow)
	opts.Logger = mock
	s, err := Load(cookiePath, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
	if len(mock.WarningCalls) != 1 {
		t.Errorf("warnings = %v, want one", mock.WarningCalls)
	}
}

func TestSaveDisabledKeepsExistingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	stale := "old=1; expires=Fri, 01 Mar 2030 12:00:00 GMT; domain=example.com; path=/\n"
	if err := afero.WriteFile(fs, cookiePath, []byte(stale), 0600); err != nil {
		t.Fatal(err)
	}
	s := New(memOptions(fs, testNow))
	s.SetCookiesFromURL([]*Cookie{{Name: "new", Value: "1", Expires: testNow.Add(time.Hour)}}, mustURL(t, "http://example.com/"))
	if err := s.Save(cookiePath, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := readFile(t, fs, cookiePath); got != stale {
		t.Errorf("file rewritten with persistence off: %q", got)
	}
}

func TestSavePurgesExpired(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(memOptions(fs, testNow))
	s.SetAllCookies([]*Cookie{
		{Name: "old", Value: "1", Domain: "example.com", Path: "/", Expires: testNow.Add(-time.Minute)},
		{Name: "new", Value: "2", Domain: "example.com", Path: "/", Expires: testNow.Add(time.Minute)},
	})
	if err := s.Save(cookiePath, true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := readFile(t, fs, cookiePath)
	if strings.Contains(got, "old=") || !strings.Contains(got, "new=2") {
		t.Errorf("unexpected file content %q", got)
	}
	if s.Len() != 1 {
		t.Errorf("expired cookie still in memory")
	}
}

func TestSaveWriteFailure(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	s := New(memOptions(fs, testNow))
	s.SetAllCookies([]*Cookie{{Name: "a", Value: "1", Domain: "example.com", Path: "/", Expires: testNow.Add(time.Hour)}})
	err := s.Save(cookiePath, true)
	if err == nil {
		t.Fatal("expected an error on a read-only filesystem")
	}
	if !strings.Contains(err.Error(), cookiePath) {
		t.Errorf("error %q does not mention the path", err)
	}
}
