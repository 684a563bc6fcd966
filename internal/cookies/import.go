package cookies

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/warpdl/warpnet/pkg/cookiestore"
	"github.com/warpdl/warpnet/pkg/logger"
)

// Read detects the format of the store at path and returns its unexpired
// cookies for domain (all domains when empty).
func Read(path, domain string, now time.Time, l logger.Logger) ([]*cookiestore.Cookie, *Source, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, nil, err
	}
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	src := &Source{Path: path, Format: format}

	var cookies []*cookiestore.Cookie
	switch format {
	case FormatFirefox:
		cookies, err = readCopied(path, firefoxSchema, domain, now)
	case FormatChrome:
		cookies, err = readCopied(path, chromeSchema, domain, now)
	case FormatNetscape:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open cookie file: %w", err)
		}
		defer f.Close()
		cookies, err = ParseNetscape(f, domain, now, l)
	}
	if err != nil {
		return nil, nil, err
	}
	return cookies, src, nil
}

func readCopied(path string, s sqliteSchema, domain string, now time.Time) ([]*cookiestore.Cookie, error) {
	copied, cleanup, err := safeCopy(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return readSQLite(copied, s, domain, now)
}

// Import reads the store at path and merges its cookies into store,
// replacing cookies with the same name, domain and path. It returns the
// number of cookies added.
func Import(store *cookiestore.Store, path, domain string, now time.Time, l logger.Logger) (int, *Source, error) {
	l = logger.OrNop(l)
	cookies, src, err := Read(path, domain, now, l)
	if err != nil {
		return 0, nil, err
	}
	n := store.AddCookies(cookies)
	l.Info("Imported %d cookies from %s store", n, src.Format)
	return n, src, nil
}
