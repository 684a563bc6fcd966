package cookies

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/warpdl/warpnet/pkg/cookiestore"
	"github.com/warpdl/warpnet/pkg/logger"
)

const httpOnlyPrefix = "#HttpOnly_"

// ParseNetscape reads a Netscape cookie file (curl, wget, browser
// extensions). Comment lines are skipped except the #HttpOnly_ prefix.
// Malformed lines are skipped with a debug log naming the line number
// only. An expiry of 0 is a session cookie; expired cookies are dropped.
func ParseNetscape(r io.Reader, domain string, now time.Time, l logger.Logger) ([]*cookiestore.Cookie, error) {
	l = logger.OrNop(l)
	var out []*cookiestore.Cookie
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = line[len(httpOnlyPrefix):]
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		// domain, include-subdomains, path, secure, expiry, name, value
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			l.Debug("Skipping malformed cookie line %d", lineNo)
			continue
		}
		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			l.Debug("Skipping cookie line %d: invalid expiry", lineNo)
			continue
		}
		host := fields[0]
		if !matchesDomain(host, domain) {
			continue
		}
		// The include-subdomains flag wins over the dot convention.
		if strings.EqualFold(fields[1], "TRUE") && !strings.HasPrefix(host, ".") {
			host = "." + host
		}
		var expires time.Time
		if expiry > 0 {
			expires = time.Unix(expiry, 0)
			if expires.Before(now) {
				continue
			}
		}
		out = append(out, newCookie(fields[5], fields[6], host, fields[2], expires,
			strings.EqualFold(fields[3], "TRUE"), httpOnly))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read netscape cookie file: %w", err)
	}
	return out, nil
}

// matchesDomain reports whether a cookie host belongs to domain or one of
// its subdomains. An empty domain matches everything.
func matchesDomain(host, domain string) bool {
	if domain == "" {
		return true
	}
	host = strings.ToLower(strings.TrimPrefix(host, "."))
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}
