package cookies

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warpdl/warpnet/pkg/cookiestore"
	_ "modernc.org/sqlite"
)

// chromeEpochOffset is the number of seconds between 1601-01-01 and the
// Unix epoch. Chrome timestamps are microseconds since 1601-01-01.
const chromeEpochOffset int64 = 11_644_473_600

func chromeTime(usec int64) time.Time {
	if usec == 0 {
		return time.Time{}
	}
	return time.Unix(usec/1_000_000-chromeEpochOffset, 0)
}

// firefoxTime accepts both second and millisecond expiry columns; newer
// Firefox releases store milliseconds.
func firefoxTime(v int64) time.Time {
	if v > 1e11 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

type sqliteSchema struct {
	table, name, value, host, path, expiry, secure, httpOnly string

	// extra is appended to the WHERE clause.
	extra  string
	toTime func(int64) time.Time
}

var (
	firefoxSchema = sqliteSchema{
		table: "moz_cookies", name: "name", value: "value", host: "host", path: "path",
		expiry: "expiry", secure: "isSecure", httpOnly: "isHttpOnly",
		toTime: firefoxTime,
	}
	// Encrypted Chrome values have an empty value column and are skipped.
	chromeSchema = sqliteSchema{
		table: "cookies", name: "name", value: "value", host: "host_key", path: "path",
		expiry: "expires_utc", secure: "is_secure", httpOnly: "is_httponly",
		extra:  "value != ''",
		toTime: chromeTime,
	}
)

// readSQLite reads cookies from a copied database. An empty domain
// selects every cookie; otherwise the domain and its subdomains.
func readSQLite(dbPath string, s sqliteSchema, domain string, now time.Time) ([]*cookiestore.Cookie, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?immutable=1")
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", s.table, err)
	}
	defer db.Close()

	var where []string
	var args []any
	if domain != "" {
		where = append(where, fmt.Sprintf("(%[1]s = ? OR %[1]s = ? OR %[1]s LIKE ?)", s.host))
		args = append(args, domain, "."+domain, "%."+domain)
	}
	if s.extra != "" {
		where = append(where, s.extra)
	}
	query := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s, %s FROM %s",
		s.name, s.value, s.host, s.path, s.expiry, s.secure, s.httpOnly, s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + s.host + ", " + s.path + " DESC, " + s.name

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []*cookiestore.Cookie
	for rows.Next() {
		var (
			name, value, host, path string
			expiry                  int64
			secure, httpOnly        int
		)
		if err := rows.Scan(&name, &value, &host, &path, &expiry, &secure, &httpOnly); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", s.table, err)
		}
		c := newCookie(name, value, host, path, s.toTime(expiry), secure != 0, httpOnly != 0)
		if !c.IsSession() && c.Expires.Before(now) {
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", s.table, err)
	}
	return out, nil
}

// newCookie maps a browser row to a store cookie. A leading dot on host
// marks a domain cookie; anything else is host-only.
func newCookie(name, value, host, path string, expires time.Time, secure, httpOnly bool) *cookiestore.Cookie {
	if path == "" {
		path = "/"
	}
	return &cookiestore.Cookie{
		Name:     name,
		Value:    value,
		Domain:   strings.ToLower(strings.TrimPrefix(host, ".")),
		Path:     path,
		Expires:  expires,
		Secure:   secure,
		HttpOnly: httpOnly,
		HostOnly: !strings.HasPrefix(host, "."),
	}
}
