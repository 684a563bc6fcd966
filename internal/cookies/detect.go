package cookies

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrUnsupported is returned for files that are not a known cookie store.
var ErrUnsupported = errors.New("unsupported cookie store")

// sqliteMagic is the first 16 bytes of any SQLite database file.
var sqliteMagic = []byte("SQLite format 3\x00")

var netscapeHeaders = []string{"# Netscape HTTP Cookie File", "# HTTP Cookie File"}

// DetectFormat sniffs the file at path.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("open cookie store: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return FormatUnknown, fmt.Errorf("stat cookie store: %w", err)
	}
	if info.IsDir() {
		return FormatUnknown, fmt.Errorf("%s is a directory", path)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return FormatUnknown, fmt.Errorf("%s is empty", path)
		}
		return FormatUnknown, fmt.Errorf("read cookie store: %w", err)
	}
	head = head[:n]

	if bytes.HasPrefix(head, sqliteMagic) {
		return detectSQLiteFormat(path)
	}
	first, _, _ := strings.Cut(string(head), "\n")
	first = strings.TrimRight(first, "\r")
	for _, h := range netscapeHeaders {
		if first == h {
			return FormatNetscape, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupported, path)
}

// detectSQLiteFormat checks which cookie table the database has.
func detectSQLiteFormat(path string) (Format, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return FormatUnknown, fmt.Errorf("open sqlite database: %w", err)
	}
	defer db.Close()

	for _, t := range []struct {
		table  string
		format Format
	}{
		{"moz_cookies", FormatFirefox},
		{"cookies", FormatChrome},
	} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, t.table).Scan(&name)
		if err == nil {
			return t.format, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return FormatUnknown, fmt.Errorf("inspect sqlite database: %w", err)
		}
	}
	return FormatUnknown, fmt.Errorf("%w: unknown sqlite schema in %s", ErrUnsupported, path)
}
