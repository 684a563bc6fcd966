package cookiestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const cookieFileMode = 0600

// Load creates a Store and fills it from the cookie file at path.
// A missing file yields an empty store. Cookies that cannot be parsed are
// skipped. Cookies that already expired are dropped.
func Load(path string, opts *Options) (*Store, error) {
	s := New(opts)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug("No cookie file at %s, starting empty", path)
			return s, nil
		}
		return nil, fmt.Errorf("read cookie file %s: %w", path, err)
	}
	now := s.now()
	cookies, err := ParseCookies(string(data), now)
	if err != nil {
		s.log.Warning("No usable cookie in %s: %v", path, err)
	}
	s.SetAllCookies(cookies)
	if n := s.PurgeExpired(now); n > 0 {
		s.log.Debug("Dropped %d expired cookies from %s", n, path)
	}
	s.log.Info("Loaded %d cookies from %s", s.Len(), path)
	return s, nil
}

// Save writes every persistent cookie to path, replacing the file
// atomically. It does nothing when persist is false; a file written
// earlier is left in place in that case.
func (s *Store) Save(path string, persist bool) error {
	if !persist {
		return nil
	}
	s.PurgeExpired(s.now())

	var sb strings.Builder
	n := 0
	for _, c := range s.AllCookies() {
		if c.IsSession() {
			continue
		}
		sb.WriteString(c.String())
		sb.WriteByte('\n')
		n++
	}
	if err := writeFileAtomic(s.fs, path, []byte(sb.String())); err != nil {
		return fmt.Errorf("save cookies to %s: %w", path, err)
	}
	s.log.Debug("Saved %d cookies to %s", n, path)
	return nil
}

// writeFileAtomic writes data to a temporary file next to path and
// renames it over path.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fs.Chmod(tmpPath, cookieFileMode); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
