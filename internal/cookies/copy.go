package cookies

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// safeCopy copies a SQLite database and its -wal and -shm companions into
// a temporary directory so a running browser's lock is not disturbed. The
// caller must call cleanup.
func safeCopy(src string) (copied string, cleanup func(), err error) {
	dir, err := os.MkdirTemp("", "warpnet-cookies-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	copied = filepath.Join(dir, filepath.Base(src))
	if err := copyFile(src, copied); err != nil {
		cleanup()
		return "", nil, err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(src + suffix); err == nil {
			// Best effort; the main file alone is a consistent snapshot
			// when the browser has checkpointed.
			_ = copyFile(src+suffix, copied+suffix)
		}
	}
	return copied, cleanup, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
