package keyring

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const keyFileMode = 0600

// FileKeyStore keeps the key hex-encoded in a 0600 file. It is used when
// the system keyring is unavailable.
type FileKeyStore struct {
	fs   afero.Fs
	path string
}

// NewFileKeyStore stores the key at path. A nil fs means the OS filesystem.
func NewFileKeyStore(fs afero.Fs, path string) *FileKeyStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileKeyStore{fs: fs, path: path}
}

// SetKey generates a new key and writes it atomically (temp file, chmod,
// rename).
func (f *FileKeyStore) SetKey() ([]byte, error) {
	dir := filepath.Dir(f.path)
	if err := f.fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := randRead(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	tmp, err := afero.TempFile(f.fs, dir, "."+filepath.Base(f.path)+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("write key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := f.fs.Chmod(tmpPath, keyFileMode); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("set permissions: %w", err)
	}
	if err := f.fs.Rename(tmpPath, f.path); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("rename key file: %w", err)
	}
	return key, nil
}

func (f *FileKeyStore) GetKey() ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, err
	}
	return decodeKey(string(data))
}

func (f *FileKeyStore) DeleteKey() error {
	err := f.fs.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoKey
	}
	return err
}
