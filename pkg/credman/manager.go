// Package credman keeps HTTP and proxy credentials encrypted on disk.
//
// Entries are keyed by host and realm. Passwords are sealed with
// AES-256-GCM using a key from the OS keyring; user names are stored in
// clear so entries can be listed without the key.
package credman

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/warpdl/warpnet/pkg/credman/encryption"
)

const fileMode = 0600

// ErrNotFound is returned when no credential exists for a host and realm.
var ErrNotFound = errors.New("credential not found")

// Credential is one stored login.
type Credential struct {
	Host     string
	Realm    string
	User     string
	Password string
}

type record struct {
	Host   string
	Realm  string
	User   string
	Sealed []byte
}

// Manager is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	key     []byte
	records map[string]record
}

// NewManager loads the credential file at path. A missing file is an
// empty store. A nil fs means the OS filesystem.
func NewManager(fs afero.Fs, path string, key []byte) (*Manager, error) {
	if len(key) != encryption.KeySize {
		return nil, fmt.Errorf("credential key must be %d bytes", encryption.KeySize)
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	m := &Manager{
		fs:      fs,
		path:    path,
		key:     key,
		records: make(map[string]record),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func recordKey(host, realm string) string {
	return strings.ToLower(host) + "\x00" + realm
}

func (m *Manager) load() error {
	data, err := afero.ReadFile(m.fs, m.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	var records []record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	for _, r := range records {
		m.records[recordKey(r.Host, r.Realm)] = r
	}
	return nil
}

func (m *Manager) saveLocked() error {
	records := make([]record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b record) int {
		return strings.Compare(recordKey(a.Host, a.Realm), recordKey(b.Host, b.Realm))
	})
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := m.fs.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := afero.TempFile(m.fs, dir, "."+filepath.Base(m.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		m.fs.Remove(tmpPath)
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		m.fs.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := m.fs.Chmod(tmpPath, fileMode); err != nil {
		m.fs.Remove(tmpPath)
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := m.fs.Rename(tmpPath, m.path); err != nil {
		m.fs.Remove(tmpPath)
		return fmt.Errorf("rename credentials: %w", err)
	}
	return nil
}

// Set stores or replaces the credential for c.Host and c.Realm and writes
// the file.
func (m *Manager) Set(c Credential) error {
	key := recordKey(c.Host, c.Realm)
	sealed, err := encryption.Seal([]byte(c.Password), []byte(key), m.key)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, had := m.records[key]
	m.records[key] = record{Host: c.Host, Realm: c.Realm, User: c.User, Sealed: sealed}
	if err := m.saveLocked(); err != nil {
		if had {
			m.records[key] = prev
		} else {
			delete(m.records, key)
		}
		return err
	}
	return nil
}

// Get returns the decrypted credential.
func (m *Manager) Get(host, realm string) (*Credential, error) {
	key := recordKey(host, realm)
	m.mu.Lock()
	r, ok := m.records[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	pw, err := encryption.Open(r.Sealed, []byte(key), m.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}
	return &Credential{Host: r.Host, Realm: r.Realm, User: r.User, Password: string(pw)}, nil
}

// Delete removes the credential for host and realm.
func (m *Manager) Delete(host, realm string) error {
	key := recordKey(host, realm)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.records, key)
	if err := m.saveLocked(); err != nil {
		m.records[key] = r
		return err
	}
	return nil
}

// List returns every stored credential without its password, sorted by
// host and realm.
func (m *Manager) List() []Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Credential, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, Credential{Host: r.Host, Realm: r.Realm, User: r.User})
	}
	slices.SortFunc(out, func(a, b Credential) int {
		return strings.Compare(recordKey(a.Host, a.Realm), recordKey(b.Host, b.Realm))
	})
	return out
}
