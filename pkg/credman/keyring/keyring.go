// Package keyring stores the credential cache key in the operating
// system keyring, falling back to a key file when no keyring service is
// reachable.
package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/warpdl/warpnet/pkg/logger"
	"github.com/zalando/go-keyring"
)

const keySize = 32

// ErrNoKey is returned by GetKey when no key has been stored yet.
var ErrNoKey = errors.New("key not found")

// KeyStore persists a single symmetric key.
type KeyStore interface {
	GetKey() ([]byte, error)
	SetKey() ([]byte, error)
	DeleteKey() error
}

// Keyring is a KeyStore backed by the OS keyring.
type Keyring struct {
	Service string
	User    string
}

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
	randRead      = rand.Read
)

func NewKeyring() *Keyring {
	return &Keyring{
		Service: "warpnet",
		User:    "credentials",
	}
}

func (k *Keyring) SetKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := randRead(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := keyringSet(k.Service, k.User, hex.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}

func (k *Keyring) GetKey() ([]byte, error) {
	v, err := keyringGet(k.Service, k.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, err
	}
	return decodeKey(v)
}

func (k *Keyring) DeleteKey() error {
	err := keyringDelete(k.Service, k.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNoKey
	}
	return err
}

func decodeKey(v string) ([]byte, error) {
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid key format: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key length: expected %d, got %d", keySize, len(key))
	}
	return key, nil
}

// Resolve returns the key held by primary, creating one if none exists.
// When primary fails for any other reason the fallback store is used the
// same way.
func Resolve(primary, fallback KeyStore, l logger.Logger) ([]byte, error) {
	l = logger.OrNop(l)
	key, err := getOrCreate(primary)
	if err == nil {
		return key, nil
	}
	if fallback == nil {
		return nil, err
	}
	l.Debug("keyring unavailable, using key file: %v", err)
	return getOrCreate(fallback)
}

func getOrCreate(ks KeyStore) ([]byte, error) {
	key, err := ks.GetKey()
	if errors.Is(err, ErrNoKey) {
		return ks.SetKey()
	}
	return key, err
}
