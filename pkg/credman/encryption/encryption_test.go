package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, KeySize)
	ct, err := Seal([]byte("hunter2"), []byte("example.com"), key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(ct, []byte("hunter2")) {
		t.Fatal("ciphertext contains plaintext")
	}
	pt, err := Open(ct, []byte("example.com"), key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(pt) != "hunter2" {
		t.Fatalf("got %q", pt)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, KeySize)
	ct, err := Seal([]byte("secret"), []byte("a"), key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(ct, []byte("b"), key); err == nil {
		t.Error("Open with different additional data should fail")
	}
	ct[len(ct)-1] ^= 0xff
	if _, err := Open(ct, []byte("a"), key); err == nil {
		t.Error("Open of modified ciphertext should fail")
	}
	other := bytes.Repeat([]byte{0x23}, KeySize)
	ct2, _ := Seal([]byte("secret"), nil, key)
	if _, err := Open(ct2, nil, other); err == nil {
		t.Error("Open with wrong key should fail")
	}
}

func TestSealInvalidKey(t *testing.T) {
	if _, err := Seal([]byte("hi"), nil, []byte{0x01}); err == nil {
		t.Fatal("expected error for invalid key length")
	}
}

func TestOpenMalformed(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, KeySize)
	if _, err := Open([]byte{0x00, 0x01}, nil, key); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("short input err = %v", err)
	}
	if _, err := Open([]byte(gcmPrefix+"abc"), nil, key); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("truncated input err = %v", err)
	}
}

func TestSealRandFailure(t *testing.T) {
	orig := randReader
	defer func() { randReader = orig }()
	randReader = bytes.NewReader(nil)
	if _, err := Seal([]byte("x"), nil, bytes.Repeat([]byte{1}, KeySize)); err == nil {
		t.Fatal("expected error when nonce generation fails")
	}
}
