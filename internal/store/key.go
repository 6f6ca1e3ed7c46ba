package store

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

const secretLen = 32

// LoadOrCreateSecret reads the device secret, generating it on first use.
// The secret never leaves this device; losing it only breaks chain
// verification of old databases.
func LoadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) < secretLen {
			return nil, fmt.Errorf("store: device secret at %s is truncated", path)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read device secret: %w", err)
	}

	secret = make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("store: generate device secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create secret directory: %w", err)
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, fmt.Errorf("store: write device secret: %w", err)
	}
	return secret, nil
}

// DeriveKey derives the per-attempt HMAC key from the device secret. Each
// attempt gets its own key so one attempt's records cannot be replayed
// into another's chain.
func DeriveKey(secret []byte, attemptID string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, []byte("examd-store-v1"), []byte(attemptID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("store: derive key: %w", err)
	}
	return key, nil
}
