package signature

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	privateKeyFile = "signing.key"
	publicKeyFile  = "signing.pub"
)

// SaveKeypair writes the keypair to dir as hex text. The private key file
// has 0600 permissions; the public key file has 0644.
func SaveKeypair(dir string, key *Keypair) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating key dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), []byte(key.SeedHex()+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), []byte(key.PublicKeyHex()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadKeypair reads a keypair written by SaveKeypair. The public key file
// must match the key derived from the private seed.
func LoadKeypair(dir string) (*Keypair, error) {
	privateBytes, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	key, err := ParsePrivateKeyHex(string(privateBytes))
	if err != nil {
		return nil, err
	}

	publicBytes, err := os.ReadFile(filepath.Join(dir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	if got := strings.ToLower(strings.TrimSpace(string(publicBytes))); got != key.PublicKeyHex() {
		return nil, fmt.Errorf("public key file does not match private key")
	}
	return key, nil
}

// LoadOrGenerateKeypair loads the keypair in dir, or generates and saves a
// new one when no private key file exists. It reports whether the key is new.
func LoadOrGenerateKeypair(dir string) (*Keypair, bool, error) {
	key, err := LoadKeypair(dir)
	if err == nil {
		return key, false, nil
	}

	// A present but unreadable key must not be silently replaced.
	if _, statErr := os.Stat(filepath.Join(dir, privateKeyFile)); statErr == nil {
		return nil, false, err
	}

	key, err = GenerateKeypair()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKeypair(dir, key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}
