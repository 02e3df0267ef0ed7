// Package security manages the ed25519 key pair used to sign ledger
// entries.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Key file names inside a key directory.
const (
	PublicKeyFile  = "ledger.pub"
	PrivateKeyFile = "ledger.priv"
)

// KeyPair signs data and carries the public half for verification.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Save writes both keys hex encoded into dir.
func (k *KeyPair) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte(hex.EncodeToString(k.Public)), 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte(hex.EncodeToString(k.Private)), 0o600)
}

// LoadKeyPair reads the keys saved in dir.
func LoadKeyPair(dir string) (*KeyPair, error) {
	pub, err := readHexKey(filepath.Join(dir, PublicKeyFile), ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	priv, err := readHexKey(filepath.Join(dir, PrivateKeyFile), ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// EnsureKeyPair loads the keys in dir, generating and saving a new pair
// when there is none yet. created reports whether a pair was generated.
func EnsureKeyPair(dir string) (kp *KeyPair, created bool, err error) {
	if _, err := os.Stat(filepath.Join(dir, PublicKeyFile)); errors.Is(err, os.ErrNotExist) {
		kp, err := GenerateKeyPair()
		if err != nil {
			return nil, false, err
		}
		if err := kp.Save(dir); err != nil {
			return nil, false, err
		}
		return kp, true, nil
	}
	kp, err = LoadKeyPair(dir)
	return kp, false, err
}

func readHexKey(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(key) != size {
		return nil, fmt.Errorf("%s: invalid key size %d", path, len(key))
	}
	return key, nil
}

// Sign returns the hex signature of data.
func (k *KeyPair) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.Private, data))
}

// PublicHex returns the hex encoded public key.
func (k *KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public)
}

// VerifyHex checks a hex signature of data against a hex public key.
func VerifyHex(pubHex string, data []byte, sigHex string) (bool, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.New("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}
