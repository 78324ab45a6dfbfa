package encryption

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"filippo.io/age"
)

// Sealer encrypts and decrypts individual stored values. Unlike a backup
// passphrase, sealing is transparent: the key lives in the keystore so the
// launcher can read its own encrypted records without user interaction.
type Sealer interface {
	// Initialize provisions the key: it loads a previously generated key from
	// the keystore, generating and persisting one on first run. Idempotent.
	Initialize() error

	// Seal encrypts plaintext with the device key.
	Seal(plaintext []byte) ([]byte, error)

	// Open decrypts ciphertext produced by Seal.
	Open(ciphertext []byte) ([]byte, error)
}

// AgeSealer implements Sealer with an X25519 identity from filippo.io/age.
// The identity is stored whole in the keystore; values are sealed to its
// recipient and opened with the identity itself.
type AgeSealer struct {
	keystore Keystore
	keyName  string

	mu       sync.RWMutex
	identity *age.X25519Identity
}

// NewAgeSealer creates a sealer whose key lives under keyName in keystore.
func NewAgeSealer(keystore Keystore, keyName string) *AgeSealer {
	return &AgeSealer{keystore: keystore, keyName: keyName}
}

var _ Sealer = (*AgeSealer)(nil)

// Initialize loads the device key from the keystore, generating a new X25519
// identity and persisting it on first run.
func (s *AgeSealer) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity != nil {
		return nil
	}

	data, found, err := s.keystore.Get(s.keyName)
	if err != nil {
		return fmt.Errorf("loading device key: %w", err)
	}

	if found {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("parsing device key: %w", err)
		}
		s.identity = identity
		return nil
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating device key: %w", err)
	}
	if err := s.keystore.Set(s.keyName, []byte(identity.String()+"\n")); err != nil {
		return fmt.Errorf("persisting device key: %w", err)
	}
	s.identity = identity
	return nil
}

// Seal encrypts plaintext to the device key's recipient.
func (s *AgeSealer) Seal(plaintext []byte) ([]byte, error) {
	identity, err := s.loadedIdentity()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting value: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts ciphertext with the device key.
func (s *AgeSealer) Open(ciphertext []byte) ([]byte, error) {
	identity, err := s.loadedIdentity()
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting value: %w", err)
	}
	return plaintext, nil
}

func (s *AgeSealer) loadedIdentity() (*age.X25519Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil, fmt.Errorf("sealer not initialized")
	}
	return s.identity, nil
}
