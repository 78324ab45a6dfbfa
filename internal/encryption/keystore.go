// Package encryption provides the value sealer used for encrypt-marked
// writes, the keystore holding the device encryption key, and passphrase
// protection for exported backup files.
package encryption

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Keystore is the secure credential store the sealer keeps its key in. On a
// device this would be the platform keychain; here it is a restricted
// directory. Implementations must be safe for concurrent use.
type Keystore interface {
	// Get returns the named item, or found=false if it has never been stored.
	Get(name string) (value []byte, found bool, err error)

	// Set stores the named item, replacing any previous value.
	Set(name string, value []byte) error

	// Delete removes the named item. Deleting an absent item is not an error.
	Delete(name string) error
}

// FileKeystore stores items as mode-0600 files in a mode-0700 directory.
type FileKeystore struct {
	dir string
}

// NewFileKeystore creates a keystore rooted at dir, creating it if needed.
func NewFileKeystore(dir string) (*FileKeystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating keystore directory: %w", err)
	}
	return &FileKeystore{dir: dir}, nil
}

func (k *FileKeystore) path(name string) string {
	return filepath.Join(k.dir, name)
}

func (k *FileKeystore) Get(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(k.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading keystore item %q: %w", name, err)
	}
	return data, true, nil
}

func (k *FileKeystore) Set(name string, value []byte) error {
	if err := os.WriteFile(k.path(name), value, 0600); err != nil {
		return fmt.Errorf("writing keystore item %q: %w", name, err)
	}
	return nil
}

func (k *FileKeystore) Delete(name string) error {
	if err := os.Remove(k.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting keystore item %q: %w", name, err)
	}
	return nil
}

var _ Keystore = (*FileKeystore)(nil)

// MemoryKeystore is an in-memory Keystore for tests.
type MemoryKeystore struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{items: make(map[string][]byte)}
}

func (k *MemoryKeystore) Get(name string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.items[name]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (k *MemoryKeystore) Set(name string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	k.items[name] = v
	return nil
}

func (k *MemoryKeystore) Delete(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.items, name)
	return nil
}

var _ Keystore = (*MemoryKeystore)(nil)
