package encryption

import (
	"bytes"
	"fmt"
)

var testSealerHeader = []byte("sealed-v0:")

// TestSealer is a trivially reversible Sealer for tests: it prepends a marker
// so tests can assert that a value really went through the sealer. Never use
// outside tests.
type TestSealer struct{}

func NewTestSealer() *TestSealer { return &TestSealer{} }

var _ Sealer = (*TestSealer)(nil)

func (*TestSealer) Initialize() error { return nil }

func (*TestSealer) Seal(plaintext []byte) ([]byte, error) {
	return append(append([]byte{}, testSealerHeader...), plaintext...), nil
}

func (*TestSealer) Open(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, testSealerHeader) {
		return nil, fmt.Errorf("value was not sealed by TestSealer")
	}
	return append([]byte{}, ciphertext[len(testSealerHeader):]...), nil
}
