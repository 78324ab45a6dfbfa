package encryption

import (
	"fmt"
	"io"

	"filippo.io/age"
)

// ProtectBackup returns a writer that encrypts everything written to it with
// the passphrase using age's scrypt-based passphrase encryption. The caller
// must Close the returned writer to flush the final ciphertext.
func ProtectBackup(w io.Writer, passphrase string) (io.WriteCloser, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	enc, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	return enc, nil
}

// OpenProtectedBackup returns a reader that decrypts a passphrase-protected
// backup stream. Returns an error if the passphrase is incorrect.
func OpenProtectedBackup(r io.Reader, passphrase string) (io.Reader, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	dec, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting backup: %w", err)
	}
	return dec, nil
}
