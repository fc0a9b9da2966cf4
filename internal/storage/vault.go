package storage

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const vaultSaltSize = 16

// Vault encrypts credential blobs at rest. Keys are derived from a
// passphrase with argon2id and sealed with XChaCha20-Poly1305; every
// blob carries its own salt and nonce.
type Vault struct {
	passphrase []byte
}

// NewVault creates a vault from a passphrase.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("vault passphrase must not be empty")
	}
	return &Vault{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts data. Output layout: salt | nonce | ciphertext.
func (v *Vault) Seal(data []byte) ([]byte, error) {
	salt := make([]byte, vaultSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey(v.passphrase, salt, 3, 64*1024, 4, 32)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := make([]byte, 0, len(salt)+len(nonce)+len(data)+aead.Overhead())
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	return aead.Seal(sealed, nonce, data, nil), nil
}

// Open decrypts data produced by Seal.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	key, nonce, ciphertext, err := v.split(sealed)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	data, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return data, nil
}

func (v *Vault) split(sealed []byte) (key, nonce, ciphertext []byte, err error) {
	if len(sealed) < vaultSaltSize+chacha20poly1305.NonceSizeX {
		return nil, nil, nil, errors.New("sealed blob too short")
	}
	salt := sealed[:vaultSaltSize]
	nonce = sealed[vaultSaltSize : vaultSaltSize+chacha20poly1305.NonceSizeX]
	ciphertext = sealed[vaultSaltSize+chacha20poly1305.NonceSizeX:]
	key = argon2.IDKey(v.passphrase, salt, 3, 64*1024, 4, 32)
	return key, nonce, ciphertext, nil
}
