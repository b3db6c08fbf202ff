package flowconfig

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"flowgate/internal/shared"
)

const (
	CredentialSourceUser   = "user"
	CredentialSourceSystem = "system"
)

// CredentialRecord is the stored, still encrypted, user credential
type CredentialRecord struct {
	UserID     uint64
	Ciphertext string
}

type Credential struct {
	Secret string
	Source string
}

type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// AESGCMDecryptor opens base64(nonce || sealed) blobs. The key is derived
// from the configured passphrase with SHA-256.
type AESGCMDecryptor struct {
	aead cipher.AEAD
}

func NewAESGCMDecryptor(passphrase string) (*AESGCMDecryptor, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key is empty")
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed creating gcm: %w", err)
	}
	return &AESGCMDecryptor{aead: aead}, nil
}

func (d *AESGCMDecryptor) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("ciphertext is not base64: %w", err)
	}
	size := d.aead.NonceSize()
	if len(raw) <= size {
		return "", errors.New("ciphertext too short")
	}
	plain, err := d.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("failed opening ciphertext: %w", err)
	}
	return string(plain), nil
}

// ResolveCredential prefers the user's own secret. A record that cannot be
// decrypted is treated the same as no record. Having neither a user nor a
// system credential is shared.ErrNoCredential.
func ResolveCredential(record *CredentialRecord, decryptor Decryptor, systemCredential string) (Credential, error) {
	if record != nil && record.Ciphertext != "" && decryptor != nil {
		secret, err := decryptor.Decrypt(record.Ciphertext)
		if err == nil && strings.TrimSpace(secret) != "" {
			return Credential{Secret: strings.TrimSpace(secret), Source: CredentialSourceUser}, nil
		}
	}
	if strings.TrimSpace(systemCredential) != "" {
		return Credential{Secret: strings.TrimSpace(systemCredential), Source: CredentialSourceSystem}, nil
	}
	return Credential{}, shared.ErrNoCredential
}
