package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"golang.org/x/crypto/hkdf"
)

const (
	minMasterKeyLength = 16
	keyLength          = 32
)

var ErrCipherNotInitialized = errors.New("cipher not initialized")

// Cipher seals credentials with AES-256-GCM under a key derived from the master
// secret. Payloads are laid out as version || nonce || ciphertext, and the secret
// ref is bound as additional data so a row cannot be replayed under another ref.
type Cipher struct {
	aead    cipher.AEAD
	version byte
}

func NewCipher(masterKey string, version int) (*Cipher, error) {
	if len(strings.TrimSpace(masterKey)) < minMasterKeyLength {
		return nil, fmt.Errorf("master key must be at least %d characters", minMasterKeyLength)
	}
	if version < 1 || version > 255 {
		return nil, fmt.Errorf("key version must be between 1 and 255, got %d", version)
	}

	key := make([]byte, keyLength)
	info := []byte(fmt.Sprintf("tenant-secret-v%d", version))
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, info), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Cipher{aead: aead, version: byte(version)}, nil
}

func (c *Cipher) Version() int {
	if c == nil {
		return 0
	}
	return int(c.version)
}

func (c *Cipher) Encrypt(ref domain.SecretRef, plaintext []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, ErrCipherNotInitialized
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, c.version)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, []byte(ref.String())), nil
}

// Decrypt opens payload. Every failure wraps domain.ErrDecryptionFailure and never
// carries payload bytes.
func (c *Cipher) Decrypt(ref domain.SecretRef, payload []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, ErrCipherNotInitialized
	}

	nonceSize := c.aead.NonceSize()
	if len(payload) < 1+nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", domain.ErrDecryptionFailure)
	}
	if payload[0] != c.version {
		return nil, fmt.Errorf("%w: payload key version %d, configured %d", domain.ErrDecryptionFailure, payload[0], c.version)
	}

	nonce := payload[1 : 1+nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, payload[1+nonceSize:], []byte(ref.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", domain.ErrDecryptionFailure)
	}
	return plaintext, nil
}
