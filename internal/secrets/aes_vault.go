package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/rendis/flowengine/pkg/schema"
)

// VaultConfig configures key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 iterations, default 100_000
}

// AESVault encrypts connection values with AES-256-GCM. Ciphertexts are
// nonce-prefixed.
type AESVault struct {
	store ConnectionStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault over s. s may be nil when the vault is only
// used for sealing and opening payloads (see SampleCodec).
func NewAESVault(s ConnectionStore, cfg VaultConfig) (*AESVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Seal encrypts plaintext and returns nonce||ciphertext.
func (v *AESVault) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (v *AESVault) Open(sealed []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	plaintext, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

func (v *AESVault) requireStore() error {
	if v.store == nil {
		return schema.NewError(schema.ErrCodeVault, "vault has no connection store")
	}
	return nil
}

func (v *AESVault) Store(ctx context.Context, name string, value []byte) error {
	if err := v.requireStore(); err != nil {
		return err
	}
	sealed, err := v.Seal(value)
	if err != nil {
		return err
	}
	return v.store.PutConnection(ctx, name, sealed)
}

func (v *AESVault) Resolve(ctx context.Context, name string) ([]byte, error) {
	if err := v.requireStore(); err != nil {
		return nil, err
	}
	sealed, err := v.store.GetConnection(ctx, name)
	if err != nil {
		return nil, err
	}
	return v.Open(sealed)
}

func (v *AESVault) Delete(ctx context.Context, name string) error {
	if err := v.requireStore(); err != nil {
		return err
	}
	return v.store.DeleteConnection(ctx, name)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	if err := v.requireStore(); err != nil {
		return nil, err
	}
	return v.store.ListConnections(ctx)
}

var _ Vault = (*AESVault)(nil)
