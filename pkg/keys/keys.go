// Package keys generates and encrypts the validator's own key material: a
// secp256k1 key for chain B and an ed25519 seed for chain A, used by the
// `generate-key` CLI verb. Encryption follows the teacher's AES-256-GCM
// master-key scheme, generalized from single-curve custodial keys to
// either of this node's two key types.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
)

// ValidatorKeyMaterial is everything `generate-key` writes out: the
// secp256k1 key required for chain-B attestations and the optional
// ed25519 seed for chain-A attestations.
type ValidatorKeyMaterial struct {
	Secp256k1Key []byte // 32 bytes
	Ed25519Seed  []byte // 32 bytes
}

// GenerateValidatorKeyMaterial creates a fresh secp256k1 key and ed25519
// seed. Either can be re-generated independently; both default to present
// since a node with neither configured key can't attest anything.
func GenerateValidatorKeyMaterial() (*ValidatorKeyMaterial, error) {
	secpKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("generate ed25519 seed: %w", err)
	}

	return &ValidatorKeyMaterial{
		Secp256k1Key: crypto.FromECDSA(secpKey),
		Ed25519Seed:  seed,
	}, nil
}

func (m *ValidatorKeyMaterial) Secp256k1KeyHex() string {
	return fmt.Sprintf("%x", m.Secp256k1Key)
}

func (m *ValidatorKeyMaterial) Ed25519SeedBase64() string {
	return base64.StdEncoding.EncodeToString(m.Ed25519Seed)
}

// EncryptPrivateKey encrypts an arbitrary key blob (32 or 33 bytes) using
// AES-256-GCM with the provided master key. Returns base64-encoded
// nonce||ciphertext||tag.
func EncryptPrivateKey(keyBytes []byte, masterKey []byte) (string, error) {
	if len(masterKey) != 32 {
		return "", fmt.Errorf("master key must be 32 bytes (AES-256)")
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, keyBytes, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey.
func DecryptPrivateKey(encrypted string, masterKey []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (AES-256)")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateMasterKey generates a new random 32-byte master key for
// encrypting validator key material. Store it outside the data dir
// (environment variable, secrets manager).
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}

func MasterKeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func MasterKeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
