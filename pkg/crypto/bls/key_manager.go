// Key custody for a finalizer's BLS signing key: generate, load, persist.

package bls

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// KeyManager owns a single finalizer's BLS key pair and its on-disk
// persistence.
type KeyManager struct {
	keyPath    string
	privateKey *PrivateKey
	publicKey  *PublicKey
}

// NewKeyManager creates a key manager backed by keyPath. An empty path
// means keys are generated in memory only.
func NewKeyManager(keyPath string) *KeyManager {
	return &KeyManager{keyPath: keyPath}
}

// LoadOrGenerateKey loads the key at keyPath if present, otherwise
// generates and saves a new one.
func (km *KeyManager) LoadOrGenerateKey() error {
	if err := Initialize(); err != nil {
		return fmt.Errorf("initialize bls: %w", err)
	}

	if km.keyPath != "" {
		if _, err := os.Stat(km.keyPath); err == nil {
			return km.LoadKey()
		}
	}
	return km.GenerateNewKey()
}

// LoadKey loads the private key from keyPath.
func (km *KeyManager) LoadKey() error {
	if km.keyPath == "" {
		return fmt.Errorf("no key path specified")
	}

	data, err := os.ReadFile(km.keyPath)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}

	keyBytes, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("decode key hex: %w", err)
	}

	km.privateKey, err = PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	km.publicKey = km.privateKey.PublicKey()
	return nil
}

// GenerateNewKey generates a fresh key pair and saves it if keyPath is set.
func (km *KeyManager) GenerateNewKey() error {
	var err error
	km.privateKey, km.publicKey, err = GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	if km.keyPath != "" {
		return km.SaveKey()
	}
	return nil
}

// GenerateFromSeed derives a deterministic key pair from seed.
func (km *KeyManager) GenerateFromSeed(seed []byte) error {
	var err error
	km.privateKey, km.publicKey, err = GenerateKeyPairFromSeed(seed)
	if err != nil {
		return fmt.Errorf("generate from seed: %w", err)
	}
	return nil
}

// GenerateFromFinalizerID derives a deterministic key from the finalizer's
// identity and chain id, so restarts recover the same key without needing
// the key file present.
func (km *KeyManager) GenerateFromFinalizerID(finalizerID, chainID string) error {
	seed := sha256.Sum256([]byte(fmt.Sprintf("SVNN_BLS_KEY_V1:%s:%s", finalizerID, chainID)))
	return km.GenerateFromSeed(seed[:])
}

// SaveKey writes the private key to keyPath with restricted permissions.
func (km *KeyManager) SaveKey() error {
	if km.keyPath == "" {
		return fmt.Errorf("no key path specified")
	}
	if km.privateKey == nil {
		return fmt.Errorf("no private key to save")
	}

	dir := filepath.Dir(km.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	keyHex := hex.EncodeToString(km.privateKey.Bytes())
	if err := os.WriteFile(km.keyPath, []byte(keyHex), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// GetPrivateKey returns the loaded private key, or nil.
func (km *KeyManager) GetPrivateKey() *PrivateKey {
	return km.privateKey
}

// GetPublicKey returns the loaded public key, or nil.
func (km *KeyManager) GetPublicKey() *PublicKey {
	return km.publicKey
}

// GetPublicKeyBytes returns the public key encoding, or nil if unset.
func (km *KeyManager) GetPublicKeyBytes() []byte {
	if km.publicKey == nil {
		return nil
	}
	return km.publicKey.Bytes()
}

// GetPublicKeyHex returns the public key as a hex string, or "".
func (km *KeyManager) GetPublicKeyHex() string {
	if km.publicKey == nil {
		return ""
	}
	return km.publicKey.Hex()
}

// Sign signs message with the loaded private key.
func (km *KeyManager) Sign(message []byte) (*Signature, error) {
	if km.privateKey == nil {
		return nil, fmt.Errorf("no private key loaded")
	}
	return km.privateKey.Sign(message)
}

// SignWithDomain signs message under a domain separation tag.
func (km *KeyManager) SignWithDomain(message []byte, domain string) (*Signature, error) {
	if km.privateKey == nil {
		return nil, fmt.Errorf("no private key loaded")
	}
	return km.privateKey.SignWithDomain(message, domain)
}

// GetPrivateKeyBytes returns the private key encoding, or nil if unset.
func (km *KeyManager) GetPrivateKeyBytes() []byte {
	if km.privateKey == nil {
		return nil
	}
	return km.privateKey.Bytes()
}

var globalKeyManager *KeyManager

// InitializeFinalizerBLSKey loads or deterministically generates the
// process-wide finalizer BLS key at startup.
func InitializeFinalizerBLSKey(finalizerID, chainID, keyPath string) (*KeyManager, error) {
	km := NewKeyManager(keyPath)

	if keyPath != "" {
		if _, err := os.Stat(keyPath); err == nil {
			if err := km.LoadKey(); err != nil {
				return nil, fmt.Errorf("load bls key: %w", err)
			}
			globalKeyManager = km
			return km, nil
		}
	}

	if err := km.GenerateFromFinalizerID(finalizerID, chainID); err != nil {
		return nil, fmt.Errorf("generate bls key: %w", err)
	}
	if keyPath != "" {
		if err := km.SaveKey(); err != nil {
			return nil, fmt.Errorf("save bls key: %w", err)
		}
	}

	globalKeyManager = km
	return km, nil
}

// GetFinalizerBLSKey returns the process-wide key manager, or nil.
func GetFinalizerBLSKey() *KeyManager {
	return globalKeyManager
}

// GetFinalizerBLSPublicKey returns the process-wide public key as hex, or
// "" if no key has been initialized.
func GetFinalizerBLSPublicKey() string {
	if globalKeyManager == nil || globalKeyManager.publicKey == nil {
		return ""
	}
	return globalKeyManager.publicKey.Hex()
}
