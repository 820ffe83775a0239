// Package identity persists a node's long-lived keymux.NodeKeys across
// restarts, so a meshnode process does not generate a new identity (and
// therefore a new Noise static key and signing key) every time it boots.
package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beemesh/meshcore/pkg/security/keymux"
)

// fileFormat mirrors keymux.NodeKeys but with JSON-friendly field types;
// ed25519 keys and the Noise static keypair are all fixed-length byte
// strings so plain []byte (base64 under encoding/json) round-trips them
// exactly.
type fileFormat struct {
	SigningPublic  []byte `json:"signing_public_key"`
	SigningPrivate []byte `json:"signing_private_key"`
	NoisePublic    []byte `json:"noise_public_key"`
	NoisePrivate   []byte `json:"noise_private_key"`
}

// Save writes keys to path as JSON, creating parent directories as needed.
// The file is written with 0600 permissions since it contains private key
// material.
func Save(path string, keys *keymux.NodeKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("identity: create key directory: %w", err)
	}

	data, err := json.MarshalIndent(fileFormat{
		SigningPublic:  []byte(keys.SigningPublic),
		SigningPrivate: []byte(keys.SigningPrivate),
		NoisePublic:    keys.NoisePublic[:],
		NoisePrivate:   keys.NoisePrivate[:],
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal keys: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("identity: write key file: %w", err)
	}
	return nil
}

// Load reads a NodeKeys previously written by Save.
func Load(path string) (*keymux.NodeKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read key file: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("identity: unmarshal keys: %w", err)
	}
	if len(ff.SigningPublic) != ed25519.PublicKeySize || len(ff.SigningPrivate) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: malformed signing key in %s", path)
	}
	if len(ff.NoisePublic) != 32 || len(ff.NoisePrivate) != 32 {
		return nil, fmt.Errorf("identity: malformed noise key in %s", path)
	}

	keys := &keymux.NodeKeys{
		SigningPublic:  ed25519.PublicKey(ff.SigningPublic),
		SigningPrivate: ed25519.PrivateKey(ff.SigningPrivate),
	}
	copy(keys.NoisePublic[:], ff.NoisePublic)
	copy(keys.NoisePrivate[:], ff.NoisePrivate)
	return keys, nil
}

// LoadOrGenerate loads the keys at path, or generates and persists a fresh
// set if no file exists yet.
func LoadOrGenerate(path string) (*keymux.NodeKeys, error) {
	keys, err := Load(path)
	if err == nil {
		return keys, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	keys, err = keymux.GenerateNodeKeys()
	if err != nil {
		return nil, fmt.Errorf("identity: generate keys: %w", err)
	}
	if err := Save(path, keys); err != nil {
		return nil, err
	}
	return keys, nil
}
