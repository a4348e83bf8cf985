//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trpc.group/trpc-go/clawdini/log"
)

const identityFileVersion = 1

// identityFile is the on-disk JSON schema of the device identity.
type identityFile struct {
	Version       int    `json:"version"`
	DeviceID      string `json:"deviceId"`
	PublicKeyPEM  string `json:"publicKeyPem"`
	PrivateKeyPEM string `json:"privateKeyPem"`
	CreatedAtMs   int64  `json:"createdAtMs"`
}

// DeviceIdentity is a persistent Ed25519 keypair identifying this client to
// the gateway. The device ID is the lowercase hex SHA-256 of the raw 32
// public-key bytes.
type DeviceIdentity struct {
	DeviceID    string
	PublicKey   ed25519.PublicKey
	privateKey  ed25519.PrivateKey
	CreatedAtMs int64
}

// LoadOrCreateIdentity loads the device identity from path, generating and
// persisting a fresh keypair when the file does not exist. A stored device ID
// that disagrees with the hash of the stored public key is rewritten in place
// without rotating the keys, so server-side grants tied to the key survive.
func LoadOrCreateIdentity(path string) (*DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return createIdentity(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	var file identityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}

	pub, err := parsePublicKeyPEM(file.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	priv, err := parsePrivateKeyPEM(file.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	id := deviceIDFor(pub)
	if file.DeviceID != id {
		// Heal the ID while keeping the keys.
		log.Warnf("identity file %s: stored device ID does not match public key, rewriting", path)
		file.DeviceID = id
		if err := writeIdentityFile(path, &file); err != nil {
			return nil, err
		}
	}

	return &DeviceIdentity{
		DeviceID:    id,
		PublicKey:   pub,
		privateKey:  priv,
		CreatedAtMs: file.CreatedAtMs,
	}, nil
}

func createIdentity(path string) (*DeviceIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	identity := &DeviceIdentity{
		DeviceID:    deviceIDFor(pub),
		PublicKey:   pub,
		privateKey:  priv,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	file := identityFile{
		Version:  identityFileVersion,
		DeviceID: identity.DeviceID,
		PublicKeyPEM: string(pem.EncodeToMemory(&pem.Block{
			Type: "PUBLIC KEY", Bytes: pubDER,
		})),
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{
			Type: "PRIVATE KEY", Bytes: privDER,
		})),
		CreatedAtMs: identity.CreatedAtMs,
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create identity dir: %w", err)
		}
	}
	if err := writeIdentityFile(path, &file); err != nil {
		return nil, err
	}
	return identity, nil
}

func writeIdentityFile(path string, file *identityFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity file: %w", err)
	}
	// Owner read/write only: the private key lives here.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}

func parsePublicKeyPEM(s string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("identity file: invalid public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity file: parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity file: public key is not Ed25519")
	}
	return pub, nil
}

func parsePrivateKeyPEM(s string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("identity file: invalid private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity file: parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity file: private key is not Ed25519")
	}
	return priv, nil
}

// deviceIDFor computes the lowercase hex SHA-256 of the raw 32 public-key bytes.
func deviceIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Sign signs payload with the device private key.
func (d *DeviceIdentity) Sign(payload []byte) []byte {
	return ed25519.Sign(d.privateKey, payload)
}

// PublicKeyBase64 returns the raw 32 public-key bytes, base64url-encoded
// without padding, as carried in the connect frame.
func (d *DeviceIdentity) PublicKeyBase64() string {
	return base64.RawURLEncoding.EncodeToString(d.PublicKey)
}
