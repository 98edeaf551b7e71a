// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keys loads the PEM-encoded private key each binary signs or
// verifies with. Key provisioning via HSM or KMS is out of scope; a
// local PEM file is enough for a single-node or test deployment.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadPrivate reads a PKCS#8-encoded EC or RSA private key from path and
// returns it alongside the RFC 6962 §3.2 log ID: the SHA-256 hash of its
// DER-encoded SubjectPublicKeyInfo.
func LoadPrivate(path string) (crypto.Signer, [32]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("keys: reading %q: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, [32]byte{}, fmt.Errorf("keys: %q is not PEM-encoded", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("keys: parsing PKCS#8 key in %q: %w", path, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, [32]byte{}, fmt.Errorf("keys: %q does not hold a signing key", path)
	}
	logID, err := LogID(signer.Public())
	if err != nil {
		return nil, [32]byte{}, err
	}
	return signer, logID, nil
}

// LoadPublic reads a PEM-encoded SubjectPublicKeyInfo from path, for
// verifying an upstream log's signatures in mirror mode.
func LoadPublic(path string) (crypto.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: reading %q: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("keys: %q is not PEM-encoded", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parsing public key in %q: %w", path, err)
	}
	switch pub.(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("keys: %q holds an unsupported key type %T", path, pub)
	}
}

// LogID computes the RFC 6962 §3.2 log identifier for a public key.
func LogID(pub crypto.PublicKey) ([32]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("keys: marshalling public key: %w", err)
	}
	return sha256.Sum256(der), nil
}
