// Copyright 2016 Google Inc. All Rights Reserved.
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

// Package crypto produces Signed Tree Heads and Signed Certificate
// Timestamps. Key provisioning (HSM, file, KMS) is out of scope -- this
// package only needs a crypto.Signer, exactly as the teacher's
// tcrypto.Signer wraps one.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/openctlog/ctlog/types"
)

// Signer produces STHs and SCTs using a standard library crypto.Signer.
// It holds no key material itself; that lives wherever the caller's
// crypto.Signer implementation keeps it (file, HSM, KMS -- all out of
// scope here).
type Signer struct {
	LogID  [32]byte
	signer crypto.Signer
}

// NewSigner wraps a crypto.Signer for STH/SCT production. logID is the
// SHA-256 hash of the log's DER-encoded public key, per RFC 6962 §3.2.
func NewSigner(logID [32]byte, signer crypto.Signer) *Signer {
	return &Signer{LogID: logID, signer: signer}
}

func (s *Signer) sign(input []byte) ([]byte, error) {
	digest := sha256.Sum256(input)
	sig, err := s.signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// SignLogRoot signs a LogRootV1, returning the SignedLogRoot (STH) that
// the Tree Signer publishes to the consistent store.
func (s *Signer) SignLogRoot(root *types.LogRootV1) (*types.SignedLogRoot, error) {
	marshalled, err := root.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal log root: %w", err)
	}
	sig, err := s.sign(root.SignatureInput())
	if err != nil {
		return nil, err
	}
	return &types.SignedLogRoot{LogRoot: marshalled, LogRootSignature: sig}, nil
}

// VerifyLogRoot checks an STH's signature against a public key.
func VerifyLogRoot(pub crypto.PublicKey, slr *types.SignedLogRoot) (*types.LogRootV1, error) {
	var root types.LogRootV1
	if err := root.UnmarshalBinary(slr.LogRoot); err != nil {
		return nil, fmt.Errorf("crypto: unmarshal log root: %w", err)
	}
	if err := verify(pub, root.SignatureInput(), slr.LogRootSignature); err != nil {
		return nil, fmt.Errorf("crypto: STH signature invalid: %w", err)
	}
	return &root, nil
}

// IssueSCT signs a pending entry's submission, promising inclusion
// within the log's configured MMD.
func (s *Signer) IssueSCT(entryType types.EntryType, timestampMillis uint64, leafInput, extensions []byte) (*types.SCT, error) {
	input := types.SCTSignatureInput(entryType, timestampMillis, leafInput, extensions)
	sig, err := s.sign(input)
	if err != nil {
		return nil, err
	}
	return &types.SCT{
		LogID:      s.LogID,
		Timestamp:  timestampMillis,
		Extensions: extensions,
		Signature:  sig,
	}, nil
}
