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

// Package rfc6962 provides the RFC 6962 Merkle leaf and node hashing used
// by Certificate Transparency logs.
package rfc6962

import "crypto/sha256"

const (
	leafHashPrefix = 0x00
	nodeHashPrefix = 0x01
)

// Hasher implements the RFC 6962 §2.1 tree hashing rules.
type Hasher struct{}

// DefaultHasher is the RFC 6962 SHA-256 based hasher used throughout the
// log; there is only ever one hash algorithm in play, so it is exposed as
// a package value rather than threaded through every call site.
var DefaultHasher = Hasher{}

// HashEmpty returns MTH of the empty tree, SHA256(""), a fixed constant.
func (Hasher) HashEmpty() [32]byte {
	return sha256.Sum256(nil)
}

// HashLeaf returns MTH({leaf}) = SHA256(0x00 || leaf).
func (Hasher) HashLeaf(leaf []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{leafHashPrefix})
	h.Write(leaf)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashChildren returns the internal node hash SHA256(0x01 || left || right).
func (Hasher) HashChildren(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{nodeHashPrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Size is the hash output length in bytes.
func (Hasher) Size() int { return sha256.Size }
