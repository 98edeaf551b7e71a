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

package types

import (
	"encoding/binary"
	"fmt"
)

const (
	sthVersion       = 0
	sthSignatureType = 0 // tree_head, per spec §6's TLS signature input layout
	sctVersion       = 0
	sctSignatureType = 0 // certificate_timestamp
)

// LogRootV1 is the log's state at a point in time: the data a Signed Tree
// Head commits to. Mirrors the shape of trillian's types.LogRootV1 (the
// teacher's sequencer.go unmarshals exactly this struct from storage).
type LogRootV1 struct {
	TreeSize       uint64
	RootHash       [32]byte
	TimestampNanos uint64
	Revision       uint64
}

// MarshalBinary produces the bit-exact RFC 6962 §3.5 STH signature input:
// TLS-encoded {version=0, signature_type=0, timestamp, tree_size,
// sha256_root_hash}. Revision is not part of the signed input -- it is
// this log's internal storage bookkeeping -- so it is appended after the
// signed portion (SignatureInput omits it) and read back by UnmarshalBinary.
func (r *LogRootV1) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 50+8)
	b = append(b, sthVersion, sthSignatureType)
	b = binary.BigEndian.AppendUint64(b, r.TimestampNanos/1e6) // STH timestamps are milliseconds
	b = binary.BigEndian.AppendUint64(b, r.TreeSize)
	b = append(b, r.RootHash[:]...)
	b = binary.BigEndian.AppendUint64(b, r.Revision)
	return b, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (r *LogRootV1) UnmarshalBinary(b []byte) error {
	if len(b) != 50+8 {
		return fmt.Errorf("types: LogRootV1: want %d bytes, got %d", 50+8, len(b))
	}
	if b[0] != sthVersion || b[1] != sthSignatureType {
		return fmt.Errorf("types: LogRootV1: unsupported version/signature_type %d/%d", b[0], b[1])
	}
	r.TimestampNanos = binary.BigEndian.Uint64(b[2:10]) * 1e6
	r.TreeSize = binary.BigEndian.Uint64(b[10:18])
	copy(r.RootHash[:], b[18:50])
	r.Revision = binary.BigEndian.Uint64(b[50:58])
	return nil
}

// SignatureInput returns the exact bytes that are signed to produce an
// STH signature: the TLS-encoded structure without the trailing revision.
func (r *LogRootV1) SignatureInput() []byte {
	b := make([]byte, 0, 50)
	b = append(b, sthVersion, sthSignatureType)
	b = binary.BigEndian.AppendUint64(b, r.TimestampNanos/1e6)
	b = binary.BigEndian.AppendUint64(b, r.TreeSize)
	b = append(b, r.RootHash[:]...)
	return b
}

// SignedLogRoot pairs a marshalled LogRootV1 with the log's signature
// over its SignatureInput -- this is the Signed Tree Head.
type SignedLogRoot struct {
	LogRoot          []byte
	LogRootSignature []byte
}

// SCTSignatureInput returns the TLS-encoded RFC 6962 §3.2 input signed to
// produce a Signed Certificate Timestamp: {version=0, signature_type=0,
// timestamp, entry_type, leaf_input, extensions}. leaf_input is opaque to
// this engine (X.509/precert encoding is out of scope) and is carried as
// a uint24-length-prefixed vector, matching the ASN1Cert/PreCert vector
// widths RFC 6962 uses for the entry payload.
func SCTSignatureInput(entryType EntryType, timestampMillis uint64, leafInput, extensions []byte) []byte {
	b := make([]byte, 0, 12+len(leafInput)+len(extensions))
	b = append(b, sctVersion, sctSignatureType)
	b = binary.BigEndian.AppendUint64(b, timestampMillis)
	b = binary.BigEndian.AppendUint16(b, uint16(entryType))
	b = appendOpaque24(b, leafInput)
	b = appendOpaque16(b, extensions)
	return b
}

// SCT is a Signed Certificate Timestamp: the log's promise, made at
// submission time, that an entry will be merged within the MMD.
type SCT struct {
	LogID      [32]byte
	Timestamp  uint64
	Extensions []byte
	Signature  []byte
}
