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

// Package types holds the wire-level data model for the log: entries,
// signed tree heads, signed certificate timestamps and cluster state.
package types

import "github.com/openctlog/ctlog/merkle/rfc6962"

// EntryType distinguishes an ordinary X.509 chain submission from a
// precertificate submission.
type EntryType uint8

const (
	// EntryTypeX509 is a regular end-entity certificate.
	EntryTypeX509 EntryType = 0
	// EntryTypePrecert is a CA precertificate, per RFC 6962 §3.1.
	EntryTypePrecert EntryType = 1
)

// LogEntry is an immutable record accepted into the log. Once it has been
// assigned a sequence number, neither it nor its assignment may change.
type LogEntry struct {
	LeafInput  []byte
	ExtraData  []byte
	Timestamp  uint64
	EntryType  EntryType
}

// LeafHash returns SHA256(0x00 || leaf_input), the RFC 6962 Merkle leaf
// hash that identifies this entry for deduplication and proof lookup.
func (e *LogEntry) LeafHash() [32]byte {
	return rfc6962.DefaultHasher.HashLeaf(e.LeafInput)
}

// PendingEntry is an entry that has been accepted (an SCT was issued) but
// not yet assigned a sequence number. It is staged in the consistent store
// keyed by leaf hash.
type PendingEntry struct {
	LeafHash          [32]byte
	Entry             LogEntry
	PromisedTimestamp uint64
}
