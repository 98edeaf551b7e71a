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

// Package storage defines the local entry database each cluster node
// keeps: every entry ever assigned a sequence number, indexed both by
// sequence and by leaf hash. This is node-local storage, distinct from
// the replicated consistent store in package cluster/store -- a node
// rebuilds nothing from its peers except by replaying this database.
package storage

import (
	"context"
	"time"

	"github.com/openctlog/ctlog/types"
)

// SequencedEntry is a LogEntry together with the sequence number it was
// assigned and when it was integrated into the tree.
type SequencedEntry struct {
	Sequence      uint64
	Entry         types.LogEntry
	LeafHash      [32]byte
	IntegratedAt  time.Time
}

// EntryStorage is the capability set the Tree Signer and Log Lookup need
// from node-local storage. A backend need not be a SQL database -- the
// in-memory implementation satisfies the same interface for tests and
// single-node deployments.
type EntryStorage interface {
	// WriteSequenced durably records entries at their assigned sequence
	// numbers. It is called by the leader's Tree Signer after the
	// consistent store has accepted the assignment, and by the mirror
	// fetcher for upstream entries it has verified; callers must not call it twice
	// for the same sequence number with different content.
	WriteSequenced(ctx context.Context, entries []SequencedEntry) error

	// ReadRange returns sequenced entries in [start, start+count), in
	// ascending sequence order. It returns fewer than count entries if
	// the local database does not yet hold that many.
	ReadRange(ctx context.Context, start, count uint64) ([]SequencedEntry, error)

	// ReadByLeafHash looks up an entry by its RFC 6962 Merkle leaf hash,
	// used to answer get-proof-by-hash without an inclusion-path scan.
	ReadByLeafHash(ctx context.Context, leafHash [32]byte) (*SequencedEntry, error)

	// LatestContiguousSequence returns the largest N such that every
	// sequence number in [0, N) is present with no gaps. A gap can
	// occur transiently if a crashed leader's last batch only partially
	// reached this node's local database.
	LatestContiguousSequence(ctx context.Context) (uint64, error)

	// StoreTreeHead persists a signed tree head this node has computed
	// or adopted from a peer.
	StoreTreeHead(ctx context.Context, slr *types.SignedLogRoot) error

	// LatestTreeHead returns the most recently stored signed tree head,
	// or nil if none has been stored yet.
	LatestTreeHead(ctx context.Context) (*types.SignedLogRoot, error)
}
