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

// Package lookup is the read-side index: on startup and on every STH
// adoption it rebuilds a leaf_hash -> sequence mapping and the full
// Merkle tree needed to generate proofs, scanning entries up to the
// serving STH's tree size.
package lookup

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/openctlog/ctlog/merkle/proof"
	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/types"
)

// Lookup serves read queries against a consistent snapshot of the tree.
// Exactly one instance runs per node; it is rebuilt wholesale on STH
// adoption and is otherwise read-only, per spec.md §5's per-node
// invariant that "the full tree is rebuilt on STH adoption and then
// read-only until the next adoption".
type Lookup struct {
	entries storage.EntryStorage

	mu        sync.RWMutex
	tree      *proof.Tree
	treeSize  uint64
	byLeaf    map[[32]byte]uint64
	servingSLR *types.SignedLogRoot
}

// New returns an empty Lookup; call Rebuild before serving queries.
func New(entries storage.EntryStorage) *Lookup {
	return &Lookup{entries: entries, tree: proof.New(), byLeaf: make(map[[32]byte]uint64)}
}

// Rebuild scans entries [0, servingSTH.tree_size) from local storage and
// replaces the in-memory index and tree wholesale. It is called once at
// startup and again every time a new serving STH is adopted.
func (l *Lookup) Rebuild(ctx context.Context, servingSLR *types.SignedLogRoot) error {
	var root types.LogRootV1
	if err := root.UnmarshalBinary(servingSLR.LogRoot); err != nil {
		return fmt.Errorf("lookup: unmarshal serving root: %w", err)
	}

	tree := proof.New()
	byLeaf := make(map[[32]byte]uint64, root.TreeSize)

	const chunk = 4096
	for start := uint64(0); start < root.TreeSize; start += chunk {
		n := chunk
		if remaining := root.TreeSize - start; remaining < chunk {
			n = int(remaining)
		}
		batch, err := l.entries.ReadRange(ctx, start, uint64(n))
		if err != nil {
			return fmt.Errorf("lookup: read range [%d,%d): %w", start, start+uint64(n), err)
		}
		if len(batch) != n {
			return fmt.Errorf("lookup: want %d entries at [%d,%d), got %d (not yet replicated locally)", n, start, start+uint64(n), len(batch))
		}
		for _, e := range batch {
			tree.Append(e.LeafHash)
			byLeaf[e.LeafHash] = e.Sequence
		}
	}

	got, err := tree.RootAt(root.TreeSize)
	if err != nil {
		return fmt.Errorf("lookup: root at %d: %w", root.TreeSize, err)
	}
	if got != root.RootHash {
		return fmt.Errorf("lookup: rebuilt root %x does not match serving root %x at size %d", got, root.RootHash, root.TreeSize)
	}

	l.mu.Lock()
	l.tree = tree
	l.treeSize = root.TreeSize
	l.byLeaf = byLeaf
	l.servingSLR = servingSLR
	l.mu.Unlock()

	glog.Infof("lookup: rebuilt index for tree_size %d", root.TreeSize)
	return nil
}

// ServingSTH returns the STH this Lookup was last rebuilt against.
func (l *Lookup) ServingSTH() *types.SignedLogRoot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.servingSLR
}

// GetEntryAndProof returns the entry at seq along with its inclusion
// proof against treeSize.
func (l *Lookup) GetEntryAndProof(ctx context.Context, seq, treeSize uint64) (*storage.SequencedEntry, [][32]byte, error) {
	l.mu.RLock()
	tree, knownSize := l.tree, l.treeSize
	l.mu.RUnlock()

	if treeSize > knownSize {
		return nil, nil, fmt.Errorf("%w: requested tree_size %d exceeds indexed size %d", proof.ErrInvalidRange, treeSize, knownSize)
	}
	path, err := tree.InclusionProof(seq, treeSize)
	if err != nil {
		return nil, nil, err
	}
	entries, err := l.entries.ReadRange(ctx, seq, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup: read entry %d: %w", seq, err)
	}
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("lookup: entry %d not found locally", seq)
	}
	return &entries[0], path, nil
}

// GetProofByHash looks up an entry by its leaf hash and returns its
// sequence number and inclusion proof against treeSize. It returns
// ok=false if no entry with that hash is known at or below treeSize.
func (l *Lookup) GetProofByHash(leafHash [32]byte, treeSize uint64) (seq uint64, path [][32]byte, ok bool, err error) {
	l.mu.RLock()
	tree, knownSize := l.tree, l.treeSize
	seq, ok = l.byLeaf[leafHash]
	l.mu.RUnlock()

	if !ok || seq >= treeSize {
		return 0, nil, false, nil
	}
	if treeSize > knownSize {
		return 0, nil, false, fmt.Errorf("%w: requested tree_size %d exceeds indexed size %d", proof.ErrInvalidRange, treeSize, knownSize)
	}
	path, err = tree.InclusionProof(seq, treeSize)
	if err != nil {
		return 0, nil, false, err
	}
	return seq, path, true, nil
}

// GetConsistency returns the consistency proof between oldSize and
// newSize.
func (l *Lookup) GetConsistency(oldSize, newSize uint64) ([][32]byte, error) {
	l.mu.RLock()
	tree := l.tree
	l.mu.RUnlock()
	return tree.ConsistencyProof(oldSize, newSize)
}
