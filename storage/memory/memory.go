// Copyright 2017 Google LLC. All Rights Reserved.
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

// Package memory is an in-memory EntryStorage backend, for tests and
// single-node deployments that accept losing local state on restart (a
// restarted node simply has nothing to replay and must catch up from a
// peer).
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/types"
)

// kv is a generic ordered key/value item, the same shape the teacher's
// memory log storage uses to key a single btree by string prefix rather
// than keeping one tree per index.
type kv struct {
	k string
	v any
}

func (kv *kv) Less(other btree.Item) bool {
	return kv.k < other.(*kv).k
}

func seqKey(seq uint64) *kv {
	return &kv{k: fmt.Sprintf("seq/%020d", seq)}
}

func hashKey(h [32]byte) *kv {
	return &kv{k: fmt.Sprintf("hash/%x", h)}
}

// Storage is an in-memory, mutex-guarded EntryStorage.
type Storage struct {
	mu   sync.RWMutex
	tree *btree.BTree

	latestSTH *types.SignedLogRoot
}

// New returns an empty in-memory entry store.
func New() *Storage {
	return &Storage{tree: btree.New(32)}
}

var _ storage.EntryStorage = (*Storage)(nil)

func (s *Storage) WriteSequenced(_ context.Context, entries []storage.SequencedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		rec := e
		s.tree.ReplaceOrInsert(&kv{k: seqKey(e.Sequence).k, v: &rec})
		s.tree.ReplaceOrInsert(&kv{k: hashKey(e.LeafHash).k, v: e.Sequence})
	}
	return nil
}

func (s *Storage) ReadRange(_ context.Context, start, count uint64) ([]storage.SequencedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.SequencedEntry, 0, count)
	s.tree.AscendGreaterOrEqual(seqKey(start), func(item btree.Item) bool {
		rec := item.(*kv).v.(*storage.SequencedEntry)
		if rec.Sequence >= start+count {
			return false
		}
		out = append(out, *rec)
		return true
	})
	return out, nil
}

func (s *Storage) ReadByLeafHash(_ context.Context, leafHash [32]byte) (*storage.SequencedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(hashKey(leafHash))
	if item == nil {
		return nil, nil
	}
	seq := item.(*kv).v.(uint64)
	rec := s.tree.Get(seqKey(seq)).(*kv).v.(*storage.SequencedEntry)
	return rec, nil
}

func (s *Storage) LatestContiguousSequence(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var next uint64
	s.tree.AscendGreaterOrEqual(seqKey(0), func(item btree.Item) bool {
		rec := item.(*kv).v.(*storage.SequencedEntry)
		if rec.Sequence != next {
			return false
		}
		next++
		return true
	})
	return next, nil
}

func (s *Storage) StoreTreeHead(_ context.Context, slr *types.SignedLogRoot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestSTH = slr
	return nil
}

func (s *Storage) LatestTreeHead(_ context.Context) (*types.SignedLogRoot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSTH, nil
}
