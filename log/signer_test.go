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

package log

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openctlog/ctlog/clock"
	"github.com/openctlog/ctlog/cluster/store"
	cryptopkg "github.com/openctlog/ctlog/crypto"
	"github.com/openctlog/ctlog/storage/memory"
	"github.com/openctlog/ctlog/types"
)

// fakeStore is an in-memory ConsistentStore, enough to exercise
// IntegrateBatch's sequencing logic without a live etcd cluster.
type fakeStore struct {
	mu       sync.Mutex
	pending  map[[32]byte]store.PendingRecord
	assigned map[[32]byte]uint64
	bySeq    map[uint64]bool
	next     uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pending:  map[[32]byte]store.PendingRecord{},
		assigned: map[[32]byte]uint64{},
		bySeq:    map[uint64]bool{},
	}
}

func (f *fakeStore) addPending(p types.PendingEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[p.LeafHash] = store.PendingRecord{Entry: p.Entry, LeafHash: p.LeafHash, PromisedTimestamp: p.PromisedTimestamp}
}

func (f *fakeStore) GetPendingEntries(_ context.Context, limit int) ([]store.PendingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.PendingRecord, 0, len(f.pending))
	for _, p := range f.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PromisedTimestamp != out[j].PromisedTimestamp {
			return out[i].PromisedTimestamp < out[j].PromisedTimestamp
		}
		return string(out[i].LeafHash[:]) < string(out[j].LeafHash[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetAssignedSequence(_ context.Context, leafHash [32]byte) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.assigned[leafHash]
	return seq, ok, nil
}

func (f *fakeStore) NextAvailableSequenceNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.next
	f.next++
	return seq, nil
}

func (f *fakeStore) AssignSequenceNumber(_ context.Context, leafHash [32]byte, seq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.assigned[leafHash]; ok {
		return errConflict
	}
	if f.bySeq[seq] {
		return errConflict
	}
	f.assigned[leafHash] = seq
	f.bySeq[seq] = true
	return nil
}

func (f *fakeStore) PublishSTH(context.Context, *types.SignedLogRoot) error { return nil }

func (f *fakeStore) DeletePending(_ context.Context, leafHash [32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, leafHash)
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errConflict = errString("conflict")

type alwaysLeader struct{}

func (alwaysLeader) IsLeader() bool { return true }

func newTestSigner(t *testing.T) (*Signer, *memory.Storage, *fakeStore, *clock.Fake) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	logID := sha256.Sum256([]byte("test-log"))
	signer := cryptopkg.NewSigner(logID, priv)

	entries := memory.New()
	fs := newFakeStore()
	ts := clock.NewFake(time.Unix(1_700_000_000, 0))
	s := NewSigner("test-log", entries, fs, signer, alwaysLeader{}, ts, nil)
	return s, entries, fs, ts
}

func TestIntegrateBatchSequencesAndSigns(t *testing.T) {
	ctx := context.Background()
	s, entries, fs, _ := newTestSigner(t)

	for i := 0; i < 3; i++ {
		e := types.LogEntry{LeafInput: []byte{byte(i)}}
		fs.addPending(types.PendingEntry{LeafHash: e.LeafHash(), Entry: e, PromisedTimestamp: uint64(i)})
	}

	n, err := s.IntegrateBatch(ctx, 10, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	sth, err := entries.LatestTreeHead(ctx)
	require.NoError(t, err)
	require.NotNil(t, sth)

	var root types.LogRootV1
	require.NoError(t, root.UnmarshalBinary(sth.LogRoot))
	require.Equal(t, uint64(3), root.TreeSize)

	require.Empty(t, fs.pending)
}

func TestIntegrateBatchNoPendingIsNoop(t *testing.T) {
	ctx := context.Background()
	s, entries, _, _ := newTestSigner(t)

	n, err := s.IntegrateBatch(ctx, 10, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	sth, err := entries.LatestTreeHead(ctx)
	require.NoError(t, err)
	require.Nil(t, sth)
}

func TestIntegrateBatchSkipsAlreadyAssigned(t *testing.T) {
	ctx := context.Background()
	s, _, fs, _ := newTestSigner(t)

	e := types.LogEntry{LeafInput: []byte("dup")}
	h := e.LeafHash()
	fs.addPending(types.PendingEntry{LeafHash: h, Entry: e})
	fs.assigned[h] = 0
	fs.bySeq[0] = true
	fs.next = 1

	n, err := s.IntegrateBatch(ctx, 10, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestIntegrateBatchRefusesToSignBeyondClockSkewBound(t *testing.T) {
	ctx := context.Background()
	s, _, fs, ts := newTestSigner(t)

	e := types.LogEntry{LeafInput: []byte("first")}
	fs.addPending(types.PendingEntry{LeafHash: e.LeafHash(), Entry: e})
	n, err := s.IntegrateBatch(ctx, 10, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The node's clock jumps backwards well past the previous STH's
	// timestamp; with a clock-skew bound configured, signing must be
	// refused rather than silently clamping the timestamp forward.
	ts.Advance(-time.Hour)
	e2 := types.LogEntry{LeafInput: []byte("second")}
	fs.addPending(types.PendingEntry{LeafHash: e2.LeafHash(), Entry: e2})

	_, err = s.IntegrateBatch(ctx, 10, 0, 0, time.Minute)
	require.Error(t, err)
}
