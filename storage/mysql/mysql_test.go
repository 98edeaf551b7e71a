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

package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/storage/testdb"
	"github.com/openctlog/ctlog/types"
)

func TestWriteAndReadRange(t *testing.T) {
	testdb.SkipIfNoMySQL(t)
	ctx := context.Background()

	db, done, err := testdb.NewEntryDB(ctx)
	require.NoError(t, err)
	defer done(ctx)

	s := New(db)
	entries := []storage.SequencedEntry{
		{Sequence: 0, Entry: types.LogEntry{LeafInput: []byte("a")}, LeafHash: [32]byte{1}, IntegratedAt: time.Now()},
		{Sequence: 1, Entry: types.LogEntry{LeafInput: []byte("b")}, LeafHash: [32]byte{2}, IntegratedAt: time.Now()},
	}
	require.NoError(t, s.WriteSequenced(ctx, entries))

	got, err := s.ReadRange(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	n, err := s.LatestContiguousSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
}

func TestLatestContiguousSequenceDetectsMidRangeGap(t *testing.T) {
	testdb.SkipIfNoMySQL(t)
	ctx := context.Background()

	db, done, err := testdb.NewEntryDB(ctx)
	require.NoError(t, err)
	defer done(ctx)

	s := New(db)
	// Sequences can arrive out of order: the fetcher writes windows
	// concurrently, so a gap can land anywhere, not just at the end.
	for _, seq := range []uint64{0, 1, 3} { // gap at 2
		e := types.LogEntry{LeafInput: []byte{byte(seq)}}
		entry := storage.SequencedEntry{Sequence: seq, Entry: e, LeafHash: e.LeafHash(), IntegratedAt: time.Now()}
		require.NoError(t, s.WriteSequenced(ctx, []storage.SequencedEntry{entry}))
	}

	n, err := s.LatestContiguousSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
}

func TestTreeHeadRoundTrip(t *testing.T) {
	testdb.SkipIfNoMySQL(t)
	ctx := context.Background()

	db, done, err := testdb.NewEntryDB(ctx)
	require.NoError(t, err)
	defer done(ctx)

	s := New(db)
	root := &types.LogRootV1{TreeSize: 10, Revision: 1}
	marshalled, err := root.MarshalBinary()
	require.NoError(t, err)
	slr := &types.SignedLogRoot{LogRoot: marshalled, LogRootSignature: []byte("sig")}
	require.NoError(t, s.StoreTreeHead(ctx, slr))

	got, err := s.LatestTreeHead(ctx)
	require.NoError(t, err)
	require.Equal(t, slr.LogRootSignature, got.LogRootSignature)
}
