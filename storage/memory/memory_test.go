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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/types"
)

func TestWriteAndReadRange(t *testing.T) {
	ctx := context.Background()
	s := New()

	var entries []storage.SequencedEntry
	for i := uint64(0); i < 5; i++ {
		e := types.LogEntry{LeafInput: []byte{byte(i)}}
		h := e.LeafHash()
		entries = append(entries, storage.SequencedEntry{Sequence: i, Entry: e, LeafHash: h})
	}
	require.NoError(t, s.WriteSequenced(ctx, entries))

	got, err := s.ReadRange(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Sequence)
	}
}

func TestReadByLeafHash(t *testing.T) {
	ctx := context.Background()
	s := New()

	e := types.LogEntry{LeafInput: []byte("hello")}
	h := e.LeafHash()
	require.NoError(t, s.WriteSequenced(ctx, []storage.SequencedEntry{{Sequence: 0, Entry: e, LeafHash: h}}))

	got, err := s.ReadByLeafHash(ctx, h)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(0), got.Sequence)

	missing, err := s.ReadByLeafHash(ctx, [32]byte{0xff})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLatestContiguousSequence(t *testing.T) {
	ctx := context.Background()
	s := New()

	n, err := s.LatestContiguousSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	for _, seq := range []uint64{0, 1, 3} { // gap at 2
		e := types.LogEntry{LeafInput: []byte{byte(seq)}}
		require.NoError(t, s.WriteSequenced(ctx, []storage.SequencedEntry{{Sequence: seq, Entry: e, LeafHash: e.LeafHash()}}))
	}

	n, err = s.LatestContiguousSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestTreeHeadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	got, err := s.LatestTreeHead(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	slr := &types.SignedLogRoot{LogRoot: []byte("root"), LogRootSignature: []byte("sig")}
	require.NoError(t, s.StoreTreeHead(ctx, slr))

	got, err = s.LatestTreeHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, slr, got)
}
