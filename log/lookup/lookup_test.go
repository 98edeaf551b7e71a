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

package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openctlog/ctlog/merkle/proof"
	"github.com/openctlog/ctlog/merkle/rfc6962"
	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/storage/memory"
	"github.com/openctlog/ctlog/types"
)

func buildSTH(t *testing.T, n int) (*memory.Storage, *types.SignedLogRoot) {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	tree := proof.New()

	var entries []storage.SequencedEntry
	for i := 0; i < n; i++ {
		e := types.LogEntry{LeafInput: []byte{byte(i)}}
		h := e.LeafHash()
		tree.Append(h)
		entries = append(entries, storage.SequencedEntry{Sequence: uint64(i), Entry: e, LeafHash: h})
	}
	require.NoError(t, mem.WriteSequenced(ctx, entries))

	root, err := tree.RootAt(uint64(n))
	require.NoError(t, err)
	logRoot := types.LogRootV1{TreeSize: uint64(n), RootHash: root}
	marshalled, err := logRoot.MarshalBinary()
	require.NoError(t, err)
	slr := &types.SignedLogRoot{LogRoot: marshalled}
	require.NoError(t, mem.StoreTreeHead(ctx, slr))
	return mem, slr
}

func TestRebuildAndGetEntryAndProof(t *testing.T) {
	ctx := context.Background()
	mem, slr := buildSTH(t, 8)

	l := New(mem)
	require.NoError(t, l.Rebuild(ctx, slr))

	entry, path, err := l.GetEntryAndProof(ctx, 0, 8)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NotEmpty(t, path)
}

func TestGetProofByHash(t *testing.T) {
	ctx := context.Background()
	mem, slr := buildSTH(t, 4)

	l := New(mem)
	require.NoError(t, l.Rebuild(ctx, slr))

	target := types.LogEntry{LeafInput: []byte{2}}
	seq, path, ok, err := l.GetProofByHash(target.LeafHash(), 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), seq)
	require.NotEmpty(t, path)

	_, _, ok, err = l.GetProofByHash(rfc6962.DefaultHasher.HashLeaf([]byte("nope")), 4)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetConsistency(t *testing.T) {
	ctx := context.Background()
	mem, slr := buildSTH(t, 4)

	l := New(mem)
	require.NoError(t, l.Rebuild(ctx, slr))

	path, err := l.GetConsistency(1, 4)
	require.NoError(t, err)
	require.NotNil(t, path)

	path, err = l.GetConsistency(0, 4)
	require.NoError(t, err)
	require.Empty(t, path)
}
