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

package proof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctlog/ctlog/merkle/rfc6962"
)

func buildTree(n int) (*Tree, [][32]byte) {
	tree := New()
	leaves := make([][32]byte, n)
	for i := 0; i < n; i++ {
		leaves[i] = rfc6962.DefaultHasher.HashLeaf([]byte{byte(i)})
		tree.Append(leaves[i])
	}
	return tree, leaves
}

func TestRootAtEmptyTree(t *testing.T) {
	tree := New()
	root, err := tree.RootAt(0)
	require.NoError(t, err)
	assert.Equal(t, rfc6962.DefaultHasher.HashEmpty(), root)
}

func TestRootAtExceedsSizeIsError(t *testing.T) {
	tree, _ := buildTree(3)
	_, err := tree.RootAt(5)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestInclusionProofVerifiesAtEverySize(t *testing.T) {
	const n = 41
	tree, leaves := buildTree(n)
	for size := 1; size <= n; size++ {
		root, err := tree.RootAt(uint64(size))
		require.NoError(t, err)
		for idx := 0; idx < size; idx++ {
			path, err := tree.InclusionProof(uint64(idx), uint64(size))
			require.NoError(t, err)
			err = VerifyInclusion(leaves[idx], uint64(idx), uint64(size), path, root)
			assert.NoError(t, err, "size=%d idx=%d", size, idx)
		}
	}
}

func TestInclusionProofRejectsWrongLeaf(t *testing.T) {
	tree, leaves := buildTree(8)
	root, err := tree.RootAt(8)
	require.NoError(t, err)
	path, err := tree.InclusionProof(3, 8)
	require.NoError(t, err)
	err = VerifyInclusion(leaves[4], 3, 8, path, root)
	assert.Error(t, err)
}

func TestInclusionProofOutOfBounds(t *testing.T) {
	tree, _ := buildTree(4)
	_, err := tree.InclusionProof(4, 4)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = tree.InclusionProof(0, 5)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestConsistencyProofVerifiesAcrossSizes(t *testing.T) {
	const n = 41
	tree, _ := buildTree(n)
	for oldSize := 0; oldSize <= n; oldSize++ {
		for newSize := oldSize; newSize <= n; newSize++ {
			oldRoot, err := tree.RootAt(uint64(oldSize))
			require.NoError(t, err)
			newRoot, err := tree.RootAt(uint64(newSize))
			require.NoError(t, err)
			proof, err := tree.ConsistencyProof(uint64(oldSize), uint64(newSize))
			require.NoError(t, err)
			err = VerifyConsistency(uint64(oldSize), uint64(newSize), oldRoot, newRoot, proof)
			assert.NoError(t, err, "oldSize=%d newSize=%d", oldSize, newSize)
		}
	}
}

func TestConsistencyProofRejectsOldSizeGreaterThanNewSize(t *testing.T) {
	tree, _ := buildTree(8)
	_, err := tree.ConsistencyProof(5, 3)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestConsistencyProofEmptyWhenOldSizeZero(t *testing.T) {
	tree, _ := buildTree(8)
	proof, err := tree.ConsistencyProof(0, 8)
	require.NoError(t, err)
	assert.Empty(t, proof)
}

func TestVerifyConsistencyRejectsTamperedRoot(t *testing.T) {
	tree, _ := buildTree(8)
	oldRoot, err := tree.RootAt(4)
	require.NoError(t, err)
	newRoot, err := tree.RootAt(8)
	require.NoError(t, err)
	proof, err := tree.ConsistencyProof(4, 8)
	require.NoError(t, err)

	badRoot := oldRoot
	badRoot[0] ^= 0xFF
	err = VerifyConsistency(4, 8, badRoot, newRoot, proof)
	assert.Error(t, err)
}
