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

package compact

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashFn(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func leafHash(b byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{0x00, b})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func TestEmptyRangeHasNoRoot(t *testing.T) {
	r := NewEmptyRange(hashFn)
	_, err := r.GetRootHash()
	assert.Error(t, err)
}

func TestSingleLeafRootIsTheLeafHash(t *testing.T) {
	r := NewEmptyRange(hashFn)
	lh := leafHash(1)
	require.NoError(t, r.Append(lh))
	root, err := r.GetRootHash()
	require.NoError(t, err)
	assert.Equal(t, lh, root)
}

func TestAppendMatchesDenseComputation(t *testing.T) {
	const n = 37
	r := NewEmptyRange(hashFn)
	var leaves [][32]byte
	for i := 0; i < n; i++ {
		lh := leafHash(byte(i))
		leaves = append(leaves, lh)
		require.NoError(t, r.Append(lh))
	}
	got, err := r.GetRootHash()
	require.NoError(t, err)
	want := denseRoot(leaves)
	assert.Equal(t, want, got)
}

// denseRoot computes RFC 6962 MTH directly by recursion, as an
// independent check on the compact range's incremental computation.
func denseRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 1 {
		return leaves[0]
	}
	k := 1
	for k*2 < len(leaves) {
		k *= 2
	}
	left := denseRoot(leaves[:k])
	right := denseRoot(leaves[k:])
	return hashFn(left, right)
}

func TestEqual(t *testing.T) {
	a := NewEmptyRange(hashFn)
	b := NewEmptyRange(hashFn)
	for i := 0; i < 10; i++ {
		lh := leafHash(byte(i))
		require.NoError(t, a.Append(lh))
		require.NoError(t, b.Append(lh))
	}
	assert.True(t, a.Equal(b))

	require.NoError(t, a.Append(leafHash(99)))
	assert.False(t, a.Equal(b))
}

func TestNodeIDParentAndSibling(t *testing.T) {
	n := NewNodeID(2, 5)
	assert.Equal(t, NodeID{Level: 3, Index: 2}, n.Parent())
	assert.Equal(t, NodeID{Level: 2, Index: 4}, n.Sibling())
}
