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

// Package proof implements the dense, append-only RFC 6962 Merkle tree:
// root computation at arbitrary past sizes, inclusion proofs and
// consistency proofs. Unlike the streaming compact tree in merkle/compact,
// this engine keeps every leaf in memory and memoises subtree hashes keyed
// by the leaf range [begin, end) they cover, not by a (level, index) node
// address, so they are never recomputed once known -- a
// prefix of an append-only tree never changes, so the memo is never
// invalidated, only grown.
package proof

import (
	"fmt"
	"math/bits"

	"github.com/openctlog/ctlog/merkle/rfc6962"
)

// ErrInvalidRange is returned for out-of-range or out-of-order size/index
// arguments, per spec: old_size > new_size, or index >= tree_size.
var ErrInvalidRange = fmt.Errorf("invalid range")

type rangeKey struct{ begin, end uint64 }

// Tree is a dense, in-memory RFC 6962 Merkle tree. It is the full-tree
// counterpart to the compact.Range used by the sequencing loop; it is
// rebuilt by Log Lookup whenever a new STH is adopted, then used
// read-only to answer inclusion and consistency proof requests.
type Tree struct {
	hasher rfc6962.Hasher
	leaves [][32]byte
	memo   map[rangeKey][32]byte
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{memo: make(map[rangeKey][32]byte)}
}

// Append adds one more leaf hash to the tree.
func (t *Tree) Append(leafHash [32]byte) {
	t.leaves = append(t.leaves, leafHash)
}

// Size returns the number of leaves currently held.
func (t *Tree) Size() uint64 { return uint64(len(t.leaves)) }

// largestPow2LessThan returns the largest power of two strictly less than n,
// for n > 1. This is RFC 6962's "k = 2^floor(log2(n-1))".
func largestPow2LessThan(n uint64) uint64 {
	return uint64(1) << uint(bits.Len64(n-1)-1)
}

// mth computes MTH(D[begin:end]) per RFC 6962 §2.1, memoising the result:
// once computed, a range's hash never changes as the tree grows.
func (t *Tree) mth(begin, end uint64) [32]byte {
	n := end - begin
	if n == 1 {
		return t.leaves[begin]
	}
	key := rangeKey{begin, end}
	if h, ok := t.memo[key]; ok {
		return h
	}
	k := begin + largestPow2LessThan(n)
	h := t.hasher.HashChildren(t.mth(begin, k), t.mth(k, end))
	t.memo[key] = h
	return h
}

// RootAt returns the tree root for the first `size` leaves. size must not
// exceed the number of leaves appended so far.
func (t *Tree) RootAt(size uint64) ([32]byte, error) {
	if size == 0 {
		return t.hasher.HashEmpty(), nil
	}
	if size > t.Size() {
		return [32]byte{}, fmt.Errorf("%w: size %d exceeds %d known leaves", ErrInvalidRange, size, t.Size())
	}
	return t.mth(0, size), nil
}

// InclusionProof returns the RFC 6962 §2.1.1 audit path proving that the
// leaf at `index` is present in the tree of the given `size`. The path is
// ordered bottom-up: combine with the leaf hash first, the tree root last.
func (t *Tree) InclusionProof(index, size uint64) ([][32]byte, error) {
	if size > t.Size() {
		return nil, fmt.Errorf("%w: size %d exceeds %d known leaves", ErrInvalidRange, size, t.Size())
	}
	if index >= size {
		return nil, fmt.Errorf("%w: index %d out of bounds for size %d", ErrInvalidRange, index, size)
	}
	var path [][32]byte
	var rec func(m, begin, end uint64)
	rec = func(m, begin, end uint64) {
		n := end - begin
		if n <= 1 {
			return
		}
		k := largestPow2LessThan(n)
		if m < k {
			rec(m, begin, begin+k)
			path = append(path, t.mth(begin+k, end))
		} else {
			rec(m-k, begin+k, end)
			path = append(path, t.mth(begin, begin+k))
		}
	}
	rec(index, 0, size)
	return path, nil
}

// ConsistencyProof returns the RFC 6962 §2.1.2 proof that the tree of size
// newSize is an extension of the tree of size oldSize. Per spec edge
// policy: oldSize == 0, or oldSize == newSize, returns an empty proof;
// oldSize > newSize is an error.
func (t *Tree) ConsistencyProof(oldSize, newSize uint64) ([][32]byte, error) {
	if oldSize > newSize {
		return nil, fmt.Errorf("%w: oldSize %d > newSize %d", ErrInvalidRange, oldSize, newSize)
	}
	if newSize > t.Size() {
		return nil, fmt.Errorf("%w: newSize %d exceeds %d known leaves", ErrInvalidRange, newSize, t.Size())
	}
	if oldSize == newSize || oldSize == 0 {
		return [][32]byte{}, nil
	}
	return t.subProof(oldSize, 0, newSize, true), nil
}

// subProof implements RFC 6962's SUBPROOF(m, D[begin:end], b).
func (t *Tree) subProof(m, begin, end uint64, b bool) [][32]byte {
	n := end - begin
	if m == n {
		if b {
			// The old tree is exactly this (complete) subtree: the verifier
			// already knows its hash is root_at(oldSize), nothing to add.
			return nil
		}
		return [][32]byte{t.mth(begin, end)}
	}
	k := largestPow2LessThan(n)
	if m <= k {
		path := t.subProof(m, begin, begin+k, b)
		return append(path, t.mth(begin+k, end))
	}
	path := t.subProof(m-k, begin+k, end, false)
	return append(path, t.mth(begin, begin+k))
}
