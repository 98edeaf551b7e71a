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

package proof

import (
	"fmt"

	"github.com/openctlog/ctlog/merkle/rfc6962"
)

var hasher = rfc6962.DefaultHasher

// VerifyInclusion checks that combining leafHash with the proof
// reconstructs root, for a leaf at index in a tree of the given size. This
// is what a client or a mirror runs against data it does not otherwise
// trust; it never touches a Tree.
func VerifyInclusion(leafHash [32]byte, index, size uint64, proof [][32]byte, root [32]byte) error {
	if index >= size {
		return fmt.Errorf("%w: index %d out of bounds for size %d", ErrInvalidRange, index, size)
	}
	got, consumed, err := hashFromInclusionProof(index, 0, size, leafHash, proof, 0)
	if err != nil {
		return err
	}
	if consumed != len(proof) {
		return fmt.Errorf("inclusion proof has %d unconsumed entries", len(proof)-consumed)
	}
	if got != root {
		return fmt.Errorf("inclusion proof does not verify: computed root does not match")
	}
	return nil
}

// hashFromInclusionProof mirrors Tree.InclusionProof's recursion, but
// consumes proof entries instead of reading memoised subtree hashes.
func hashFromInclusionProof(m, begin, end uint64, leaf [32]byte, proof [][32]byte, idx int) ([32]byte, int, error) {
	n := end - begin
	if n == 1 {
		return leaf, idx, nil
	}
	k := largestPow2LessThan(n)
	if m < k {
		left, idx2, err := hashFromInclusionProof(m, begin, begin+k, leaf, proof, idx)
		if err != nil {
			return [32]byte{}, 0, err
		}
		if idx2 >= len(proof) {
			return [32]byte{}, 0, fmt.Errorf("inclusion proof too short")
		}
		return hasher.HashChildren(left, proof[idx2]), idx2 + 1, nil
	}
	right, idx2, err := hashFromInclusionProof(m-k, begin+k, end, leaf, proof, idx)
	if err != nil {
		return [32]byte{}, 0, err
	}
	if idx2 >= len(proof) {
		return [32]byte{}, 0, fmt.Errorf("inclusion proof too short")
	}
	return hasher.HashChildren(proof[idx2], right), idx2 + 1, nil
}

// VerifyConsistency checks that a consistency proof recovers root1 (the
// root at oldSize) and root2 (the root at newSize) from the same set of
// hashes, proving the log never forked between the two sizes.
func VerifyConsistency(oldSize, newSize uint64, root1, root2 [32]byte, prf [][32]byte) error {
	if oldSize > newSize {
		return fmt.Errorf("%w: oldSize %d > newSize %d", ErrInvalidRange, oldSize, newSize)
	}
	if oldSize == newSize {
		if len(prf) != 0 {
			return fmt.Errorf("consistency proof must be empty when sizes are equal")
		}
		if root1 != root2 {
			return fmt.Errorf("consistency proof does not verify: roots differ at equal size")
		}
		return nil
	}
	if oldSize == 0 {
		if len(prf) != 0 {
			return fmt.Errorf("consistency proof must be empty when oldSize is 0")
		}
		return nil
	}

	node := oldSize - 1
	lastNode := newSize - 1
	for node%2 == 1 {
		node >>= 1
		lastNode >>= 1
	}

	idx := 0
	var newHash, oldHash [32]byte
	if node > 0 {
		if idx >= len(prf) {
			return fmt.Errorf("consistency proof too short")
		}
		newHash, oldHash = prf[idx], prf[idx]
		idx++
	} else {
		// The old tree is itself a complete subtree; its hash is root1,
		// which the verifier already has from the earlier STH.
		newHash, oldHash = root1, root1
	}

	for node > 0 {
		switch {
		case node%2 == 1:
			if idx >= len(prf) {
				return fmt.Errorf("consistency proof too short")
			}
			h := prf[idx]
			idx++
			oldHash = hasher.HashChildren(h, oldHash)
			newHash = hasher.HashChildren(h, newHash)
		case node < lastNode:
			if idx >= len(prf) {
				return fmt.Errorf("consistency proof too short")
			}
			h := prf[idx]
			idx++
			newHash = hasher.HashChildren(newHash, h)
		}
		node >>= 1
		lastNode >>= 1
	}
	for lastNode > 0 {
		if idx >= len(prf) {
			return fmt.Errorf("consistency proof too short")
		}
		newHash = hasher.HashChildren(newHash, prf[idx])
		idx++
		lastNode >>= 1
	}
	if idx != len(prf) {
		return fmt.Errorf("consistency proof has %d unconsumed entries", len(prf)-idx)
	}
	if oldHash != root1 {
		return fmt.Errorf("consistency proof does not verify: old root mismatch")
	}
	if newHash != root2 {
		return fmt.Errorf("consistency proof does not verify: new root mismatch")
	}
	return nil
}
