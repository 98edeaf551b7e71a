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

// Package fetcher implements mirror mode: a read-only follower of an
// upstream log that divides the unfetched range into non-overlapping
// windows and pulls them concurrently, verifying each window's last entry
// by an inclusion proof against the upstream STH's Merkle root before
// writing the window locally; the other entries of a window are not
// individually proven.
// The mirror never signs STHs; it only ever republishes an upstream STH
// it has itself verified.
package fetcher

import (
	"context"
	"crypto"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/golang/glog"

	ctcrypto "github.com/openctlog/ctlog/crypto"
	"github.com/openctlog/ctlog/merkle/proof"
	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/types"
)

// Upstream is the subset of a log client a Fetcher needs: fetching a
// range of entries and the latest STH. A real implementation makes
// get-entries/get-sth calls against the mirrored log's frontend; tests
// can substitute an in-memory upstream.
type Upstream interface {
	GetSTH(ctx context.Context) (*types.SignedLogRoot, error)
	GetEntries(ctx context.Context, start, end uint64) ([]types.LogEntry, error)
	GetInclusionProof(ctx context.Context, index, treeSize uint64) ([][32]byte, error)
}

// Fetcher pulls entries from Upstream into local storage, window by
// window, verifying every window boundary against the upstream's
// signature before trusting any of the entries it contains.
type Fetcher struct {
	upstream    Upstream
	entries     storage.EntryStorage
	upstreamKey crypto.PublicKey
	parallelism int
	windowSize  uint64
}

// New returns a Fetcher that verifies upstream STHs against upstreamKey.
func New(upstream Upstream, entries storage.EntryStorage, upstreamKey crypto.PublicKey, parallelism, windowSize int) *Fetcher {
	return &Fetcher{upstream: upstream, entries: entries, upstreamKey: upstreamKey, parallelism: parallelism, windowSize: uint64(windowSize)}
}

// Sync fetches and verifies everything upstream has published beyond
// what this mirror already holds contiguously, then republishes the
// upstream STH locally.
func (f *Fetcher) Sync(ctx context.Context) error {
	sth, err := f.upstream.GetSTH(ctx)
	if err != nil {
		return fmt.Errorf("fetcher: get upstream sth: %w", err)
	}
	root, err := ctcrypto.VerifyLogRoot(f.upstreamKey, sth)
	if err != nil {
		return fmt.Errorf("fetcher: upstream sth signature invalid: %w", err)
	}

	local, err := f.entries.LatestContiguousSequence(ctx)
	if err != nil {
		return fmt.Errorf("fetcher: local contiguous sequence: %w", err)
	}
	if local >= root.TreeSize {
		return nil
	}

	if err := f.fetchRange(ctx, local, root.TreeSize, root); err != nil {
		return err
	}
	if err := f.entries.StoreTreeHead(ctx, sth); err != nil {
		return fmt.Errorf("fetcher: store upstream sth: %w", err)
	}
	glog.Infof("fetcher: synced to tree_size %d", root.TreeSize)
	return nil
}

// fetchRange divides [start, size) into non-overlapping windows of at
// most f.windowSize entries and pulls them with up to f.parallelism
// windows in flight at once, verifying each window's boundary entry
// against root via an inclusion proof before any of the window's
// entries are written locally.
func (f *Fetcher) fetchRange(ctx context.Context, start, size uint64, root *types.LogRootV1) error {
	type window struct{ begin, end uint64 }
	var windows []window
	for b := start; b < size; b += f.windowSize {
		e := b + f.windowSize
		if e > size {
			e = size
		}
		windows = append(windows, window{b, e})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)
	for _, w := range windows {
		w := w
		g.Go(func() error {
			return f.fetchWindow(gctx, w.begin, w.end, root)
		})
	}
	return g.Wait()
}

func (f *Fetcher) fetchWindow(ctx context.Context, begin, end uint64, root *types.LogRootV1) error {
	entries, err := f.upstream.GetEntries(ctx, begin, end)
	if err != nil {
		return fmt.Errorf("fetcher: get entries [%d,%d): %w", begin, end, err)
	}
	if uint64(len(entries)) != end-begin {
		return fmt.Errorf("fetcher: want %d entries, got %d", end-begin, len(entries))
	}

	boundary := end - 1
	leafHash := entries[len(entries)-1].LeafHash()
	path, err := f.upstream.GetInclusionProof(ctx, boundary, root.TreeSize)
	if err != nil {
		return fmt.Errorf("fetcher: get inclusion proof for %d: %w", boundary, err)
	}
	if err := proof.VerifyInclusion(leafHash, boundary, root.TreeSize, path, root.RootHash); err != nil {
		return fmt.Errorf("fetcher: window [%d,%d) failed inclusion verification: %w", begin, end, err)
	}

	sequenced := make([]storage.SequencedEntry, len(entries))
	for i, e := range entries {
		sequenced[i] = storage.SequencedEntry{Sequence: begin + uint64(i), Entry: e, LeafHash: e.LeafHash()}
	}
	if err := f.entries.WriteSequenced(ctx, sequenced); err != nil {
		return fmt.Errorf("fetcher: write window [%d,%d): %w", begin, end, err)
	}
	return nil
}
