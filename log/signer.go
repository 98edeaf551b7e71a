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

// Package log is the Tree Signer: the sequencing loop that runs only on
// the leader, draining pending entries from the consistent store,
// assigning them sequence numbers, folding them into the Merkle tree and
// publishing a new Signed Tree Head. It is adapted from a Trillian-style
// sequencer, generalised so that "the transaction" is the pair of a
// replicated ConsistentStore and a node-local EntryStorage instead of a
// single SQL transaction.
package log

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/openctlog/ctlog/clock"
	"github.com/openctlog/ctlog/cluster/store"
	"github.com/openctlog/ctlog/crypto"
	"github.com/openctlog/ctlog/merkle/compact"
	"github.com/openctlog/ctlog/merkle/rfc6962"
	"github.com/openctlog/ctlog/monitoring"
	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/types"
)

var (
	metricsOnce sync.Once

	seqBatches          monitoring.Counter
	seqTreeSize         monitoring.Gauge
	seqTimestamp        monitoring.Gauge
	seqLatency          monitoring.Histogram
	seqDequeueLatency   monitoring.Histogram
	seqGetRootLatency   monitoring.Histogram
	seqInitTreeLatency  monitoring.Histogram
	seqWriteTreeLatency monitoring.Histogram
	seqStoreRootLatency monitoring.Histogram
	seqCounter          monitoring.Counter
	seqMergeDelay       monitoring.Histogram
	seqClockSkew        monitoring.Gauge
)

const logIDLabel = "logid"

func createMetrics(mf monitoring.MetricFactory) {
	if mf == nil {
		mf = monitoring.InertMetricFactory{}
	}
	seqBatches = mf.NewCounter("signer_batches", "Number of signer batch operations", logIDLabel)
	seqTreeSize = mf.NewGauge("signer_tree_size", "Tree size of last STH signed", logIDLabel)
	seqTimestamp = mf.NewGauge("signer_tree_timestamp", "Time of last STH signed in ms since epoch", logIDLabel)
	seqLatency = mf.NewHistogram("signer_latency", "Latency of signer batch operation in seconds", logIDLabel)
	seqDequeueLatency = mf.NewHistogram("signer_latency_dequeue", "Latency of dequeue part of signer batch operation in seconds", logIDLabel)
	seqGetRootLatency = mf.NewHistogram("signer_latency_get_root", "Latency of get-root part of signer batch operation in seconds", logIDLabel)
	seqInitTreeLatency = mf.NewHistogram("signer_latency_init_tree", "Latency of init-tree part of signer batch operation in seconds", logIDLabel)
	seqWriteTreeLatency = mf.NewHistogram("signer_latency_write_tree", "Latency of write-tree part of signer batch operation in seconds", logIDLabel)
	seqStoreRootLatency = mf.NewHistogram("signer_latency_store_root", "Latency of store-root part of signer batch operation in seconds", logIDLabel)
	seqCounter = mf.NewCounter("signer_sequenced", "Number of entries sequenced", logIDLabel)
	seqMergeDelay = mf.NewHistogram("signer_merge_delay", "Delay between queuing and integration of entries", logIDLabel)
	seqClockSkew = mf.NewGauge("signer_clock_skew_ms", "Milliseconds the previous STH timestamp is ahead of this node's clock", logIDLabel)
}

// LeaseChecker reports whether the caller still holds a valid leadership
// lease; cluster/election.Election satisfies this.
type LeaseChecker interface {
	IsLeader() bool
}

// ConsistentStore is the slice of cluster/store.StrictStore the Tree
// Signer needs. Declaring it here (rather than depending on the concrete
// type) lets tests exercise IntegrateBatch's sequencing and
// failure-recovery logic against an in-memory fake instead of a live
// etcd cluster.
type ConsistentStore interface {
	GetPendingEntries(ctx context.Context, limit int) ([]store.PendingRecord, error)
	GetAssignedSequence(ctx context.Context, leafHash [32]byte) (seq uint64, ok bool, err error)
	NextAvailableSequenceNumber(ctx context.Context) (uint64, error)
	AssignSequenceNumber(ctx context.Context, leafHash [32]byte, seq uint64) error
	PublishSTH(ctx context.Context, slr *types.SignedLogRoot) error
	DeletePending(ctx context.Context, leafHash [32]byte) error
}

// Signer is the Tree Signer. One instance runs per log, active only
// while its node holds leadership.
type Signer struct {
	logID      string
	entries    storage.EntryStorage
	store      ConsistentStore
	signer     *crypto.Signer
	lease      LeaseChecker
	timeSource clock.TimeSource
	hasher     rfc6962.Hasher
}

// NewSigner constructs a Signer. mf may be nil, matching the teacher's
// fallback to an inert metric factory.
func NewSigner(logID string, entries storage.EntryStorage, st ConsistentStore, signer *crypto.Signer, lease LeaseChecker, ts clock.TimeSource, mf monitoring.MetricFactory) *Signer {
	metricsOnce.Do(func() { createMetrics(mf) })
	return &Signer{
		logID:      logID,
		entries:    entries,
		store:      st,
		signer:     signer,
		lease:      lease,
		timeSource: ts,
		hasher:     rfc6962.DefaultHasher,
	}
}

// initCompactRangeFromStorage rebuilds the compact range by replaying
// every locally-stored entry up to contiguous, and checks the result
// against the root the last published STH committed to. This is the
// recovery procedure spec.md §4.6 calls for after "crash between steps
// 3 and 4": there is no persisted internal-node table to read back, only
// entry_db itself, so recomputing from the indexed leaves is exact and
// always available.
func (s *Signer) initCompactRangeFromStorage(ctx context.Context, current *types.LogRootV1, contiguous uint64) (*compact.Range, error) {
	cr := compact.NewEmptyRange(s.hasher.HashChildren)
	if current.TreeSize == 0 {
		return cr, nil
	}
	const chunk = 4096
	for start := uint64(0); start < current.TreeSize; start += chunk {
		n := chunk
		if remaining := current.TreeSize - start; remaining < chunk {
			n = int(remaining)
		}
		batch, err := s.entries.ReadRange(ctx, start, uint64(n))
		if err != nil {
			return nil, fmt.Errorf("log: replay read range [%d,%d): %w", start, start+uint64(n), err)
		}
		if len(batch) != n {
			return nil, fmt.Errorf("log: replay: want %d entries at [%d,%d), got %d", n, start, start+uint64(n), len(batch))
		}
		for _, e := range batch {
			if err := cr.Append(e.LeafHash); err != nil {
				return nil, fmt.Errorf("log: replay append at seq %d: %w", e.Sequence, err)
			}
		}
	}
	root, err := cr.GetRootHash()
	if err != nil {
		return nil, fmt.Errorf("log: replay root hash: %w", err)
	}
	if root != current.RootHash {
		return nil, fmt.Errorf("log: replayed root %x does not match published root %x at tree_size %d", root, current.RootHash, current.TreeSize)
	}
	return cr, nil
}

// dequeue fetches pending entries from the consistent store and drops
// any already assigned a sequence number by a previous (possibly
// crashed) leader, matching step 2 of spec.md §4.6.
func (s *Signer) dequeue(ctx context.Context, limit int) ([]store.PendingRecord, error) {
	pending, err := s.store.GetPendingEntries(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]store.PendingRecord, 0, len(pending))
	for _, p := range pending {
		_, assigned, err := s.store.GetAssignedSequence(ctx, p.LeafHash)
		if err != nil {
			return nil, err
		}
		if assigned {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// IntegrateBatch runs one sequencing iteration: dequeue up to limit
// pending entries, assign them sequence numbers, fold them into the
// compact tree, and sign and publish a new STH. guardWindow excludes
// entries promised too recently to be safely sequenced; if no entries
// are integrated and the current STH is older than maxRootDuration, a
// fresh STH is signed anyway so that MMD is honored even during quiet
// periods. maxClockSkew bounds how far behind the previous STH's
// timestamp this node's own clock may be; beyond that bound signing is
// refused rather than silently clamping the new timestamp, per the
// skew policy this engine carries instead of trusting an unbounded
// monotonic clamp.
func (s *Signer) IntegrateBatch(ctx context.Context, limit int, guardWindow, maxRootDuration, maxClockSkew time.Duration) (int, error) {
	start := s.timeSource.Now()
	defer seqBatches.Inc(s.logID)
	defer func() { seqLatency.Observe(clock.SecondsSince(s.timeSource, start), s.logID) }()

	stageStart := s.timeSource.Now()
	contiguous, err := s.entries.LatestContiguousSequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("log: latest contiguous sequence: %w", err)
	}
	currentSLR, err := s.entries.LatestTreeHead(ctx)
	if err != nil {
		return 0, fmt.Errorf("log: latest tree head: %w", err)
	}
	var currentRoot types.LogRootV1
	if currentSLR != nil {
		if err := currentRoot.UnmarshalBinary(currentSLR.LogRoot); err != nil {
			return 0, fmt.Errorf("log: unmarshal current root: %w", err)
		}
	}
	if currentRoot.TreeSize > contiguous {
		return 0, fmt.Errorf("log: invariant violated: current root tree_size %d > contiguous %d", currentRoot.TreeSize, contiguous)
	}
	seqGetRootLatency.Observe(clock.SecondsSince(s.timeSource, stageStart), s.logID)
	seqTreeSize.Set(float64(currentRoot.TreeSize), s.logID)

	stageStart = s.timeSource.Now()
	cr, err := s.initCompactRangeFromStorage(ctx, &currentRoot, contiguous)
	if err != nil {
		return 0, fmt.Errorf("log: init compact range: %w", err)
	}
	seqInitTreeLatency.Observe(clock.SecondsSince(s.timeSource, stageStart), s.logID)

	cutoff := start.Add(-guardWindow)
	dequeueStart := s.timeSource.Now()
	pending, err := s.dequeue(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("log: dequeue: %w", err)
	}
	seqDequeueLatency.Observe(clock.SecondsSince(s.timeSource, dequeueStart), s.logID)

	stageStart = s.timeSource.Now()
	var sequenced []storage.SequencedEntry
	var assignedHashes [][32]byte
	for _, p := range pending {
		if time.UnixMilli(int64(p.PromisedTimestamp)).After(cutoff) {
			continue // too recent; leave for a later iteration's guard window
		}
		seq, err := s.store.NextAvailableSequenceNumber(ctx)
		if err != nil {
			return len(sequenced), fmt.Errorf("log: next available sequence number: %w", err)
		}
		if err := s.store.AssignSequenceNumber(ctx, p.LeafHash, seq); err != nil {
			glog.Warningf("log: %s: lost sequence assignment race for %x: %v", s.logID, p.LeafHash, err)
			continue
		}
		now := s.timeSource.Now()
		if p.PromisedTimestamp != 0 {
			seqMergeDelay.Observe(now.Sub(time.UnixMilli(int64(p.PromisedTimestamp))).Seconds(), s.logID)
		}
		sequenced = append(sequenced, storage.SequencedEntry{
			Sequence:     seq,
			Entry:        p.Entry,
			LeafHash:     p.LeafHash,
			IntegratedAt: now,
		})
		assignedHashes = append(assignedHashes, p.LeafHash)
		if err := cr.Append(p.LeafHash); err != nil {
			return len(sequenced), fmt.Errorf("log: append to compact range: %w", err)
		}
	}
	numSequenced := len(sequenced)

	if numSequenced == 0 {
		interval := start.Sub(time.UnixMilli(int64(currentRoot.TimestampNanos / 1e6)))
		if maxRootDuration == 0 || interval < maxRootDuration || currentRoot.TreeSize == 0 {
			glog.V(1).Infof("log: %s: no entries sequenced this iteration", s.logID)
			return 0, nil
		}
		glog.Infof("log: %s: forcing new STH after %v since last root", s.logID, interval)
	}

	if len(sequenced) > 0 {
		if err := s.entries.WriteSequenced(ctx, sequenced); err != nil {
			return numSequenced, fmt.Errorf("log: write sequenced entries: %w", err)
		}
	}
	seqWriteTreeLatency.Observe(clock.SecondsSince(s.timeSource, stageStart), s.logID)

	newRootHash, err := cr.GetRootHash()
	if err != nil {
		if cr.End() == 0 {
			newRootHash = s.hasher.HashEmpty()
		} else {
			return numSequenced, fmt.Errorf("log: root hash: %w", err)
		}
	}

	nowMillis := uint64(s.timeSource.Now().UnixNano() / 1e6)
	prevMillis := currentRoot.TimestampNanos / 1e6
	skewMillis := int64(prevMillis) - int64(nowMillis)
	seqClockSkew.Set(float64(skewMillis), s.logID)
	if maxClockSkew > 0 && skewMillis > int64(maxClockSkew/time.Millisecond) {
		return numSequenced, fmt.Errorf("log: %s: refusing to sign: previous STH timestamp is %dms ahead of this node's clock, exceeds bound %v", s.logID, skewMillis, maxClockSkew)
	}
	newTimestamp := nowMillis
	if newTimestamp <= prevMillis {
		newTimestamp = prevMillis + 1
	}
	newRoot := &types.LogRootV1{
		TreeSize:       cr.End(),
		RootHash:       newRootHash,
		TimestampNanos: newTimestamp * 1e6,
		Revision:       currentRoot.Revision + 1,
	}
	seqTreeSize.Set(float64(newRoot.TreeSize), s.logID)
	seqTimestamp.Set(float64(newTimestamp), s.logID)

	stageStart = s.timeSource.Now()
	newSLR, err := s.signer.SignLogRoot(newRoot)
	if err != nil {
		return numSequenced, fmt.Errorf("log: sign root: %w", err)
	}

	if !s.lease.IsLeader() {
		return numSequenced, fmt.Errorf("log: lost leadership before publishing STH, size %d not published", newRoot.TreeSize)
	}
	if err := s.store.PublishSTH(ctx, newSLR); err != nil {
		return numSequenced, fmt.Errorf("log: publish sth: %w", err)
	}
	if err := s.entries.StoreTreeHead(ctx, newSLR); err != nil {
		return numSequenced, fmt.Errorf("log: store tree head locally: %w", err)
	}
	seqStoreRootLatency.Observe(clock.SecondsSince(s.timeSource, stageStart), s.logID)

	for _, h := range assignedHashes {
		if err := s.store.DeletePending(ctx, h); err != nil {
			glog.Warningf("log: %s: failed to garbage-collect pending entry %x: %v", s.logID, h, err)
		}
	}

	seqCounter.Add(float64(numSequenced), s.logID)
	glog.Infof("log: %s: sequenced %d entries, size %d, revision %d", s.logID, numSequenced, newRoot.TreeSize, newRoot.Revision)
	return numSequenced, nil
}

// Run loops IntegrateBatch at the given interval until ctx is cancelled
// or leadership is lost.
func (s *Signer) Run(ctx context.Context, batchLimit int, interval, guardWindow, maxRootDuration, maxClockSkew time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.lease.IsLeader() {
				return
			}
			if _, err := s.IntegrateBatch(ctx, batchLimit, guardWindow, maxRootDuration, maxClockSkew); err != nil {
				glog.Warningf("log: %s: integrate batch: %v", s.logID, err)
			}
		}
	}
}
