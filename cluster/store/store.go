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

// Package store is the replicated control plane: the log's pending-entry
// queue, sequence-number assignment ledger, cluster node heartbeats,
// leader-published STH, serving STH and cluster config, all held in an
// external quorum-replicated key-value service. This package wraps
// go.etcd.io/etcd/client/v3 with the log-specific namespace and
// operations; it holds no Merkle tree state of its own.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/golang/glog"

	"github.com/openctlog/ctlog/ctlogerr"
	"github.com/openctlog/ctlog/types"
)

// Key namespaces, rooted per-log. Every key this package touches is
// prefixed by Store.root, so multiple logs can share one etcd cluster.
const (
	entriesPrefix  = "entries/"
	sequencePrefix = "sequence_mapping/"
	nodesPrefix    = "nodes/"
	electionPrefix = "election/"
	sthKey         = "sth"
	servingSTHKey  = "serving_sth"
	clusterCfgKey  = "cluster_config"
	seqCounterKey  = "sequence_mapping/_next"
)

// Store is the read/write surface over the consistent store that does
// not require an active leadership lease. Reads may return data that is
// stale relative to the latest committed revision. Only pending records
// (PendingRecord.ModRevision) carry their etcd modification revision;
// node states, STHs and the cluster config are returned without one.
type Store struct {
	client *clientv3.Client
	root   string
}

// New returns a Store rooted under "/ctlog/<logID>/".
func New(client *clientv3.Client, logID string) *Store {
	return &Store{client: client, root: fmt.Sprintf("/ctlog/%s/", logID)}
}

func (s *Store) key(parts ...string) string {
	return s.root + strings.Join(parts, "")
}

// PendingRecord is a staged entry awaiting sequence assignment, as stored
// under /entries/<leaf_hash>.
type PendingRecord struct {
	Entry             types.LogEntry
	LeafHash          [32]byte
	PromisedTimestamp uint64
	ModRevision       int64
}

// AddPending CAS-inserts a pending entry under its leaf hash. It is
// idempotent: if an entry already exists at that hash, its existing
// promised timestamp is returned instead of an error, matching
// "Created | AlreadyExists(existing_timestamp)".
func (s *Store) AddPending(ctx context.Context, p types.PendingEntry) (created bool, existingTimestamp uint64, err error) {
	k := s.key(entriesPrefix, fmt.Sprintf("%x", p.LeafHash))
	val := encodePending(p)

	txn := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, string(val))).
		Else(clientv3.OpGet(k))
	resp, err := txn.Commit()
	if err != nil {
		return false, 0, ctlogerr.Transient(err, "store: add_pending txn")
	}
	if resp.Succeeded {
		return true, 0, nil
	}
	existing, err := decodePending(resp.Responses[0].GetResponseRange().Kvs[0].Value)
	if err != nil {
		return false, 0, ctlogerr.Fatal(err, "store: add_pending: corrupt existing record")
	}
	return false, existing.PromisedTimestamp, nil
}

// GetPendingEntries fetches up to limit records under /entries/, oldest
// first by promised timestamp (ties broken by leaf hash, matching the Tree
// Signer's dequeue ordering in step 3 of its sequencing iteration).
// Records already assigned a sequence number but not yet deleted are
// included; the Tree Signer filters them out with GetAssignedSequence.
func (s *Store) GetPendingEntries(ctx context.Context, limit int) ([]PendingRecord, error) {
	resp, err := s.client.Get(ctx, s.key(entriesPrefix), clientv3.WithPrefix())
	if err != nil {
		return nil, ctlogerr.Transient(err, "store: get_pending_entries")
	}
	out := make([]PendingRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		p, err := decodePending(kv.Value)
		if err != nil {
			glog.Warningf("store: skipping corrupt pending record %q: %v", kv.Key, err)
			continue
		}
		p.ModRevision = kv.ModRevision
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PromisedTimestamp != out[j].PromisedTimestamp {
			return out[i].PromisedTimestamp < out[j].PromisedTimestamp
		}
		return lessHash(out[i].LeafHash, out[j].LeafHash)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func lessHash(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// AssignSequenceNumber CAS-records that leafHash owns seq. It fails with
// a Conflict status if leafHash already has an assignment, and with a
// Precondition status if seq is already owned by a different leaf hash.
func (s *Store) AssignSequenceNumber(ctx context.Context, leafHash [32]byte, seq uint64) error {
	mappingKey := s.key(sequencePrefix, fmt.Sprintf("%x", leafHash))
	seqKey := s.key(sequencePrefix, "by_seq/", fmt.Sprintf("%020d", seq))

	txn := s.client.Txn(ctx).
		If(
			clientv3.Compare(clientv3.CreateRevision(mappingKey), "=", 0),
			clientv3.Compare(clientv3.CreateRevision(seqKey), "=", 0),
		).
		Then(
			clientv3.OpPut(mappingKey, fmt.Sprintf("%d", seq)),
			clientv3.OpPut(seqKey, fmt.Sprintf("%x", leafHash)),
		)
	resp, err := txn.Commit()
	if err != nil {
		return ctlogerr.Transient(err, "store: assign_sequence_number txn")
	}
	if !resp.Succeeded {
		existing, getErr := s.client.Get(ctx, mappingKey)
		if getErr == nil && len(existing.Kvs) > 0 {
			return ctlogerr.Conflict(nil, "store: leaf hash %x already assigned sequence", leafHash)
		}
		return ctlogerr.Precondition(nil, "store: sequence %d already claimed by another leaf hash", seq)
	}
	return nil
}

// NextAvailableSequenceNumber atomically reserves and returns the next
// unused sequence number, derived from the running counter plus any
// outstanding reservations (so two racing signers never reserve the same
// number, even though only one will win the corresponding
// AssignSequenceNumber CAS).
func (s *Store) NextAvailableSequenceNumber(ctx context.Context) (uint64, error) {
	k := s.key(seqCounterKey)
	for {
		resp, err := s.client.Get(ctx, k)
		if err != nil {
			return 0, ctlogerr.Transient(err, "store: next_available_sequence_number: get")
		}
		var cur uint64
		var modRev int64
		if len(resp.Kvs) > 0 {
			cur = binary.BigEndian.Uint64(resp.Kvs[0].Value)
			modRev = resp.Kvs[0].ModRevision
		}
		next := cur + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)

		txn := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(k), "=", modRev)).
			Then(clientv3.OpPut(k, string(buf)))
		tresp, err := txn.Commit()
		if err != nil {
			return 0, ctlogerr.Transient(err, "store: next_available_sequence_number: cas")
		}
		if tresp.Succeeded {
			return cur, nil
		}
		// Lost the race against another reservation; retry with fresh state.
	}
}

// GetAssignedSequence returns the sequence number already assigned to
// leafHash, if any, so the Tree Signer can filter already-assigned
// pending entries out of its dequeue batch (step 2 of spec.md §4.6).
func (s *Store) GetAssignedSequence(ctx context.Context, leafHash [32]byte) (seq uint64, ok bool, err error) {
	resp, err := s.client.Get(ctx, s.key(sequencePrefix, fmt.Sprintf("%x", leafHash)))
	if err != nil {
		return 0, false, ctlogerr.Transient(err, "store: get_assigned_sequence")
	}
	if len(resp.Kvs) == 0 {
		return 0, false, nil
	}
	var n uint64
	if _, err := fmt.Sscanf(string(resp.Kvs[0].Value), "%d", &n); err != nil {
		return 0, false, ctlogerr.Fatal(err, "store: corrupt sequence mapping for %x", leafHash)
	}
	return n, true, nil
}

// SetClusterNodeState heartbeats this node's progress into /nodes/<id>,
// bound to a lease so a crashed node's state expires rather than
// lingering forever.
func (s *Store) SetClusterNodeState(ctx context.Context, leaseID clientv3.LeaseID, state types.NodeState) error {
	k := s.key(nodesPrefix, state.NodeID)
	val := encodeNodeState(state)
	_, err := s.client.Put(ctx, k, string(val), clientv3.WithLease(leaseID))
	if err != nil {
		return ctlogerr.Transient(err, "store: set_cluster_node_state")
	}
	return nil
}

// GetClusterNodeStates returns every currently-heartbeated node's state.
func (s *Store) GetClusterNodeStates(ctx context.Context) ([]types.NodeState, error) {
	resp, err := s.client.Get(ctx, s.key(nodesPrefix), clientv3.WithPrefix())
	if err != nil {
		return nil, ctlogerr.Transient(err, "store: get_cluster_node_states")
	}
	out := make([]types.NodeState, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		st, err := decodeNodeState(kv.Value)
		if err != nil {
			glog.Warningf("store: skipping corrupt node state %q: %v", kv.Key, err)
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// GetSTH returns the latest STH the leader has published to /sth/, or
// nil if none has been published yet.
func (s *Store) GetSTH(ctx context.Context) (*types.SignedLogRoot, error) {
	resp, err := s.client.Get(ctx, s.key(sthKey))
	if err != nil {
		return nil, ctlogerr.Transient(err, "store: get sth")
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return decodeSLR(resp.Kvs[0].Value)
}

// PublishSTH writes the leader's newly-signed STH to /sth/. This is
// distinct from SetServingSTH: /sth/ is the leader's latest signed root,
// while /serving_sth is what the Cluster State Controller elects once a
// quorum of nodes has durably replicated it.
func (s *Store) PublishSTH(ctx context.Context, slr *types.SignedLogRoot) error {
	_, err := s.client.Put(ctx, s.key(sthKey), string(encodeSLR(slr)))
	if err != nil {
		return ctlogerr.Transient(err, "store: publish sth")
	}
	return nil
}

// GetServingSTH returns the STH currently served to external clients, or
// nil if none has been elected yet.
func (s *Store) GetServingSTH(ctx context.Context) (*types.SignedLogRoot, error) {
	resp, err := s.client.Get(ctx, s.key(servingSTHKey))
	if err != nil {
		return nil, ctlogerr.Transient(err, "store: get serving sth")
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return decodeSLR(resp.Kvs[0].Value)
}

// SetServingSTH CAS-updates /serving_sth, enforcing monotonicity: the new
// STH's tree_size must be >= the current one, and at equal tree_size the
// root hash must agree (anything else is a log-storage invariant
// violation, not a race, so it is Fatal rather than Conflict).
func (s *Store) SetServingSTH(ctx context.Context, slr *types.SignedLogRoot) error {
	var newRoot types.LogRootV1
	if err := newRoot.UnmarshalBinary(slr.LogRoot); err != nil {
		return ctlogerr.Validation(err, "store: set_serving_sth: unmarshal")
	}
	cur, err := s.GetServingSTH(ctx)
	if err != nil {
		return err
	}
	if cur != nil {
		var curRoot types.LogRootV1
		if err := curRoot.UnmarshalBinary(cur.LogRoot); err != nil {
			return ctlogerr.Fatal(err, "store: set_serving_sth: unmarshal current")
		}
		if newRoot.TreeSize < curRoot.TreeSize {
			return ctlogerr.Precondition(nil, "store: set_serving_sth: tree_size %d < current %d", newRoot.TreeSize, curRoot.TreeSize)
		}
		if newRoot.TreeSize == curRoot.TreeSize && newRoot.RootHash != curRoot.RootHash {
			return ctlogerr.Fatal(nil, "store: set_serving_sth: root hash mismatch at tree_size %d", newRoot.TreeSize)
		}
		if newRoot.TreeSize == curRoot.TreeSize {
			return nil // no-op, already serving this root
		}
	}
	k := s.key(servingSTHKey)
	cmp := clientv3.Compare(clientv3.CreateRevision(k), "=", 0)
	if cur != nil {
		cmp = clientv3.Compare(clientv3.Value(k), "=", string(encodeSLR(cur)))
	}
	resp, err := s.client.Txn(ctx).If(cmp).Then(clientv3.OpPut(k, string(encodeSLR(slr)))).Commit()
	if err != nil {
		return ctlogerr.Transient(err, "store: set_serving_sth: put")
	}
	if !resp.Succeeded {
		return ctlogerr.Conflict(nil, "store: set_serving_sth: serving sth changed concurrently")
	}
	return nil
}

// GetClusterConfig returns the published cluster-wide quorum and
// freshness policy.
func (s *Store) GetClusterConfig(ctx context.Context) (*types.ClusterConfig, error) {
	resp, err := s.client.Get(ctx, s.key(clusterCfgKey))
	if err != nil {
		return nil, ctlogerr.Transient(err, "store: get_cluster_config")
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	cfg, err := decodeClusterConfig(resp.Kvs[0].Value)
	if err != nil {
		return nil, ctlogerr.Fatal(err, "store: decode cluster config")
	}
	return &cfg, nil
}

// SetClusterConfig publishes the cluster-wide quorum and freshness
// policy. It is not CAS-protected: operators may override it freely.
func (s *Store) SetClusterConfig(ctx context.Context, cfg types.ClusterConfig) error {
	_, err := s.client.Put(ctx, s.key(clusterCfgKey), string(encodeClusterConfig(cfg)))
	if err != nil {
		return ctlogerr.Transient(err, "store: set_cluster_config")
	}
	return nil
}

// DeletePending garbage-collects a pending entry once it is covered by a
// published STH.
func (s *Store) DeletePending(ctx context.Context, leafHash [32]byte) error {
	_, err := s.client.Delete(ctx, s.key(entriesPrefix, fmt.Sprintf("%x", leafHash)))
	if err != nil {
		return ctlogerr.Transient(err, "store: delete pending %x", leafHash)
	}
	return nil
}

// EventType distinguishes the three kinds of change Watch can observe.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
)

// Event is a single observed change under a watched prefix.
type Event struct {
	Type  EventType
	Key   string
	Value []byte
}

// Watch returns a channel of change events for everything under prefix,
// starting from the current revision. The channel is closed when ctx is
// cancelled.
func (s *Store) Watch(ctx context.Context, prefix string) <-chan Event {
	out := make(chan Event)
	wch := s.client.Watch(ctx, s.key(prefix), clientv3.WithPrefix())
	go func() {
		defer close(out)
		for resp := range wch {
			for _, ev := range resp.Events {
				e := Event{Key: string(ev.Kv.Key), Value: ev.Kv.Value}
				switch {
				case ev.Type == clientv3.EventTypeDelete:
					e.Type = EventDeleted
				case ev.IsCreate():
					e.Type = EventCreated
				default:
					e.Type = EventModified
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
