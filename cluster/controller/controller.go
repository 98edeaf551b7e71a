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

// Package controller runs on every node: it publishes this node's own
// replication progress, reads every peer's, and elects the STH that a
// quorum of nodes can durably serve.
package controller

import (
	"context"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/golang/glog"

	"github.com/openctlog/ctlog/clock"
	"github.com/openctlog/ctlog/cluster/store"
	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/types"
)

// Controller is the Cluster State Controller: it runs continuously on
// every node, independent of leadership.
type Controller struct {
	nodeID   string
	store    *store.Store
	entries  storage.EntryStorage
	client   *clientv3.Client
	leaseTTL int
	clock    clock.TimeSource

	leaseMu sync.Mutex
	leaseID clientv3.LeaseID
}

// New returns a Controller publishing heartbeats for nodeID.
func New(nodeID string, s *store.Store, entries storage.EntryStorage, client *clientv3.Client, leaseTTL int, ts clock.TimeSource) *Controller {
	return &Controller{nodeID: nodeID, store: s, entries: entries, client: client, leaseTTL: leaseTTL, clock: ts}
}

// Close revokes this node's heartbeat lease immediately, so peers stop
// counting it toward quorum as soon as the process exits rather than
// waiting out the lease TTL.
func (c *Controller) Close(ctx context.Context) error {
	c.leaseMu.Lock()
	leaseID := c.leaseID
	c.leaseID = 0
	c.leaseMu.Unlock()
	if leaseID == 0 {
		return nil
	}
	_, err := c.client.Revoke(ctx, leaseID)
	return err
}

// RunOnce performs a single control iteration: publish own state, read
// all peer states, elect and publish a new serving STH if the election
// produces a larger tree_size than currently served.
func (c *Controller) RunOnce(ctx context.Context) error {
	if err := c.publishOwnState(ctx); err != nil {
		return err
	}

	peers, err := c.store.GetClusterNodeStates(ctx)
	if err != nil {
		return err
	}
	cfg, err := c.store.GetClusterConfig(ctx)
	if err != nil {
		return err
	}
	if cfg == nil {
		glog.V(1).Infof("controller: no cluster config published yet, skipping election")
		return nil
	}

	elected := electServingSTH(peers, *cfg, c.clock.Now())
	if elected == nil {
		return nil
	}

	cur, err := c.store.GetServingSTH(ctx)
	if err != nil {
		return err
	}
	if cur != nil {
		var curRoot, newRoot types.LogRootV1
		if err := curRoot.UnmarshalBinary(cur.LogRoot); err == nil {
			if err := newRoot.UnmarshalBinary(elected.LogRoot); err == nil && newRoot.TreeSize <= curRoot.TreeSize {
				return nil // no progress to publish
			}
		}
	}
	if err := c.store.SetServingSTH(ctx, elected); err != nil {
		return err
	}
	glog.Infof("controller: elected new serving sth")
	return nil
}

func (c *Controller) publishOwnState(ctx context.Context) error {
	contiguous, err := c.entries.LatestContiguousSequence(ctx)
	if err != nil {
		return err
	}
	sth, err := c.entries.LatestTreeHead(ctx)
	if err != nil {
		return err
	}
	leaseID, err := c.ensureLease(ctx)
	if err != nil {
		return err
	}
	state := types.NodeState{
		NodeID:             c.nodeID,
		NewestSTH:          sth,
		ContiguousTreeSize: contiguous,
		UpdatedAt:          c.clock.Now(),
	}
	return c.store.SetClusterNodeState(ctx, leaseID, state)
}

// ensureLease grants this node's heartbeat lease at most once and keeps
// it alive via etcd's own keepalive stream, rather than granting (and
// leaking) a fresh lease on every RunOnce tick. If the keepalive stream
// closes -- the lease expired or the connection dropped -- the next
// publishOwnState call grants a new one.
func (c *Controller) ensureLease(ctx context.Context) (clientv3.LeaseID, error) {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()
	if c.leaseID != 0 {
		return c.leaseID, nil
	}
	lease, err := c.client.Grant(ctx, int64(c.leaseTTL))
	if err != nil {
		return 0, err
	}
	ch, err := c.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return 0, err
	}
	c.leaseID = lease.ID
	go c.drainKeepAlive(lease.ID, ch)
	return c.leaseID, nil
}

// drainKeepAlive consumes etcd's keepalive responses for leaseID until
// the stream closes. The client library sends the actual keepalive
// requests on its own schedule; this goroutine only has to keep the
// response channel from blocking that machinery.
func (c *Controller) drainKeepAlive(leaseID clientv3.LeaseID, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for range ch {
	}
	glog.Warningf("controller: %s: lease %x keepalive stream closed, will re-grant on next heartbeat", c.nodeID, leaseID)
	c.leaseMu.Lock()
	if c.leaseID == leaseID {
		c.leaseID = 0
	}
	c.leaseMu.Unlock()
}

// electServingSTH computes the largest tree_size STH such that at least
// quorum nodes report contiguous_tree_size >= tree_size and the STH's
// own timestamp is within the freshness window of now, per spec.md §4.7
// step 3. It returns nil if no candidate STH satisfies both conditions.
func electServingSTH(peers []types.NodeState, cfg types.ClusterConfig, now time.Time) *types.SignedLogRoot {
	type candidate struct {
		sth  *types.SignedLogRoot
		root types.LogRootV1
	}
	var candidates []candidate
	for _, p := range peers {
		if p.NewestSTH == nil {
			continue
		}
		var root types.LogRootV1
		if err := root.UnmarshalBinary(p.NewestSTH.LogRoot); err != nil {
			continue
		}
		ts := time.Unix(0, int64(root.TimestampNanos))
		if now.Sub(ts) > cfg.ServingFreshness {
			continue
		}
		candidates = append(candidates, candidate{sth: p.NewestSTH, root: root})
	}

	var best *candidate
	for i := range candidates {
		cand := &candidates[i]
		count := 0
		for _, p := range peers {
			if p.ContiguousTreeSize >= cand.root.TreeSize {
				count++
			}
		}
		if count < cfg.Quorum {
			continue
		}
		if best == nil || cand.root.TreeSize > best.root.TreeSize {
			best = cand
		}
	}
	if best == nil {
		return nil
	}
	return best.sth
}
